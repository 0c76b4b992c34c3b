package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job has finished one way or another.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobRecord is the history of one transcode job.
type JobRecord struct {
	ID         string
	Kind       string
	Input      string
	Output     string
	Status     JobStatus
	DurationMs int32
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobOutcome is what Finish records.
type JobOutcome struct {
	Status     JobStatus
	Output     string
	DurationMs int32
	Error      string
}

type JobRepository interface {
	// Save inserts the job or updates its status and locations.
	Save(ctx context.Context, job JobRecord) error
	// Finish records a terminal outcome. Finishing a finished job is an
	// error.
	Finish(ctx context.Context, id string, outcome JobOutcome) error
	Get(ctx context.Context, id string) (JobRecord, error)
	// List returns the newest jobs first.
	List(ctx context.Context, limit int) ([]JobRecord, error)
}

type PostgresJobRepository struct {
	db *pgxpool.Pool
}

func NewPostgresJobRepository(db *pgxpool.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

func JobToRowParams(job JobRecord) []any {
	status := job.Status
	if status == "" {
		status = StatusQueued
	}
	return []any{
		job.ID,
		job.Kind,
		job.Input,
		job.Output,
		string(status),
	}
}

func (r *PostgresJobRepository) Save(ctx context.Context, job JobRecord) error {
	const query = `
	INSERT INTO transcode_job (id, kind, input, output, status)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		input = EXCLUDED.input,
		output = EXCLUDED.output,
		status = EXCLUDED.status,
		updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, JobToRowParams(job)...); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (r *PostgresJobRepository) Finish(ctx context.Context, id string, outcome JobOutcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", outcome.Status)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("Failed to rollback transaction", slog.Any("error", err))
		}
	}()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM transcode_job WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock job %s: %w", id, err)
	}
	if JobStatus(current).Terminal() {
		return fmt.Errorf("job %s already %s", id, current)
	}

	const finishQuery = `
	UPDATE transcode_job
	SET status = $2,
		output = CASE WHEN $3::text = '' THEN output ELSE $3::text END,
		duration_ms = $4,
		error = $5,
		updated_at = now()
	WHERE id = $1
	`
	if _, err := tx.Exec(ctx, finishQuery, id, string(outcome.Status), outcome.Output, outcome.DurationMs, outcome.Error); err != nil {
		return fmt.Errorf("failed to finish job %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const jobColumns = `id, kind, input, output, status, duration_ms, error, created_at, updated_at`

func scanJob(row pgx.Row) (JobRecord, error) {
	var job JobRecord
	var status string
	err := row.Scan(&job.ID, &job.Kind, &job.Input, &job.Output, &status,
		&job.DurationMs, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	job.Status = JobStatus(status)
	return job, err
}

func (r *PostgresJobRepository) Get(ctx context.Context, id string) (JobRecord, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcode_job WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return JobRecord{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobRepository) List(ctx context.Context, limit int) ([]JobRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+jobColumns+` FROM transcode_job ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []JobRecord{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

var _ JobRepository = (*PostgresJobRepository)(nil)

// MemoryJobRepository keeps job history in memory, for dry runs.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]JobRecord
	now  func() time.Time
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: map[string]JobRecord{}, now: time.Now}
}

func (r *MemoryJobRepository) Save(_ context.Context, job JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if existing, ok := r.jobs[job.ID]; ok {
		existing.Input = job.Input
		existing.Output = job.Output
		existing.Status = job.Status
		existing.UpdatedAt = now
		r.jobs[job.ID] = existing
		return nil
	}
	job.CreatedAt, job.UpdatedAt = now, now
	r.jobs[job.ID] = job
	return nil
}

func (r *MemoryJobRepository) Finish(_ context.Context, id string, outcome JobOutcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", outcome.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", id, job.Status)
	}
	job.Status = outcome.Status
	if outcome.Output != "" {
		job.Output = outcome.Output
	}
	job.DurationMs = outcome.DurationMs
	job.Error = outcome.Error
	job.UpdatedAt = r.now()
	r.jobs[id] = job
	return nil
}

func (r *MemoryJobRepository) Get(_ context.Context, id string) (JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return JobRecord{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

func (r *MemoryJobRepository) List(_ context.Context, limit int) ([]JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]JobRecord, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b JobRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if limit >= 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

var _ JobRepository = (*MemoryJobRepository)(nil)
