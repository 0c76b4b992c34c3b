package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/glizzus/opuskit/internal/datalayer"
	"github.com/glizzus/opuskit/internal/repository"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := t.Context()
	postgresContainer, err := postgres.Run(
		ctx,
		"postgres",
		postgres.WithDatabase("opuskit"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgresContainer.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := datalayer.MigratePostgres(pool); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}
	if version, err := datalayer.SchemaVersion(pool); err != nil || version != 1 {
		t.Fatalf("SchemaVersion() = %d, %v, want 1", version, err)
	}
	return pool
}

func TestJobRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker for postgres")
	}
	repos := map[string]repository.JobRepository{
		"memory":   repository.NewMemoryJobRepository(),
		"postgres": repository.NewPostgresJobRepository(startPostgres(t)),
	}
	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			testJobRepository(t, repo)
		})
	}
}

func TestMemoryJobRepository(t *testing.T) {
	testJobRepository(t, repository.NewMemoryJobRepository())
}

func testJobRepository(t *testing.T, repo repository.JobRepository) {
	ctx := t.Context()
	id := "e281f5c0-c05f-423d-9add-c0ffee084f27"

	if err := repo.Save(ctx, repository.JobRecord{
		ID:    id,
		Kind:  "encode",
		Input: "s3://media/in.wav",
	}); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}

	ignoreTimes := cmpopts.IgnoreFields(repository.JobRecord{}, "CreatedAt", "UpdatedAt")

	t.Run("A saved job should be queued", func(t *testing.T) {
		got, err := repo.Get(ctx, id)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		want := repository.JobRecord{ID: id, Kind: "encode", Input: "s3://media/in.wav", Status: repository.StatusQueued}
		if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
			t.Errorf("job mismatch (-want +got):\n%s", diff)
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt was not set")
		}
	})

	t.Run("Finishing a job should record its outcome", func(t *testing.T) {
		if err := repo.Save(ctx, repository.JobRecord{ID: id, Kind: "encode", Input: "s3://media/in.wav", Status: repository.StatusRunning}); err != nil {
			t.Fatalf("failed to mark job running: %v", err)
		}
		if err := repo.Finish(ctx, id, repository.JobOutcome{
			Status:     repository.StatusCompleted,
			Output:     "s3://media/out.opus",
			DurationMs: 1000,
		}); err != nil {
			t.Fatalf("failed to finish job: %v", err)
		}
		got, err := repo.Get(ctx, id)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		want := repository.JobRecord{
			ID:         id,
			Kind:       "encode",
			Input:      "s3://media/in.wav",
			Output:     "s3://media/out.opus",
			Status:     repository.StatusCompleted,
			DurationMs: 1000,
		}
		if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
			t.Errorf("job mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("A finished job cannot be finished again", func(t *testing.T) {
		err := repo.Finish(ctx, id, repository.JobOutcome{Status: repository.StatusFailed, Error: "late"})
		if err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("Unknown jobs are not found", func(t *testing.T) {
		_, err := repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, repository.ErrJobNotFound) {
			t.Errorf("Get() error = %v, want ErrJobNotFound", err)
		}
		err = repo.Finish(ctx, "00000000-0000-0000-0000-000000000000", repository.JobOutcome{Status: repository.StatusFailed})
		if !errors.Is(err, repository.ErrJobNotFound) {
			t.Errorf("Finish() error = %v, want ErrJobNotFound", err)
		}
	})

	t.Run("List should return saved jobs", func(t *testing.T) {
		second := "5d0c2a8e-8a4b-4b7e-9f0c-5e1b7f9f3a11"
		if err := repo.Save(ctx, repository.JobRecord{ID: second, Kind: "decode", Input: "in.opus", Output: "out.wav"}); err != nil {
			t.Fatalf("failed to save job: %v", err)
		}
		jobs, err := repo.List(ctx, 10)
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(jobs) != 2 {
			t.Fatalf("got %d jobs, want 2", len(jobs))
		}
		limited, err := repo.List(ctx, 1)
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("got %d jobs with limit 1", len(limited))
		}
	})
}
