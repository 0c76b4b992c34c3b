package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glizzus/opuskit/internal/repository"
	"github.com/glizzus/opuskit/pkg/opuskit"
	"golang.org/x/sync/errgroup"
)

// Run is a transcode the runner can start, cancel and wait on.
type Run interface {
	Start(ctx context.Context, onComplete func(opuskit.Result, error)) error
	Cancel()
	Wait() (opuskit.Result, error)
}

// NewRun builds the opuskit run for a job.
func NewRun(job TranscodeJob, opts ...opuskit.Option) (Run, error) {
	switch job.Kind {
	case KindDecode:
		return opuskit.NewDecoder(job.Input, job.Output, opts...), nil
	case KindEncode:
		if job.Output != "" {
			opts = append(opts, opuskit.WithOutput(job.Output))
		}
		return opuskit.NewEncoder(job.Input, opts...), nil
	case KindRemux:
		return opuskit.NewRemuxer(job.Input, job.Output, opts...), nil
	}
	return nil, fmt.Errorf("unknown job kind %q", job.Kind)
}

// Runner executes jobs with bounded parallelism and records their history.
type Runner struct {
	Jobs    repository.JobRepository
	Cancels CancelList
	// Concurrency bounds how many jobs run at once.
	Concurrency int
	// PollInterval is how often a running job checks the cancel list.
	PollInterval time.Duration
	Options      []opuskit.Option
	// NewRun defaults to the package NewRun.
	NewRun func(TranscodeJob, ...opuskit.Option) (Run, error)
	Logger *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Run processes jobs and returns once all of them have finished. A failing
// job is recorded, not returned; only a failure to record history is.
func (r *Runner) Run(ctx context.Context, jobs ...TranscodeJob) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for _, job := range jobs {
		g.Go(func() error {
			return r.process(ctx, job)
		})
	}
	return g.Wait()
}

func (r *Runner) process(ctx context.Context, job TranscodeJob) error {
	logger := r.logger().With(job.LogAttrs()...)
	record := repository.JobRecord{ID: job.ID, Kind: string(job.Kind), Input: job.Input, Output: job.Output}

	cancelled, err := r.Cancels.IsCancelled(ctx, job.ID)
	if err != nil {
		return err
	}
	if cancelled {
		logger.InfoContext(ctx, "Skipping cancelled job")
		return r.finish(ctx, record, repository.JobOutcome{Status: repository.StatusCancelled})
	}

	record.Status = repository.StatusRunning
	if err := r.Jobs.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to record job start: %w", err)
	}

	newRun := r.NewRun
	if newRun == nil {
		newRun = NewRun
	}
	run, err := newRun(job, append(r.Options, opuskit.WithLogger(logger))...)
	if err != nil {
		return r.finish(ctx, record, repository.JobOutcome{Status: repository.StatusFailed, Error: err.Error()})
	}
	if err := run.Start(ctx, nil); err != nil {
		return r.finish(ctx, record, repository.JobOutcome{Status: repository.StatusFailed, Error: err.Error()})
	}

	stopPolling := r.pollCancellation(ctx, job, run, logger)
	res, err := run.Wait()
	stopPolling()

	outcome := repository.JobOutcome{Status: repository.StatusCompleted, Output: res.OutputPath, DurationMs: res.DurationMs}
	switch {
	case errors.Is(err, opuskit.ErrCancelled):
		outcome = repository.JobOutcome{Status: repository.StatusCancelled, Error: err.Error()}
	case err != nil:
		outcome = repository.JobOutcome{Status: repository.StatusFailed, Error: err.Error()}
	}
	return r.finish(ctx, record, outcome)
}

func (r *Runner) finish(ctx context.Context, record repository.JobRecord, outcome repository.JobOutcome) error {
	ctx = context.WithoutCancel(ctx)
	if record.Status == "" {
		record.Status = repository.StatusQueued
		if err := r.Jobs.Save(ctx, record); err != nil {
			return fmt.Errorf("failed to record job: %w", err)
		}
	}
	if err := r.Jobs.Finish(ctx, record.ID, outcome); err != nil {
		return fmt.Errorf("failed to record job outcome: %w", err)
	}
	r.logger().InfoContext(ctx, "Job finished",
		slog.String("jobID", record.ID),
		slog.String("status", string(outcome.Status)),
		slog.Int("durationMs", int(outcome.DurationMs)),
	)
	return nil
}

// pollCancellation cancels run when the job shows up on the cancel list.
func (r *Runner) pollCancellation(ctx context.Context, job TranscodeJob, run Run, logger *slog.Logger) func() {
	interval := r.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cancelled, err := r.Cancels.IsCancelled(ctx, job.ID)
				if err != nil {
					logger.WarnContext(ctx, "Failed to check cancellation", slog.Any("error", err))
					continue
				}
				if cancelled {
					logger.InfoContext(ctx, "Cancelling job")
					run.Cancel()
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
