// Package pipeline drives a transcoding job from opening its input to
// finalizing its output on a goroutine of its own.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one direction of transcoding, broken into the steps the driver
// sequences. Every method runs on the driver goroutine.
type Job interface {
	// Open resolves locators and acquires codec and file handles.
	Open(ctx context.Context) error
	// Step moves one unit (a packet or a frame) from input to output and
	// reports whether the input is exhausted.
	Step(ctx context.Context) (bool, error)
	// Drain flushes and finalizes the output and releases every handle.
	Drain(ctx context.Context) (Result, error)
	// Abort releases every handle and disposes of the output. It returns
	// where partial output was kept, if it was, and any failure to clean up.
	Abort(ctx context.Context, keepPartial bool) (string, error)
	// Progress returns the input bytes and output samples handled so far.
	Progress() (int64, int64)
}

// Completion receives the outcome of a pipeline exactly once.
type Completion func(Result, error)

// Driver runs a Job through Opening, Running and Draining.
type Driver struct {
	job         Job
	logger      *slog.Logger
	notify      func(func())
	keepPartial bool

	started   atomic.Bool
	phase     atomic.Int32
	bytes     atomic.Int64
	samples   atomic.Int64
	startedAt atomic.Int64

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool

	done   chan struct{}
	result Result
	err    error
}

type Option func(*Driver)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithNotifier sets where the completion runs. The default runs it on the
// pipeline goroutine.
func WithNotifier(notify func(func())) Option {
	return func(d *Driver) { d.notify = notify }
}

// WithKeepPartial keeps the output of a failed or cancelled run under a
// ".partial" suffix instead of removing it.
func WithKeepPartial(keep bool) Option {
	return func(d *Driver) { d.keepPartial = keep }
}

func NewDriver(job Job, opts ...Option) *Driver {
	d := &Driver{
		job:    job,
		logger: slog.Default(),
		notify: func(f func()) { f() },
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the pipeline and returns immediately. A driver runs once;
// calling Start again is a contract violation and leaves the first run
// alone.
func (d *Driver) Start(ctx context.Context, onComplete Completion) error {
	if !d.started.CompareAndSwap(false, true) {
		return &Error{Kind: KindContractViolation, Phase: d.Phase(), Err: ErrAlreadyStarted}
	}
	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.cancel = cancel
	if d.cancelled {
		cancel()
	}
	d.mu.Unlock()

	d.startedAt.Store(time.Now().UnixNano())
	go d.run(ctx, cancel, onComplete)
	return nil
}

// Cancel asks the pipeline to stop. It is honoured between units of work,
// so an in-flight codec call finishes first.
func (d *Driver) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = true
	if d.cancel != nil {
		d.cancel()
	}
}

// Done is closed once the pipeline reaches a terminal phase and its
// completion has been handed to the notifier.
func (d *Driver) Done() <-chan struct{} { return d.done }

// Outcome returns the result and error of a finished pipeline. It blocks
// until Done is closed.
func (d *Driver) Outcome() (Result, error) {
	<-d.done
	return d.result, d.err
}

func (d *Driver) Phase() Phase { return Phase(d.phase.Load()) }

func (d *Driver) State() State {
	s := State{
		Phase:            d.Phase(),
		BytesProcessed:   d.bytes.Load(),
		SamplesProcessed: d.samples.Load(),
	}
	if ns := d.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns)
	}
	return s
}

func (d *Driver) run(ctx context.Context, cancel context.CancelFunc, onComplete Completion) {
	defer close(d.done)
	defer cancel()

	res, err := d.execute(ctx)
	d.result, d.err = res, err

	attrs := []any{
		slog.String("phase", d.Phase().String()),
		slog.Int64("bytesProcessed", d.bytes.Load()),
		slog.Int64("samplesProcessed", d.samples.Load()),
	}
	switch {
	case err == nil:
		d.logger.InfoContext(ctx, "Pipeline completed",
			append(attrs, slog.String("output", res.OutputPath), slog.Int("durationMs", int(res.DurationMs)))...)
	case errors.Is(err, ErrCancelled):
		d.logger.InfoContext(ctx, "Pipeline cancelled", attrs...)
	default:
		d.logger.ErrorContext(ctx, "Pipeline failed", append(attrs, slog.Any("error", err))...)
	}

	if onComplete != nil {
		d.notify(func() { onComplete(res, err) })
	}
}

func (d *Driver) execute(ctx context.Context) (Result, error) {
	d.setPhase(Opening)
	if ctx.Err() != nil {
		return Result{}, d.stop(ctx, Opening, nil)
	}
	if err := d.job.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{}, d.stop(ctx, Opening, nil)
		}
		return Result{}, d.stop(ctx, Opening, classify(KindUnknown, err))
	}

	d.setPhase(Running)
	for {
		if ctx.Err() != nil {
			return Result{}, d.stop(ctx, Running, nil)
		}
		finished, err := d.job.Step(ctx)
		d.recordProgress()
		if err != nil {
			return Result{}, d.stop(ctx, Running, classify(KindUnknown, err))
		}
		if finished {
			break
		}
	}

	d.setPhase(Draining)
	if ctx.Err() != nil {
		return Result{}, d.stop(ctx, Draining, nil)
	}
	res, err := d.job.Drain(ctx)
	d.recordProgress()
	if err != nil {
		return Result{}, d.stop(ctx, Draining, classify(KindOutputWriteFailure, err))
	}
	d.setPhase(Completed)
	return res, nil
}

// stop aborts the job and builds the terminal error. A nil failure means
// the run was cancelled.
func (d *Driver) stop(ctx context.Context, phase Phase, failure *Error) error {
	partial, err := d.job.Abort(context.WithoutCancel(ctx), d.keepPartial)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to discard output", slog.Any("error", err))
	}
	if failure == nil {
		d.setPhase(Cancelled)
		return &Error{Kind: KindCancelled, Phase: phase, Err: context.Cause(ctx), PartialPath: partial}
	}
	d.setPhase(Failed)
	failure.Phase = phase
	failure.PartialPath = partial
	return failure
}

func (d *Driver) setPhase(p Phase) {
	d.phase.Store(int32(p))
	d.logger.Debug("Pipeline phase", slog.String("phase", p.String()))
}

func (d *Driver) recordProgress() {
	b, s := d.job.Progress()
	d.bytes.Store(b)
	d.samples.Store(s)
}
