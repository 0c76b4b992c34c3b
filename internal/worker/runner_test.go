package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/opuskit/internal/repository"
	"github.com/glizzus/opuskit/internal/worker"
	"github.com/glizzus/opuskit/pkg/opuskit"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// fakeRun finishes with res and err, or with a cancellation once Cancel is
// called when block is set.
type fakeRun struct {
	res   opuskit.Result
	err   error
	block bool

	once      sync.Once
	cancelled chan struct{}
	done      chan struct{}
	outRes    opuskit.Result
	outErr    error
}

func newFakeRun(res opuskit.Result, err error, block bool) *fakeRun {
	return &fakeRun{res: res, err: err, block: block, cancelled: make(chan struct{}), done: make(chan struct{})}
}

func (f *fakeRun) Start(_ context.Context, onComplete func(opuskit.Result, error)) error {
	go func() {
		defer close(f.done)
		if f.block {
			<-f.cancelled
			f.outErr = &opuskit.Error{Kind: opuskit.KindCancelled}
		} else {
			f.outRes, f.outErr = f.res, f.err
		}
		if onComplete != nil {
			onComplete(f.outRes, f.outErr)
		}
	}()
	return nil
}

func (f *fakeRun) Cancel() { f.once.Do(func() { close(f.cancelled) }) }

func (f *fakeRun) Wait() (opuskit.Result, error) {
	<-f.done
	return f.outRes, f.outErr
}

func TestRunnerRecordsOutcomes(t *testing.T) {
	ctx := t.Context()
	repo := repository.NewMemoryJobRepository()
	cancels := worker.NewMemoryCancelList()
	if err := cancels.Cancel(ctx, "skipped"); err != nil {
		t.Fatal(err)
	}

	runs := map[string]*fakeRun{
		"ok":     newFakeRun(opuskit.Result{OutputPath: "out/ok.opus", DurationMs: 1500}, nil, false),
		"broken": newFakeRun(opuskit.Result{}, &opuskit.Error{Kind: opuskit.KindCorruptHeader, Err: errors.New("bad OpusHead")}, false),
	}
	var mu sync.Mutex
	started := map[string]bool{}

	runner := &worker.Runner{
		Jobs:        repo,
		Cancels:     cancels,
		Concurrency: 2,
		NewRun: func(job worker.TranscodeJob, _ ...opuskit.Option) (worker.Run, error) {
			mu.Lock()
			defer mu.Unlock()
			started[job.ID] = true
			return runs[job.ID], nil
		},
	}

	jobs := []worker.TranscodeJob{
		{ID: "ok", Kind: worker.KindEncode, Input: "in.wav"},
		{ID: "broken", Kind: worker.KindDecode, Input: "in.opus", Output: "out.wav"},
		{ID: "skipped", Kind: worker.KindRemux, Input: "in.opus", Output: "out.frames"},
	}
	if err := runner.Run(ctx, jobs...); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if started["skipped"] {
		t.Error("cancelled job was started")
	}

	got, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []repository.JobRecord{
		{ID: "broken", Kind: "decode", Input: "in.opus", Output: "out.wav", Status: repository.StatusFailed, Error: "corrupt header while idle: bad OpusHead"},
		{ID: "ok", Kind: "encode", Input: "in.wav", Output: "out/ok.opus", Status: repository.StatusCompleted, DurationMs: 1500},
		{ID: "skipped", Kind: "remux", Input: "in.opus", Output: "out.frames", Status: repository.StatusCancelled},
	}
	opts := []cmp.Option{
		cmpopts.IgnoreFields(repository.JobRecord{}, "CreatedAt", "UpdatedAt"),
		cmpopts.SortSlices(func(a, b repository.JobRecord) bool { return a.ID < b.ID }),
	}
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("job history mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerPollsCancellation(t *testing.T) {
	ctx := t.Context()
	repo := repository.NewMemoryJobRepository()
	cancels := worker.NewMemoryCancelList()
	run := newFakeRun(opuskit.Result{}, nil, true)

	runner := &worker.Runner{
		Jobs:         repo,
		Cancels:      cancels,
		PollInterval: 10 * time.Millisecond,
		NewRun: func(worker.TranscodeJob, ...opuskit.Option) (worker.Run, error) {
			return run, nil
		},
	}

	errs := make(chan error, 1)
	go func() {
		errs <- runner.Run(ctx, worker.TranscodeJob{ID: "long", Kind: worker.KindEncode, Input: "in.flac"})
	}()

	time.Sleep(30 * time.Millisecond)
	if err := cancels.Cancel(ctx, "long"); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not notice the cancellation")
	}

	job, err := repo.Get(ctx, "long")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != repository.StatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

func TestParseJobKind(t *testing.T) {
	tests := []struct {
		in      string
		want    worker.JobKind
		wantErr bool
	}{
		{in: "decode", want: worker.KindDecode},
		{in: "ENCODE", want: worker.KindEncode},
		{in: "remux", want: worker.KindRemux},
		{in: "transcode", wantErr: true},
	}
	for _, tt := range tests {
		got, err := worker.ParseJobKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseJobKind(%q) = %q, %v", tt.in, got, err)
		}
	}
}
