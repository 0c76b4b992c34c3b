package pipeline

import (
	"context"
	"fmt"

	"github.com/glizzus/opuskit/internal/datalayer"
	"github.com/glizzus/opuskit/internal/opus"
)

// RemuxJob rewrites an Ogg-Opus input in the length-prefixed frame format
// without touching the codec.
type RemuxJob struct {
	Input   string
	Output  string
	Storage datalayer.MediaStorage

	in      datalayer.Object
	counter *countingReader
	out     datalayer.Output
	outLoc  datalayer.Locator
	remuxer *opus.Remuxer
}

func NewRemuxJob(input, output string, storage datalayer.MediaStorage) *RemuxJob {
	return &RemuxJob{Input: input, Output: output, Storage: storage}
}

func (j *RemuxJob) Open(ctx context.Context) error {
	inLoc, err := datalayer.ParseLocator(j.Input)
	if err != nil {
		return newError(KindInputNotFound, err)
	}
	in, err := j.Storage.Open(ctx, inLoc)
	if err != nil {
		return newError(KindInputNotFound, fmt.Errorf("opening %s: %w", inLoc, err))
	}
	j.in = in
	j.counter = &countingReader{r: in}

	outLoc, err := datalayer.ParseLocator(j.Output)
	if err != nil {
		return newError(KindOutputWriteFailure, err)
	}
	out, err := j.Storage.Create(ctx, outLoc)
	if err != nil {
		return newError(KindOutputWriteFailure, fmt.Errorf("creating %s: %w", outLoc, err))
	}
	j.out, j.outLoc = out, outLoc
	j.remuxer = opus.NewRemuxer(j.counter, out)
	return nil
}

func (j *RemuxJob) Step(context.Context) (bool, error) {
	done, err := j.remuxer.Step()
	if err != nil {
		return false, newError(KindCorruptStream, err)
	}
	return done, nil
}

func (j *RemuxJob) Drain(ctx context.Context) (Result, error) {
	info := j.remuxer.Info()
	samples := max(j.remuxer.Granule()-int64(info.PreSkip), 0)
	res := Result{
		OutputPath: j.outLoc.String(),
		DurationMs: int32(j.remuxer.Duration()),
		Samples:    samples,
		SampleRate: opus.GranuleRate,
		Channels:   info.Channels,
		PreSkip:    info.PreSkip,
	}
	if err := j.out.Commit(ctx); err != nil {
		return Result{}, newError(KindOutputWriteFailure, err)
	}
	j.out = nil
	j.release()
	return res, nil
}

func (j *RemuxJob) Abort(ctx context.Context, keepPartial bool) (string, error) {
	var kept string
	var err error
	if j.out != nil {
		kept, err = j.out.Abort(ctx, keepPartial)
		j.out = nil
	}
	j.release()
	return kept, err
}

func (j *RemuxJob) Progress() (int64, int64) {
	if j.counter == nil || j.remuxer == nil {
		return 0, 0
	}
	return j.counter.Count(), j.remuxer.Granule()
}

func (j *RemuxJob) release() {
	if j.in != nil {
		j.in.Close()
		j.in = nil
	}
}

var _ Job = (*RemuxJob)(nil)
