package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/glizzus/opuskit/internal/datalayer"
	"github.com/glizzus/opuskit/internal/generator"
	"github.com/glizzus/opuskit/internal/ogg"
	"github.com/glizzus/opuskit/internal/opus"
	"github.com/glizzus/opuskit/internal/pcm"
)

// ContainerWriter receives encoded packets and finalizes the container.
type ContainerWriter interface {
	WritePacket(opus.Packet) error
	// Close finalizes the stream and returns its duration in milliseconds.
	Close() (int64, error)
}

var (
	_ ContainerWriter = (*ogg.OpusWriter)(nil)
	_ ContainerWriter = (*opus.FrameWriter)(nil)
)

// EncodeJob encodes any supported audio input into Ogg-Opus, or into the
// length-prefixed frame format when the output ends in .frames.
type EncodeJob struct {
	Input string
	// Output is where the stream is written. When empty, a name is taken
	// from Names.
	Output  string
	Names   generator.Generator[string]
	Storage datalayer.MediaStorage
	Config  opus.EncoderConfig
	PCM     pcm.OpenOptions

	in      datalayer.Object
	counter *countingReader
	src     pcm.Source
	framer  *pcm.Framer
	enc     *opus.Encoder
	out     datalayer.Output
	outLoc  datalayer.Locator
	writer  ContainerWriter
	samples int64

	// tail is the final partial frame, kept for Drain to flush.
	tail      pcm.Frame
	exhausted bool
}

func NewEncodeJob(input, output string, storage datalayer.MediaStorage, cfg opus.EncoderConfig) *EncodeJob {
	return &EncodeJob{
		Input:   input,
		Output:  output,
		Names:   &generator.OutputPathGenerator{Ext: ".opus"},
		Storage: storage,
		Config:  cfg,
		PCM:     pcm.DefaultOpenOptions(),
	}
}

// encoderFormat is the closest format libopus accepts natively.
func encoderFormat(f pcm.Format) pcm.Format {
	out := pcm.Format{SampleRate: f.SampleRate, Channels: min(f.Channels, 2)}
	if !opus.IsCodecRate(out.SampleRate) {
		out.SampleRate = opus.GranuleRate
	}
	return out
}

func (j *EncodeJob) Open(ctx context.Context) error {
	if err := j.Config.Validate(); err != nil {
		return err
	}
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

	src, _, err := pcm.Open(ctx, j.counter, inLoc.Name(), j.PCM)
	if err != nil {
		if errors.Is(err, pcm.ErrUnsupportedFormat) {
			return newError(KindUnsupportedContainer, err)
		}
		return newError(KindCorruptHeader, err)
	}
	j.src = src
	original := src.Format()

	converted, err := pcm.Convert(src, encoderFormat(original))
	if err != nil {
		return newError(KindUnsupportedConfig, err)
	}
	j.src = converted
	format := converted.Format()

	enc, err := opus.NewEncoder(opus.StreamInfo{SampleRate: format.SampleRate, Channels: format.Channels}, j.Config)
	if err != nil {
		return err
	}
	j.enc = enc

	// The header records the rate the audio arrived at, not the one it was
	// encoded at.
	info := enc.Info()
	info.SampleRate = original.SampleRate

	if err := j.createOutput(ctx); err != nil {
		return err
	}
	if isFrames(j.outLoc.Name()) {
		j.writer = opus.NewFrameWriter(j.out, info)
	} else {
		w, err := ogg.NewOpusWriter(j.out, info, ogg.WithComments("ENCODER="+ogg.Vendor))
		if err != nil {
			return newError(KindOutputWriteFailure, err)
		}
		j.writer = w
	}
	j.framer = pcm.NewFramer(j.src, enc.FrameSize())
	return nil
}

func (j *EncodeJob) createOutput(ctx context.Context) error {
	output := j.Output
	if output == "" {
		if j.Names == nil {
			return newError(KindOutputWriteFailure, errors.New("no output and no name generator"))
		}
		name, err := j.Names.Next()
		if err != nil {
			return newError(KindOutputWriteFailure, fmt.Errorf("generating output name: %w", err))
		}
		output = name
	}
	loc, err := datalayer.ParseLocator(output)
	if err != nil {
		return newError(KindOutputWriteFailure, err)
	}
	out, err := j.Storage.Create(ctx, loc)
	if err != nil {
		return newError(KindOutputWriteFailure, fmt.Errorf("creating %s: %w", loc, err))
	}
	j.out, j.outLoc = out, loc
	return nil
}

func (j *EncodeJob) Step(context.Context) (bool, error) {
	frame, err := j.framer.Next()
	if errors.Is(err, io.EOF) {
		// The framer is done with its buffer, so the tail stays valid
		// until Drain flushes it.
		j.tail = frame
		j.exhausted = true
		return true, nil
	}
	if errors.Is(err, pcm.ErrUnsupportedFormat) {
		return false, newError(KindUnsupportedContainer, err)
	}
	if err != nil {
		return false, newError(KindCorruptStream, err)
	}
	p, err := j.enc.Encode(frame)
	if err != nil {
		return false, err
	}
	return false, j.write(p)
}

func (j *EncodeJob) write(p opus.Packet) error {
	if err := j.writer.WritePacket(p); err != nil {
		return newError(KindOutputWriteFailure, err)
	}
	j.samples = j.enc.Samples()
	return nil
}

func (j *EncodeJob) Drain(ctx context.Context) (Result, error) {
	if !j.exhausted {
		return Result{}, newError(KindEncodeFailure, errors.New("drained before the input ran out"))
	}
	packets, err := j.enc.Flush(j.tail)
	if err != nil {
		return Result{}, err
	}
	for _, p := range packets {
		if err := j.write(p); err != nil {
			return Result{}, err
		}
	}
	duration, err := j.writer.Close()
	j.writer = nil
	if err != nil {
		return Result{}, newError(KindOutputWriteFailure, err)
	}
	format := j.src.Format()
	res := Result{
		OutputPath: j.outLoc.String(),
		DurationMs: int32(duration),
		Samples:    j.enc.Samples(),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		PreSkip:    j.enc.PreSkip(),
	}
	if err := j.out.Commit(ctx); err != nil {
		return Result{}, newError(KindOutputWriteFailure, err)
	}
	j.out = nil
	j.release()
	return res, nil
}

func (j *EncodeJob) Abort(ctx context.Context, keepPartial bool) (string, error) {
	if j.writer != nil {
		if keepPartial {
			j.writer.Close()
		}
		j.writer = nil
	}
	var kept string
	var err error
	if j.out != nil {
		kept, err = j.out.Abort(ctx, keepPartial)
		j.out = nil
	}
	j.release()
	return kept, err
}

func (j *EncodeJob) Progress() (int64, int64) {
	if j.counter == nil {
		return 0, j.samples
	}
	return j.counter.Count(), j.samples
}

func (j *EncodeJob) release() {
	if j.enc != nil {
		j.enc.Close()
		j.enc = nil
	}
	if j.src != nil {
		j.src.Close()
		j.src = nil
	}
	if j.in != nil {
		j.in.Close()
		j.in = nil
	}
}

var _ Job = (*EncodeJob)(nil)
