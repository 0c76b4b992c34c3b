package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/glizzus/opuskit/internal/datalayer"
	"github.com/glizzus/opuskit/internal/ogg"
	"github.com/glizzus/opuskit/internal/opus"
	"github.com/glizzus/opuskit/internal/pcm"
)

// PacketSource delivers the packets of one Opus stream.
type PacketSource interface {
	Info() opus.StreamInfo
	NextPacket() (opus.Packet, error)
}

var (
	_ PacketSource = (*ogg.OpusReader)(nil)
	_ PacketSource = (*opus.FrameReader)(nil)
)

// DefaultFramesInfo describes .frames inputs, which carry no header.
var DefaultFramesInfo = opus.StreamInfo{SampleRate: opus.GranuleRate, Channels: 2}

// DecodeJob decodes an Ogg-Opus (or .frames) input into PCM. The sink is
// picked by the output extension: WAV for .wav, raw s16le otherwise.
type DecodeJob struct {
	Input   string
	Output  string
	Storage datalayer.MediaStorage
	// FramesInfo describes .frames inputs. Zero means DefaultFramesInfo.
	FramesInfo opus.StreamInfo

	in      datalayer.Object
	counter *countingReader
	packets PacketSource
	dec     *opus.Decoder
	out     datalayer.Output
	outLoc  datalayer.Locator
	sink    pcm.Sink
	samples int64
}

func NewDecodeJob(input, output string, storage datalayer.MediaStorage) *DecodeJob {
	return &DecodeJob{Input: input, Output: output, Storage: storage}
}

func (j *DecodeJob) Open(ctx context.Context) error {
	inLoc, err := datalayer.ParseLocator(j.Input)
	if err != nil {
		return newError(KindInputNotFound, err)
	}
	in, err := j.Storage.Open(ctx, inLoc)
	if err != nil {
		if errors.Is(err, datalayer.ErrNotFound) || errors.Is(err, datalayer.ErrInvalidLocator) {
			return newError(KindInputNotFound, err)
		}
		return newError(KindInputNotFound, fmt.Errorf("opening %s: %w", inLoc, err))
	}
	j.in = in
	j.counter = &countingReader{r: in}

	if isFrames(inLoc.Name()) {
		info := j.FramesInfo
		if info == (opus.StreamInfo{}) {
			info = DefaultFramesInfo
		}
		j.packets = opus.NewFrameReader(j.counter, info)
	} else {
		reader, err := ogg.NewOpusReader(j.counter)
		if err != nil {
			return err
		}
		j.packets = reader
	}

	dec, err := opus.NewDecoder(j.packets.Info())
	if err != nil {
		return err
	}
	j.dec = dec

	outLoc, err := datalayer.ParseLocator(j.Output)
	if err != nil {
		return newError(KindOutputWriteFailure, err)
	}
	out, err := j.Storage.Create(ctx, outLoc)
	if err != nil {
		return newError(KindOutputWriteFailure, fmt.Errorf("creating %s: %w", outLoc, err))
	}
	j.out, j.outLoc = out, outLoc

	sink, err := pcm.NewSink(out, outLoc.Name(), dec.Format())
	if err != nil {
		return newError(KindOutputWriteFailure, err)
	}
	j.sink = sink
	return nil
}

func (j *DecodeJob) Step(context.Context) (bool, error) {
	pkt, err := j.packets.NextPacket()
	var loss *ogg.LossError
	switch {
	case errors.Is(err, io.EOF):
		return true, nil
	case errors.As(err, &loss):
		return false, j.conceal(err, loss.Samples)
	case errors.Is(err, ogg.ErrCorruptStream), errors.Is(err, opus.ErrInvalidPacket):
		return false, j.conceal(err, -1)
	case err != nil:
		return false, newError(KindCorruptStream, err)
	}
	frame, err := j.dec.Decode(pkt)
	if err != nil {
		return false, err
	}
	return false, j.write(frame)
}

// conceal fills a gap of the given length in 48 kHz samples, one packet
// duration per frame. An unknown gap gets a single frame. Every frame
// counts towards the decoder's limit on consecutive concealment.
func (j *DecodeJob) conceal(cause error, gap int64) error {
	positions := int64(1)
	if gap >= 0 {
		step := max(j.dec.PacketGranules(), 1)
		positions = (gap + step - 1) / step
	}
	for range positions {
		frame, err := j.dec.Conceal(cause)
		if err != nil {
			return err
		}
		if err := j.write(frame); err != nil {
			return err
		}
	}
	return nil
}

func (j *DecodeJob) write(frame pcm.Frame) error {
	n := frame.SampleCount()
	if n == 0 {
		return nil
	}
	if err := j.sink.WriteFrame(frame); err != nil {
		return newError(KindOutputWriteFailure, err)
	}
	j.samples += int64(n)
	return nil
}

func (j *DecodeJob) Drain(ctx context.Context) (Result, error) {
	format := j.dec.Format()
	res := Result{
		OutputPath: j.outLoc.String(),
		DurationMs: durationMs(j.samples, format.SampleRate),
		Samples:    j.samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		PreSkip:    j.packets.Info().PreSkip,
		Concealed:  j.dec.Concealed(),
	}

	err := j.sink.Close()
	j.sink = nil
	if err != nil {
		return Result{}, newError(KindOutputWriteFailure, err)
	}
	if err := j.out.Commit(ctx); err != nil {
		return Result{}, newError(KindOutputWriteFailure, err)
	}
	j.out = nil
	j.release()
	return res, nil
}

func (j *DecodeJob) Abort(ctx context.Context, keepPartial bool) (string, error) {
	if j.sink != nil {
		j.sink.Close()
		j.sink = nil
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

func (j *DecodeJob) Progress() (int64, int64) {
	switch {
	case j.packets != nil:
		// The Ogg reader's own count leaves out its look at the stream tail.
		if br, ok := j.packets.(interface{ BytesRead() int64 }); ok {
			return br.BytesRead(), j.samples
		}
		return j.counter.Count(), j.samples
	case j.counter != nil:
		return j.counter.Count(), j.samples
	}
	return 0, j.samples
}

func (j *DecodeJob) release() {
	if j.dec != nil {
		j.dec.Close()
		j.dec = nil
	}
	if j.in != nil {
		j.in.Close()
		j.in = nil
	}
}

var _ Job = (*DecodeJob)(nil)
