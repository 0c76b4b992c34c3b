// Package pcm moves interleaved 16-bit linear PCM between files, memory
// and the codec.
package pcm

import (
	"errors"
	"fmt"
	"io"
)

var ErrUnsupportedFormat = errors.New("pcm: unsupported format")

// Format is the shape of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return nil
}

// Frame is a block of interleaved samples. Samples may alias a buffer the
// producer reuses, so consumers must not keep it past their next call.
type Frame struct {
	Samples   []int16
	Channels  int
	Concealed bool
}

// SampleCount is the number of samples per channel.
func (f Frame) SampleCount() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Source produces interleaved samples.
type Source interface {
	Format() Format
	// ReadSamples fills buf with whole sample frames and returns how many
	// int16 values were written. It returns io.EOF once the stream is done.
	ReadSamples(buf []int16) (int, error)
	// TotalSamples is the per-channel length, or -1 when unknown.
	TotalSamples() int64
	io.Closer
}

// Sink consumes frames.
type Sink interface {
	WriteFrame(Frame) error
	// Close flushes buffered samples and finalizes any header.
	io.Closer
}

func clampInt16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// toInt16 scales a signed sample of the given bit depth to 16 bits.
func toInt16(v int, bitDepth int) int16 {
	switch {
	case bitDepth == 16:
		return int16(v)
	case bitDepth > 16:
		return clampInt16(v >> (bitDepth - 16))
	default:
		return clampInt16(v << (16 - bitDepth))
	}
}
