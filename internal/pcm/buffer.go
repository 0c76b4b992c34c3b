package pcm

import "io"

// Buffer keeps samples in memory. It is both a Sink and a Source.
type Buffer struct {
	format  Format
	samples []int16
	pos     int
	closed  bool
}

func NewBuffer(format Format, samples []int16) *Buffer {
	return &Buffer{format: format, samples: samples}
}

func (b *Buffer) Format() Format { return b.format }

// Samples returns everything written so far.
func (b *Buffer) Samples() []int16 { return b.samples }

func (b *Buffer) TotalSamples() int64 {
	return int64(len(b.samples) / b.format.Channels)
}

func (b *Buffer) WriteFrame(f Frame) error {
	if f.Channels != b.format.Channels {
		return ErrUnsupportedFormat
	}
	b.samples = append(b.samples, f.Samples...)
	return nil
}

func (b *Buffer) ReadSamples(buf []int16) (int, error) {
	if b.pos >= len(b.samples) {
		return 0, io.EOF
	}
	n := len(buf) - len(buf)%b.format.Channels
	n = copy(buf[:n], b.samples[b.pos:])
	b.pos += n
	return n, nil
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool { return b.closed }

func (b *Buffer) Close() error {
	b.closed = true
	return nil
}

var (
	_ Source = (*Buffer)(nil)
	_ Sink   = (*Buffer)(nil)
)
