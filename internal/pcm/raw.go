package pcm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// RawSource reads headerless signed 16-bit little-endian samples.
type RawSource struct {
	r      io.Reader
	format Format
	total  int64
	buf    []byte
}

// NewRawSource reads s16le samples in the given format. If r can seek,
// the total length is taken from its size.
func NewRawSource(r io.Reader, format Format) (*RawSource, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	s := &RawSource{r: r, format: format, total: -1}
	if seeker, ok := r.(io.Seeker); ok {
		cur, err := seeker.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := seeker.Seek(0, io.SeekEnd)
			if err != nil {
				return nil, err
			}
			if _, err := seeker.Seek(cur, io.SeekStart); err != nil {
				return nil, err
			}
			s.total = (end - cur) / int64(2*format.Channels)
		}
	}
	return s, nil
}

func (s *RawSource) Format() Format      { return s.format }
func (s *RawSource) TotalSamples() int64 { return s.total }
func (s *RawSource) Close() error        { return nil }

func (s *RawSource) ReadSamples(buf []int16) (int, error) {
	frameBytes := 2 * s.format.Channels
	want := (len(buf) / s.format.Channels) * frameBytes
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	n, err := io.ReadFull(s.r, s.buf[:want])
	n -= n % frameBytes
	for i := 0; i < n/2; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(s.buf[2*i:]))
	}
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			if n == 0 {
				return 0, io.EOF
			}
			return n / 2, nil
		}
		return n / 2, err
	}
	return n / 2, nil
}

// RawSink writes s16le samples with no header.
type RawSink struct {
	w      *bufio.Writer
	format Format
	buf    []byte
}

func NewRawSink(w io.Writer, format Format) *RawSink {
	return &RawSink{w: bufio.NewWriter(w), format: format}
}

func (s *RawSink) WriteFrame(f Frame) error {
	if f.Channels != s.format.Channels {
		return fmt.Errorf("%w: frame has %d channels, sink has %d", ErrUnsupportedFormat, f.Channels, s.format.Channels)
	}
	if cap(s.buf) < 2*len(f.Samples) {
		s.buf = make([]byte, 2*len(f.Samples))
	}
	b := s.buf[:2*len(f.Samples)]
	for i, v := range f.Samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	_, err := s.w.Write(b)
	return err
}

func (s *RawSink) Close() error {
	return s.w.Flush()
}

var (
	_ Source = (*RawSource)(nil)
	_ Sink   = (*RawSink)(nil)
)
