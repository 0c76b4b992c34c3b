package pcm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Source decodes MPEG-1/2 layer III audio. go-mp3 always produces
// interleaved stereo s16le.
type MP3Source struct {
	decoder *mp3.Decoder
	format  Format
	total   int64
	buf     []byte
}

func NewMP3Source(r io.Reader) (*MP3Source, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create MP3 decoder: %v", ErrUnsupportedFormat, err)
	}
	s := &MP3Source{
		decoder: decoder,
		format:  Format{SampleRate: decoder.SampleRate(), Channels: 2},
		total:   -1,
	}
	if n := decoder.Length(); n > 0 {
		s.total = n / 4
	}
	return s, nil
}

func (s *MP3Source) Format() Format      { return s.format }
func (s *MP3Source) TotalSamples() int64 { return s.total }
func (s *MP3Source) Close() error        { return nil }

func (s *MP3Source) ReadSamples(buf []int16) (int, error) {
	want := (len(buf) / 2) * 4
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	n, err := io.ReadFull(s.decoder, s.buf[:want])
	n -= n % 4
	for i := 0; i < n/2; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(s.buf[2*i:]))
	}
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n / 2, fmt.Errorf("failed to read MP3 data: %w", err)
	}
	if n == 0 && err != nil {
		return 0, io.EOF
	}
	return n / 2, nil
}

var _ Source = (*MP3Source)(nil)
