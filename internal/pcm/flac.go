package pcm

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// FLACSource decodes FLAC one block at a time, keeping only the current
// block in memory.
type FLACSource struct {
	stream  *flac.Stream
	format  Format
	total   int64
	pending []int16
}

func NewFLACSource(r io.Reader) (*FLACSource, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create FLAC decoder: %v", ErrUnsupportedFormat, err)
	}
	s := &FLACSource{
		stream: stream,
		format: Format{SampleRate: int(stream.Info.SampleRate), Channels: int(stream.Info.NChannels)},
		total:  -1,
	}
	if err := s.format.Validate(); err != nil {
		stream.Close()
		return nil, err
	}
	if stream.Info.NSamples > 0 {
		s.total = int64(stream.Info.NSamples)
	}
	return s, nil
}

func (s *FLACSource) Format() Format      { return s.format }
func (s *FLACSource) TotalSamples() int64 { return s.total }

func (s *FLACSource) Close() error {
	return s.stream.Close()
}

func (s *FLACSource) ReadSamples(buf []int16) (int, error) {
	if len(s.pending) == 0 {
		frame, err := s.stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}
		channels := len(frame.Subframes)
		if channels != s.format.Channels {
			return 0, fmt.Errorf("%w: FLAC frame has %d channels, stream has %d", ErrUnsupportedFormat, channels, s.format.Channels)
		}
		blockSize := len(frame.Subframes[0].Samples)
		bits := int(frame.BitsPerSample)
		if cap(s.pending) < blockSize*channels {
			s.pending = make([]int16, 0, blockSize*channels)
		}
		s.pending = s.pending[:blockSize*channels]
		for i := 0; i < blockSize; i++ {
			for ch, sub := range frame.Subframes {
				s.pending[i*channels+ch] = toInt16(int(sub.Samples[i]), bits)
			}
		}
	}
	n := len(buf) - len(buf)%s.format.Channels
	n = copy(buf[:n], s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

var _ Source = (*FLACSource)(nil)
