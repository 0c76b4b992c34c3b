package pcm

import (
	"errors"
	"io"
)

// Framer cuts a Source into frames of a fixed number of samples per
// channel. It holds a single frame of memory.
type Framer struct {
	src  Source
	size int
	buf  []int16
	done bool
}

func NewFramer(src Source, frameSize int) *Framer {
	return &Framer{
		src:  src,
		size: frameSize,
		buf:  make([]int16, frameSize*src.Format().Channels),
	}
}

// Next returns the next full frame. When the source runs out it returns
// whatever partial frame remains, possibly empty, together with io.EOF.
// The frame is only valid until the following call.
func (f *Framer) Next() (Frame, error) {
	channels := f.src.Format().Channels
	if f.done {
		return Frame{Channels: channels}, io.EOF
	}
	filled := 0
	for filled < len(f.buf) {
		n, err := f.src.ReadSamples(f.buf[filled:])
		filled += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				f.done = true
				filled -= filled % channels
				return Frame{Samples: f.buf[:filled], Channels: channels}, io.EOF
			}
			return Frame{}, err
		}
		if n == 0 {
			return Frame{}, io.ErrNoProgress
		}
	}
	return Frame{Samples: f.buf, Channels: channels}, nil
}
