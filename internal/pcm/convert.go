package pcm

import (
	"errors"
	"fmt"
	"io"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Convert adapts src to the target format. Channels are remixed (many to
// one by averaging, one to two by duplication, many to two by keeping the
// first pair) and the rate is converted with a polyphase resampler per
// channel. The output runs exactly as long as the input.
func Convert(src Source, to Format) (Source, error) {
	if err := to.Validate(); err != nil {
		return nil, err
	}
	from := src.Format()
	if from == to {
		return src, nil
	}
	c := &converter{
		src:  src,
		from: from,
		to:   to,
		in:   make([]int16, 4096*from.Channels),
	}
	if from.SampleRate != to.SampleRate {
		// The resampler filters a single channel per call and flushes only
		// its first, so each channel gets one of its own.
		for range to.Channels {
			rs, err := resampling.New(&resampling.Config{
				InputRate:  float64(from.SampleRate),
				OutputRate: float64(to.SampleRate),
				Channels:   1,
				Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create resampler: %w", err)
			}
			c.resamplers = append(c.resamplers, rs)
		}
		c.planes = make([][]float64, to.Channels)
		c.resampled = make([][]float64, to.Channels)
	}
	return c, nil
}

type converter struct {
	src        Source
	from, to   Format
	resamplers []resampling.Resampler

	in        []int16
	mixed     []int16
	planes    [][]float64
	resampled [][]float64
	pending   []int16
	eof       bool

	// framesIn and framesOut count whole frames before and after resampling.
	framesIn, framesOut int64
}

func (c *converter) Format() Format { return c.to }

func (c *converter) TotalSamples() int64 {
	total := c.src.TotalSamples()
	if total < 0 {
		return -1
	}
	return c.outputFrames(total)
}

func (c *converter) outputFrames(in int64) int64 {
	return in * int64(c.to.SampleRate) / int64(c.from.SampleRate)
}

func (c *converter) Close() error { return c.src.Close() }

func (c *converter) ReadSamples(buf []int16) (int, error) {
	for len(c.pending) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		if err := c.fill(); err != nil {
			return 0, err
		}
	}
	n := len(buf) - len(buf)%c.to.Channels
	n = copy(buf[:n], c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *converter) fill() error {
	n, err := c.src.ReadSamples(c.in)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return err
		}
		c.eof = true
	}
	c.mixed = remix(c.mixed[:0], c.in[:n], c.from.Channels, c.to.Channels)
	if c.resamplers == nil {
		c.pending = c.mixed
		return nil
	}
	c.framesIn += int64(n / c.from.Channels)

	channels := c.to.Channels
	for ch := range channels {
		c.planes[ch] = c.planes[ch][:0]
	}
	for i, v := range c.mixed {
		c.planes[i%channels] = append(c.planes[i%channels], float64(v)/32768.0)
	}
	frames := -1
	for ch, rs := range c.resamplers {
		out, err := rs.Process(c.planes[ch])
		if err != nil {
			return fmt.Errorf("resample error: %w", err)
		}
		if c.eof {
			tail, err := rs.Flush()
			if err != nil {
				return fmt.Errorf("resampler flush: %w", err)
			}
			out = append(out, tail...)
		}
		c.resampled[ch] = out
		if frames < 0 || len(out) < frames {
			frames = len(out)
		}
	}

	// Flushing pads the filter with silence, so the tail is cut or padded
	// to the length the input implies.
	if c.eof {
		frames = int(max(c.outputFrames(c.framesIn)-c.framesOut, 0))
	}
	pending := c.pending[:0]
	for i := range frames {
		for ch := range channels {
			var v float64
			if i < len(c.resampled[ch]) {
				v = c.resampled[ch][i]
			}
			pending = append(pending, clampInt16(int(v*32768.0)))
		}
	}
	c.framesOut += int64(frames)
	c.pending = pending
	return nil
}

func remix(dst, src []int16, from, to int) []int16 {
	if from == to {
		return append(dst, src...)
	}
	frames := len(src) / from
	for i := 0; i < frames; i++ {
		frame := src[i*from : (i+1)*from]
		switch {
		case to == 1:
			sum := 0
			for _, v := range frame {
				sum += int(v)
			}
			dst = append(dst, int16(sum/from))
		case from == 1:
			for range to {
				dst = append(dst, frame[0])
			}
		default:
			for ch := range to {
				dst = append(dst, frame[ch%from])
			}
		}
	}
	return dst
}
