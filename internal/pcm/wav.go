package pcm

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xfffe
)

// WAVSource reads integer PCM from a RIFF/WAVE file.
type WAVSource struct {
	decoder  *wav.Decoder
	format   Format
	bitDepth int
	total    int64
	scratch  *audio.IntBuffer
}

func NewWAVSource(r io.ReadSeeker) (*WAVSource, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file", ErrUnsupportedFormat)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}
	if f := decoder.WavAudioFormat; f != wavFormatPCM && f != wavFormatExtensible {
		return nil, fmt.Errorf("%w: WAV audio format %d", ErrUnsupportedFormat, f)
	}

	s := &WAVSource{
		decoder:  decoder,
		format:   Format{SampleRate: int(decoder.SampleRate), Channels: int(decoder.NumChans)},
		bitDepth: int(decoder.BitDepth),
		total:    -1,
	}
	if err := s.format.Validate(); err != nil {
		return nil, err
	}
	if s.bitDepth%8 != 0 || s.bitDepth == 0 || s.bitDepth > 32 {
		return nil, fmt.Errorf("%w: %d-bit WAV", ErrUnsupportedFormat, s.bitDepth)
	}
	if n := int64(decoder.PCMLen()); n > 0 {
		s.total = n / int64(s.bitDepth/8*s.format.Channels)
	}
	return s, nil
}

func (s *WAVSource) Format() Format      { return s.format }
func (s *WAVSource) TotalSamples() int64 { return s.total }
func (s *WAVSource) Close() error        { return nil }

func (s *WAVSource) ReadSamples(buf []int16) (int, error) {
	want := len(buf) - len(buf)%s.format.Channels
	if s.scratch == nil || cap(s.scratch.Data) < want {
		s.scratch = &audio.IntBuffer{
			Data: make([]int, want),
			Format: &audio.Format{
				NumChannels: s.format.Channels,
				SampleRate:  s.format.SampleRate,
			},
			SourceBitDepth: s.bitDepth,
		}
	}
	s.scratch.Data = s.scratch.Data[:want]

	n, err := s.decoder.PCMBuffer(s.scratch)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	n -= n % s.format.Channels
	for i, v := range s.scratch.Data[:n] {
		if s.bitDepth == 8 {
			// 8-bit WAV is unsigned.
			v -= 128
		}
		buf[i] = toInt16(v, s.bitDepth)
	}
	return n, nil
}

// WAVSink writes 16-bit PCM into a WAV file. The header sizes are
// rewritten in place on Close, which is why it needs a WriteSeeker.
type WAVSink struct {
	encoder *wav.Encoder
	format  Format
	scratch *audio.IntBuffer
}

func NewWAVSink(w io.WriteSeeker, format Format) (*WAVSink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &WAVSink{
		encoder: wav.NewEncoder(w, format.SampleRate, 16, format.Channels, wavFormatPCM),
		format:  format,
		scratch: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: 16,
		},
	}, nil
}

func (s *WAVSink) WriteFrame(f Frame) error {
	if f.Channels != s.format.Channels {
		return fmt.Errorf("%w: frame has %d channels, sink has %d", ErrUnsupportedFormat, f.Channels, s.format.Channels)
	}
	if len(f.Samples) == 0 {
		return nil
	}
	if cap(s.scratch.Data) < len(f.Samples) {
		s.scratch.Data = make([]int, len(f.Samples))
	}
	s.scratch.Data = s.scratch.Data[:len(f.Samples)]
	for i, v := range f.Samples {
		s.scratch.Data[i] = int(v)
	}
	return s.encoder.Write(s.scratch)
}

func (s *WAVSink) Close() error {
	return s.encoder.Close()
}

var (
	_ Source = (*WAVSource)(nil)
	_ Sink   = (*WAVSink)(nil)
)
