package pcm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// OpenOptions controls how Open picks a decoder.
type OpenOptions struct {
	// RawFormat describes .pcm and .raw inputs.
	RawFormat Format
	// FFmpegPath enables the ffmpeg fallback for containers with no
	// native decoder. Empty disables it.
	FFmpegPath string
	// FFmpegFormat is what ffmpeg is asked to produce.
	FFmpegFormat Format
}

func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		RawFormat:    Format{SampleRate: 48000, Channels: 1},
		FFmpegPath:   "ffmpeg",
		FFmpegFormat: Format{SampleRate: 48000, Channels: 2},
	}
}

// Kind names the decoder Open chose.
type Kind string

const (
	KindWAV    Kind = "wav"
	KindFLAC   Kind = "flac"
	KindMP3    Kind = "mp3"
	KindRaw    Kind = "raw"
	KindFFmpeg Kind = "ffmpeg"
)

// Sniff identifies the input by its leading bytes, falling back to the
// file extension for headerless PCM.
func Sniff(head []byte, name string) (Kind, bool) {
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return KindWAV, true
	case bytes.HasPrefix(head, []byte("fLaC")):
		return KindFLAC, true
	case bytes.HasPrefix(head, []byte("ID3")):
		return KindMP3, true
	case len(head) >= 2 && head[0] == 0xff && head[1]&0xe0 == 0xe0 && head[1]&0x06 == 0x02:
		// MPEG audio frame sync with layer III.
		return KindMP3, true
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".pcm", ".raw", ".s16le":
		return KindRaw, true
	}
	return "", false
}

// Open picks a Source for r. The caller keeps ownership of r and must
// close it after the Source.
func Open(ctx context.Context, r io.ReadSeeker, name string, opts OpenOptions) (Source, Kind, error) {
	head := make([]byte, 12)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, "", err
	}

	kind, ok := Sniff(head[:n], name)
	if !ok {
		if opts.FFmpegPath == "" {
			return nil, "", fmt.Errorf("%w: cannot identify %q", ErrUnsupportedFormat, name)
		}
		kind = KindFFmpeg
	}

	var src Source
	switch kind {
	case KindWAV:
		src, err = NewWAVSource(r)
	case KindFLAC:
		src, err = NewFLACSource(r)
	case KindMP3:
		src, err = NewMP3Source(r)
	case KindRaw:
		src, err = NewRawSource(r, opts.RawFormat)
	case KindFFmpeg:
		src, err = NewFFmpegSource(ctx, opts.FFmpegPath, r, opts.FFmpegFormat)
	}
	if err != nil {
		return nil, "", err
	}
	return src, kind, nil
}

// NewSink picks a sink for an output name: WAV for .wav, raw s16le for
// anything else.
func NewSink(w io.WriteSeeker, name string, format Format) (Sink, error) {
	if strings.EqualFold(path.Ext(name), ".wav") {
		return NewWAVSink(w, format)
	}
	return NewRawSink(w, format), nil
}
