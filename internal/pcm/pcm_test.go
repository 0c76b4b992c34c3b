package pcm_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/glizzus/opuskit/internal/pcm"
	"github.com/google/go-cmp/cmp"
)

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i*97 - 3000)
	}
	return out
}

func drain(t *testing.T, src pcm.Source) []int16 {
	t.Helper()
	var out []int16
	buf := make([]int16, 333*src.Format().Channels)
	for {
		n, err := src.ReadSamples(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestFramer(t *testing.T) {
	samples := ramp(25 * 2)
	f := pcm.NewFramer(pcm.NewBuffer(pcm.Format{SampleRate: 8000, Channels: 2}, samples), 10)

	for i := range 2 {
		frame, err := f.Next()
		if err != nil {
			t.Fatalf("Next() #%d: %v", i, err)
		}
		if diff := cmp.Diff(samples[i*20:(i+1)*20], frame.Samples); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	frame, err := f.Next()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want io.EOF with the tail", err)
	}
	if frame.SampleCount() != 5 {
		t.Errorf("tail has %d samples, want 5", frame.SampleCount())
	}
	if diff := cmp.Diff(samples[40:], frame.Samples); diff != "" {
		t.Errorf("tail mismatch (-want +got):\n%s", diff)
	}

	frame, err = f.Next()
	if !errors.Is(err, io.EOF) || frame.SampleCount() != 0 {
		t.Errorf("Next() after tail = %d samples, %v, want 0, io.EOF", frame.SampleCount(), err)
	}
}

func TestBuffer(t *testing.T) {
	b := pcm.NewBuffer(pcm.Format{SampleRate: 48000, Channels: 2}, nil)
	if err := b.WriteFrame(pcm.Frame{Samples: []int16{1}, Channels: 1}); !errors.Is(err, pcm.ErrUnsupportedFormat) {
		t.Errorf("WriteFrame(mono) error = %v, want ErrUnsupportedFormat", err)
	}
	if err := b.WriteFrame(pcm.Frame{Samples: []int16{1, 2, 3, 4, 5, 6}, Channels: 2}); err != nil {
		t.Fatal(err)
	}
	if b.TotalSamples() != 3 {
		t.Errorf("TotalSamples() = %d, want 3", b.TotalSamples())
	}

	// An odd buffer still only returns whole sample frames.
	buf := make([]int16, 5)
	n, err := b.ReadSamples(buf)
	if err != nil || n != 4 {
		t.Errorf("ReadSamples() = %d, %v, want 4, nil", n, err)
	}
	if err := b.Close(); err != nil || !b.Closed() {
		t.Errorf("Close() = %v, Closed() = %v", err, b.Closed())
	}
}

func TestRawRoundTrip(t *testing.T) {
	format := pcm.Format{SampleRate: 16000, Channels: 2}
	samples := ramp(1000)

	var out bytes.Buffer
	sink := pcm.NewRawSink(&out, format)
	if err := sink.WriteFrame(pcm.Frame{Samples: samples, Channels: 2}); err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteFrame(pcm.Frame{Samples: []int16{1, 2, 3}, Channels: 3}); !errors.Is(err, pcm.ErrUnsupportedFormat) {
		t.Errorf("WriteFrame(3ch) error = %v, want ErrUnsupportedFormat", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 2000 {
		t.Fatalf("wrote %d bytes, want 2000", out.Len())
	}

	// A trailing partial sample frame is dropped.
	data := append(out.Bytes(), 0x01, 0x02)
	src, err := pcm.NewRawSource(bytes.NewReader(data), format)
	if err != nil {
		t.Fatal(err)
	}
	if src.TotalSamples() != 500 {
		t.Errorf("TotalSamples() = %d, want 500", src.TotalSamples())
	}
	if diff := cmp.Diff(samples, drain(t, src)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestRawSourceUnknownLength(t *testing.T) {
	src, err := pcm.NewRawSource(io.MultiReader(bytes.NewReader(make([]byte, 8))), pcm.Format{SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	if src.TotalSamples() != -1 {
		t.Errorf("TotalSamples() = %d, want -1", src.TotalSamples())
	}
	if got := drain(t, src); len(got) != 4 {
		t.Errorf("read %d samples, want 4", len(got))
	}
}

func TestWAVRoundTrip(t *testing.T) {
	format := pcm.Format{SampleRate: 44100, Channels: 2}
	samples := ramp(4410 * 2)
	path := filepath.Join(t.TempDir(), "ramp.wav")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	sink, err := pcm.NewSink(f, path, format)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(*pcm.WAVSink); !ok {
		t.Fatalf("NewSink(%q) = %T, want *pcm.WAVSink", path, sink)
	}
	for i := 0; i < len(samples); i += 882 {
		if err := sink.WriteFrame(pcm.Frame{Samples: samples[i : i+882], Channels: 2}); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	in, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	src, kind, err := pcm.Open(t.Context(), in, path, pcm.DefaultOpenOptions())
	if err != nil {
		t.Fatal(err)
	}
	if kind != pcm.KindWAV {
		t.Errorf("Open() kind = %q, want %q", kind, pcm.KindWAV)
	}
	if src.Format() != format {
		t.Errorf("Format() = %s, want %s", src.Format(), format)
	}
	if src.TotalSamples() != 4410 {
		t.Errorf("TotalSamples() = %d, want 4410", src.TotalSamples())
	}
	if diff := cmp.Diff(samples, drain(t, src)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name   string
		head   []byte
		file   string
		want   pcm.Kind
		wantOK bool
	}{
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVE"), "a.bin", pcm.KindWAV, true},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), "a", pcm.KindFLAC, true},
		{"mp3 with id3", []byte("ID3\x04\x00"), "a", pcm.KindMP3, true},
		{"mp3 frame sync", []byte{0xff, 0xfb, 0x90, 0x64}, "a", pcm.KindMP3, true},
		{"raw by extension", []byte{0x01, 0x02}, "voice.PCM", pcm.KindRaw, true},
		{"s16le", nil, "voice.s16le", pcm.KindRaw, true},
		{"aac frame sync", []byte{0xff, 0xf1, 0x50, 0x80}, "a.aac", "", false},
		{"unknown", []byte("OggS"), "a.ogg", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pcm.Sniff(tt.head, tt.file)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Sniff() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestOpenUnknownWithoutFFmpeg(t *testing.T) {
	opts := pcm.DefaultOpenOptions()
	opts.FFmpegPath = ""
	_, _, err := pcm.Open(t.Context(), bytes.NewReader([]byte("not audio at all")), "x.aac", opts)
	if !errors.Is(err, pcm.ErrUnsupportedFormat) {
		t.Errorf("Open() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestOpenReportsFailedFFmpeg(t *testing.T) {
	failing, err := exec.LookPath("false")
	if err != nil {
		t.Skip("no false binary to stand in for a failing ffmpeg")
	}
	opts := pcm.DefaultOpenOptions()
	opts.FFmpegPath = failing
	src, kind, err := pcm.Open(t.Context(), bytes.NewReader([]byte("this is not audio at all")), "notes.txt", opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if kind != pcm.KindFFmpeg {
		t.Errorf("kind = %q, want %q", kind, pcm.KindFFmpeg)
	}

	buf := make([]int16, 960)
	n, err := src.ReadSamples(buf)
	if n != 0 || !errors.Is(err, pcm.ErrUnsupportedFormat) {
		t.Errorf("ReadSamples() = %d, %v, want 0 and ErrUnsupportedFormat", n, err)
	}
	if err := src.Close(); !errors.Is(err, pcm.ErrUnsupportedFormat) {
		t.Errorf("Close() error = %v, want ErrUnsupportedFormat", err)
	}
}
