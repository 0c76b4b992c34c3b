package opus_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/glizzus/opuskit/internal/ogg"
	"github.com/glizzus/opuskit/internal/opus"
	"github.com/google/go-cmp/cmp"
)

func celtPacket(n int) []byte {
	return append([]byte{31 << 3}, bytes.Repeat([]byte{byte(n)}, 10+n)...)
}

func TestFrameWriterReader(t *testing.T) {
	info := opus.StreamInfo{SampleRate: 48000, Channels: 2, PreSkip: 312}
	var buf bytes.Buffer
	w := opus.NewFrameWriter(&buf, info)
	var payloads [][]byte
	for i := range 50 {
		p := celtPacket(i)
		payloads = append(payloads, p)
		if err := w.WritePacket(opus.Packet{Payload: p, Granule: int64(960 * (i + 1))}); err != nil {
			t.Fatal(err)
		}
	}
	duration, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	if want := int64((50*960 - 312) * 1000 / 48000); duration != want {
		t.Errorf("Close() duration = %d, want %d", duration, want)
	}

	r := opus.NewFrameReader(&buf, info)
	var got [][]byte
	var last opus.Packet
	for {
		p, err := r.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 0 && !p.First {
			t.Error("first packet not marked First")
		}
		got = append(got, p.Payload)
		last = p
	}
	if diff := cmp.Diff(payloads, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if last.Granule != 50*960 {
		t.Errorf("last granule = %d, want %d", last.Granule, 50*960)
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	data := []byte{10, 0, 1, 2, 3}
	_, err := opus.NewFrameReader(bytes.NewReader(data), opus.StreamInfo{}).NextPacket()
	if !errors.Is(err, opus.ErrInvalidPacket) {
		t.Fatalf("NextPacket() error = %v, want ErrInvalidPacket", err)
	}
}

func TestRemux(t *testing.T) {
	info := opus.StreamInfo{SampleRate: 44100, Channels: 1, PreSkip: 312}
	var oggBuf bytes.Buffer
	w, err := ogg.NewOpusWriter(&oggBuf, info)
	if err != nil {
		t.Fatal(err)
	}
	var payloads [][]byte
	for i := range 120 {
		p := celtPacket(i % 40)
		payloads = append(payloads, p)
		if err := w.WritePacket(opus.Packet{Payload: p, Granule: int64(960 * (i + 1))}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var framed bytes.Buffer
	m := opus.NewRemuxer(bytes.NewReader(oggBuf.Bytes()), &framed)
	for {
		done, err := m.Step()
		if err != nil {
			t.Fatalf("Step() error = %v", err)
		}
		if done {
			break
		}
	}
	if m.Frames() != 120 {
		t.Errorf("Frames() = %d, want 120", m.Frames())
	}
	if diff := cmp.Diff(info, m.Info()); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}
	if want := int64((120*960 - 312) * 1000 / 48000); m.Duration() != want {
		t.Errorf("Duration() = %d, want %d", m.Duration(), want)
	}

	r := opus.NewFrameReader(&framed, info)
	for i, want := range payloads {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d differs", i)
		}
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after the last frame, got %v", err)
	}

	n, err := opus.Remux(bytes.NewReader(oggBuf.Bytes()), io.Discard)
	if err != nil || n != 120 {
		t.Errorf("Remux() = %d, %v", n, err)
	}
}

func TestRemuxRejectsHeaderlessStream(t *testing.T) {
	_, err := opus.Remux(bytes.NewReader(nil), io.Discard)
	if err == nil {
		t.Fatal("expected an error for an empty stream")
	}
}
