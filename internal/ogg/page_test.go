package ogg_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/glizzus/opuskit/internal/ogg"
	"github.com/google/go-cmp/cmp"
)

func testPage(seq uint32, payload string) *ogg.Page {
	return &ogg.Page{
		Flags:    0,
		Granule:  int64(seq) * 960,
		Serial:   0xfeed,
		Sequence: seq,
		Segments: []byte{byte(len(payload))},
		Payload:  []byte(payload),
	}
}

func TestPageRoundTrip(t *testing.T) {
	var data []byte
	data = append(data, "junk before the stream"...)
	data = testPage(0, "first").AppendTo(data)
	data = testPage(1, "second").AppendTo(data)

	pr := ogg.NewPageReader(bytes.NewReader(data))
	for i, want := range []string{"first", "second"} {
		page, err := pr.ReadPage()
		if err != nil {
			t.Fatalf("ReadPage() #%d: %v", i, err)
		}
		if diff := cmp.Diff(testPage(uint32(i), want), page); diff != "" {
			t.Errorf("page %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, err := pr.ReadPage(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPage() at end error = %v, want io.EOF", err)
	}
	if pr.Offset() != int64(len(data)) {
		t.Errorf("Offset() = %d, want %d", pr.Offset(), len(data))
	}
}

func TestPageChecksumMismatch(t *testing.T) {
	var data []byte
	data = testPage(0, "damaged").AppendTo(data)
	data[len(data)-1] ^= 0xff
	data = testPage(1, "intact").AppendTo(data)

	pr := ogg.NewPageReader(bytes.NewReader(data))
	if _, err := pr.ReadPage(); !errors.Is(err, ogg.ErrCorruptStream) {
		t.Fatalf("ReadPage() error = %v, want ErrCorruptStream", err)
	}
	page, err := pr.ReadPage()
	if err != nil {
		t.Fatalf("ReadPage() after corrupt page: %v", err)
	}
	if string(page.Payload) != "intact" {
		t.Errorf("payload = %q, want %q", page.Payload, "intact")
	}
}

func TestPageTruncated(t *testing.T) {
	data := testPage(0, "cut short").AppendTo(nil)
	pr := ogg.NewPageReader(bytes.NewReader(data[:len(data)-3]))
	if _, err := pr.ReadPage(); !errors.Is(err, ogg.ErrCorruptStream) {
		t.Fatalf("ReadPage() error = %v, want ErrCorruptStream", err)
	}
}

func TestPeek(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"ogg", testPage(0, "x").AppendTo(nil), true},
		{"wav", []byte("RIFF....WAVE"), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ogg.NewPageReader(bytes.NewReader(tt.data)).Peek()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Peek() = %v, want %v", got, tt.want)
			}
		})
	}
}
