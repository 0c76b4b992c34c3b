package opus_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/glizzus/opuskit/internal/opus"
	"github.com/glizzus/opuskit/internal/pcm"
)

func sine(samples, channels, rate int) []int16 {
	out := make([]int16, samples*channels)
	for i := range samples {
		v := int16(6000 * math.Sin(2*math.Pi*330*float64(i)/float64(rate)))
		for c := range channels {
			out[i*channels+c] = v
		}
	}
	return out
}

func TestEncoderConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*opus.EncoderConfig)
		wantErr bool
	}{
		{name: "defaults", modify: func(*opus.EncoderConfig) {}},
		{name: "2.5 ms", modify: func(c *opus.EncoderConfig) { c.FrameDuration = 2500 * time.Microsecond }},
		{name: "libopus bitrate", modify: func(c *opus.EncoderConfig) { c.Bitrate = 0 }},
		{name: "30 ms", modify: func(c *opus.EncoderConfig) { c.FrameDuration = 30 * time.Millisecond }, wantErr: true},
		{name: "complexity 11", modify: func(c *opus.EncoderConfig) { c.Complexity = 11 }, wantErr: true},
		{name: "bitrate too low", modify: func(c *opus.EncoderConfig) { c.Bitrate = 100 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := opus.DefaultEncoderConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v", err)
			}
			if err != nil && !errors.Is(err, opus.ErrUnsupportedConfig) {
				t.Errorf("error %v is not ErrUnsupportedConfig", err)
			}
		})
	}
}

func TestNewEncoderRejectsNonCodecRate(t *testing.T) {
	_, err := opus.NewEncoder(opus.StreamInfo{SampleRate: 44100, Channels: 2}, opus.DefaultEncoderConfig())
	if !errors.Is(err, opus.ErrUnsupportedConfig) {
		t.Fatalf("NewEncoder() error = %v, want ErrUnsupportedConfig", err)
	}
}

func TestEncoderGranules(t *testing.T) {
	enc, err := opus.NewEncoder(opus.StreamInfo{SampleRate: 16000, Channels: 1}, opus.DefaultEncoderConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	if enc.FrameSize() != 320 {
		t.Fatalf("FrameSize() = %d, want 320", enc.FrameSize())
	}
	if enc.PreSkip() == 0 || enc.Info().PreSkip != enc.PreSkip() {
		t.Fatalf("pre-skip %d, info pre-skip %d", enc.PreSkip(), enc.Info().PreSkip)
	}

	if _, err := enc.Encode(pcm.Frame{Samples: make([]int16, 100), Channels: 1}); !errors.Is(err, opus.ErrInvalidFrameSize) {
		t.Fatalf("short frame error = %v, want ErrInvalidFrameSize", err)
	}

	const total = 16000 + 100
	pcmData := sine(total, 1, 16000)
	var packets []opus.Packet
	for off := 0; off+320 <= total; off += 320 {
		p, err := enc.Encode(pcm.Frame{Samples: pcmData[off : off+320], Channels: 1})
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		packets = append(packets, p)
	}
	tail, err := enc.Flush(pcm.Frame{Samples: pcmData[total-100:], Channels: 1})
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	packets = append(packets, tail...)

	if !packets[0].First {
		t.Error("first packet not marked First")
	}
	last := packets[len(packets)-1]
	if !last.Last {
		t.Error("last packet not marked Last")
	}
	if want := int64(enc.PreSkip()) + opus.ToGranule(total, 16000); last.Granule != want {
		t.Errorf("final granule = %d, want %d", last.Granule, want)
	}
	for i := 1; i < len(packets); i++ {
		if packets[i].Granule < packets[i-1].Granule {
			t.Fatalf("granule went backwards at packet %d", i)
		}
	}
	if enc.Samples() != total {
		t.Errorf("Samples() = %d, want %d", enc.Samples(), total)
	}
	if _, err := enc.Flush(pcm.Frame{}); !errors.Is(err, opus.ErrEncodeFailure) {
		t.Errorf("second Flush() error = %v", err)
	}
}

func encodeSeconds(t *testing.T, info opus.StreamInfo, seconds float64) ([]opus.Packet, uint32) {
	t.Helper()
	enc, err := opus.NewEncoder(info, opus.DefaultEncoderConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	total := int(float64(info.SampleRate) * seconds)
	data := sine(total, info.Channels, info.SampleRate)
	size := enc.FrameSize() * info.Channels

	var packets []opus.Packet
	off := 0
	for ; off+size <= len(data); off += size {
		p, err := enc.Encode(pcm.Frame{Samples: data[off : off+size], Channels: info.Channels})
		if err != nil {
			t.Fatal(err)
		}
		packets = append(packets, p)
	}
	tail, err := enc.Flush(pcm.Frame{Samples: data[off:], Channels: info.Channels})
	if err != nil {
		t.Fatal(err)
	}
	return append(packets, tail...), enc.PreSkip()
}

func TestDecoderTrimsToOriginalLength(t *testing.T) {
	info := opus.StreamInfo{SampleRate: 48000, Channels: 2}
	packets, preSkip := encodeSeconds(t, info, 0.5)

	info.PreSkip = preSkip
	dec, err := opus.NewDecoder(info)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	var samples int
	for _, p := range packets {
		frame, err := dec.Decode(p)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if frame.Channels != 2 {
			t.Fatalf("frame has %d channels", frame.Channels)
		}
		samples += frame.SampleCount()
	}
	if samples != 24000 {
		t.Errorf("decoded %d samples, want 24000", samples)
	}
	if dec.Concealed() != 0 {
		t.Errorf("Concealed() = %d", dec.Concealed())
	}
}

func TestDecoderConcealment(t *testing.T) {
	info := opus.StreamInfo{SampleRate: 48000, Channels: 1}
	packets, preSkip := encodeSeconds(t, info, 0.5)
	info.PreSkip = preSkip

	dec, err := opus.NewDecoder(info)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	for _, p := range packets[:5] {
		if _, err := dec.Decode(p); err != nil {
			t.Fatal(err)
		}
	}

	bad := opus.Packet{Payload: []byte{0xff, 0x00}, Granule: -1}
	for i := 1; i < opus.ConcealmentLimit; i++ {
		frame, err := dec.Decode(bad)
		if err != nil {
			t.Fatalf("bad packet %d: %v", i, err)
		}
		if !frame.Concealed || frame.SampleCount() != 960 {
			t.Errorf("bad packet %d: concealed=%v samples=%d", i, frame.Concealed, frame.SampleCount())
		}
	}

	// A good packet resets the run of bad ones.
	if _, err := dec.Decode(packets[5]); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Conceal(errors.New("page lost")); err != nil {
		t.Fatalf("Conceal() after recovery: %v", err)
	}
	if _, err := dec.Decode(bad); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Decode(bad); !errors.Is(err, opus.ErrDecodeFailure) {
		t.Fatalf("third consecutive bad packet error = %v, want ErrDecodeFailure", err)
	}
	if dec.Concealed() != opus.ConcealmentLimit+1 {
		t.Errorf("Concealed() = %d, want %d", dec.Concealed(), opus.ConcealmentLimit+1)
	}
}

func TestDecoderRateSelection(t *testing.T) {
	tests := []struct {
		rate int
		want int
	}{
		{16000, 16000},
		{44100, 48000},
		{24000, 24000},
	}
	for _, tt := range tests {
		dec, err := opus.NewDecoder(opus.StreamInfo{SampleRate: tt.rate, Channels: 1})
		if err != nil {
			t.Fatal(err)
		}
		if got := dec.Format().SampleRate; got != tt.want {
			t.Errorf("stream at %d decodes at %d, want %d", tt.rate, got, tt.want)
		}
		dec.Close()
	}
}
