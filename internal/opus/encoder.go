package opus

/*
#cgo pkg-config: opus
#include <opus.h>

static int opuskit_encoder_set_bitrate(OpusEncoder *enc, opus_int32 v) {
    return opus_encoder_ctl(enc, OPUS_SET_BITRATE(v));
}

static int opuskit_encoder_set_complexity(OpusEncoder *enc, opus_int32 v) {
    return opus_encoder_ctl(enc, OPUS_SET_COMPLEXITY(v));
}

static int opuskit_encoder_set_vbr(OpusEncoder *enc, opus_int32 v) {
    return opus_encoder_ctl(enc, OPUS_SET_VBR(v));
}

static int opuskit_encoder_get_lookahead(OpusEncoder *enc, opus_int32 *v) {
    return opus_encoder_ctl(enc, OPUS_GET_LOOKAHEAD(v));
}
*/
import "C"
import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/glizzus/opuskit/internal/pcm"
)

// Application selects the libopus tuning profile.
type Application int

const (
	ApplicationAudio Application = iota
	ApplicationVoIP
	ApplicationLowDelay
)

func ParseApplication(s string) (Application, error) {
	switch strings.ToLower(s) {
	case "audio", "":
		return ApplicationAudio, nil
	case "voip":
		return ApplicationVoIP, nil
	case "lowdelay":
		return ApplicationLowDelay, nil
	}
	return 0, fmt.Errorf("%w: application %q", ErrUnsupportedConfig, s)
}

func (a Application) String() string {
	switch a {
	case ApplicationVoIP:
		return "voip"
	case ApplicationLowDelay:
		return "lowdelay"
	default:
		return "audio"
	}
}

func (a Application) cValue() C.int {
	switch a {
	case ApplicationVoIP:
		return C.OPUS_APPLICATION_VOIP
	case ApplicationLowDelay:
		return C.OPUS_APPLICATION_RESTRICTED_LOWDELAY
	default:
		return C.OPUS_APPLICATION_AUDIO
	}
}

// EncoderConfig holds the tunables of an Encoder.
type EncoderConfig struct {
	// Bitrate in bits per second. Zero keeps the libopus default.
	Bitrate       int
	Complexity    int
	FrameDuration time.Duration
	VBR           bool
	Application   Application
}

func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Bitrate:       64000,
		Complexity:    10,
		FrameDuration: 20 * time.Millisecond,
		VBR:           true,
		Application:   ApplicationAudio,
	}
}

func (c EncoderConfig) Validate() error {
	switch c.FrameDuration {
	case 2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond,
		20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond:
	default:
		return fmt.Errorf("%w: frame duration %s", ErrUnsupportedConfig, c.FrameDuration)
	}
	if c.Complexity < 0 || c.Complexity > 10 {
		return fmt.Errorf("%w: complexity %d", ErrUnsupportedConfig, c.Complexity)
	}
	if c.Bitrate != 0 && (c.Bitrate < 500 || c.Bitrate > 512000) {
		return fmt.Errorf("%w: bitrate %d", ErrUnsupportedConfig, c.Bitrate)
	}
	return nil
}

// FrameSize returns the samples per channel of one frame at rate.
func (c EncoderConfig) FrameSize(rate int) int {
	return int(int64(rate) * int64(c.FrameDuration) / int64(time.Second))
}

// Encoder turns fixed-size PCM frames into Opus packets and tracks the
// granule positions of what it has produced.
type Encoder struct {
	info      StreamInfo
	cfg       EncoderConfig
	cEnc      *C.OpusEncoder
	frameSize int
	preSkip   uint32
	buf       []byte
	pad       []int16

	samplesIn int64
	packets   int64
	flushed   bool
}

// NewEncoder creates an encoder for PCM at info.SampleRate, which must be
// a rate libopus runs at natively.
func NewEncoder(info StreamInfo, cfg EncoderConfig) (*Encoder, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if !IsCodecRate(info.SampleRate) {
		return nil, fmt.Errorf("%w: encoder rate %d", ErrUnsupportedConfig, info.SampleRate)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var cerr C.int
	cEnc := C.opus_encoder_create(C.opus_int32(info.SampleRate), C.int(info.Channels), cfg.Application.cValue(), &cerr)
	if cerr != C.OPUS_OK {
		return nil, fmt.Errorf("%w: encoder create: %s", ErrUnsupportedConfig, C.GoString(C.opus_strerror(cerr)))
	}
	e := &Encoder{
		info:      info,
		cfg:       cfg,
		cEnc:      cEnc,
		frameSize: cfg.FrameSize(info.SampleRate),
		buf:       make([]byte, 4000),
	}

	if cfg.Bitrate != 0 {
		if ret := C.opuskit_encoder_set_bitrate(cEnc, C.opus_int32(cfg.Bitrate)); ret != C.OPUS_OK {
			e.Close()
			return nil, fmt.Errorf("%w: set bitrate: %s", ErrUnsupportedConfig, C.GoString(C.opus_strerror(ret)))
		}
	}
	if ret := C.opuskit_encoder_set_complexity(cEnc, C.opus_int32(cfg.Complexity)); ret != C.OPUS_OK {
		e.Close()
		return nil, fmt.Errorf("%w: set complexity: %s", ErrUnsupportedConfig, C.GoString(C.opus_strerror(ret)))
	}
	vbr := 0
	if cfg.VBR {
		vbr = 1
	}
	if ret := C.opuskit_encoder_set_vbr(cEnc, C.opus_int32(vbr)); ret != C.OPUS_OK {
		e.Close()
		return nil, fmt.Errorf("%w: set vbr: %s", ErrUnsupportedConfig, C.GoString(C.opus_strerror(ret)))
	}

	var lookahead C.opus_int32
	if ret := C.opuskit_encoder_get_lookahead(cEnc, &lookahead); ret != C.OPUS_OK {
		e.Close()
		return nil, fmt.Errorf("%w: get lookahead: %s", ErrEncodeFailure, C.GoString(C.opus_strerror(ret)))
	}
	e.preSkip = uint32(ToGranule(int64(lookahead), info.SampleRate))
	e.info.PreSkip = e.preSkip
	return e, nil
}

// Info returns the stream description to record in the container header.
func (e *Encoder) Info() StreamInfo { return e.info }

// FrameSize is the samples per channel Encode expects.
func (e *Encoder) FrameSize() int { return e.frameSize }

// PreSkip is the encoder delay in 48 kHz samples.
func (e *Encoder) PreSkip() uint32 { return e.preSkip }

func (e *Encoder) Close() {
	if e.cEnc != nil {
		C.opus_encoder_destroy(e.cEnc)
		e.cEnc = nil
	}
}

// Encode compresses exactly one frame.
func (e *Encoder) Encode(frame pcm.Frame) (Packet, error) {
	if e.flushed {
		return Packet{}, fmt.Errorf("%w: encoder already flushed", ErrEncodeFailure)
	}
	if frame.Channels != e.info.Channels || frame.SampleCount() != e.frameSize || len(frame.Samples) != e.frameSize*e.info.Channels {
		return Packet{}, fmt.Errorf("%w: got %d samples x %d channels, want %d x %d",
			ErrInvalidFrameSize, frame.SampleCount(), frame.Channels, e.frameSize, e.info.Channels)
	}
	p, err := e.encode(frame.Samples)
	if err != nil {
		return Packet{}, err
	}
	e.samplesIn += int64(e.frameSize)
	return p, nil
}

// Flush encodes the final partial frame, zero padded, and as many silent
// frames as it takes for the decoded length to cover the encoder delay.
// The last packet returned carries the end-trimmed granule.
func (e *Encoder) Flush(tail pcm.Frame) ([]Packet, error) {
	if e.flushed {
		return nil, fmt.Errorf("%w: encoder already flushed", ErrEncodeFailure)
	}
	n := tail.SampleCount()
	if n > 0 && (tail.Channels != e.info.Channels || n > e.frameSize) {
		return nil, fmt.Errorf("%w: tail of %d samples x %d channels", ErrInvalidFrameSize, n, tail.Channels)
	}
	e.flushed = true

	if e.pad == nil {
		e.pad = make([]int16, e.frameSize*e.info.Channels)
	}
	clear(e.pad)

	total := e.samplesIn + int64(n)
	target := int64(e.preSkip) + ToGranule(total, e.info.SampleRate)

	var out []Packet
	if n > 0 {
		copy(e.pad, tail.Samples[:n*e.info.Channels])
		p, err := e.encode(e.pad)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		clear(e.pad)
	}
	for e.decodedGranule() < target {
		p, err := e.encode(e.pad)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	e.samplesIn = total

	if len(out) > 0 {
		out[len(out)-1].Last = true
		out[len(out)-1].Granule = target
	}
	return out, nil
}

// Samples is the count of real (unpadded) samples accepted so far.
func (e *Encoder) Samples() int64 { return e.samplesIn }

func (e *Encoder) decodedGranule() int64 {
	return ToGranule(e.packets*int64(e.frameSize), e.info.SampleRate)
}

func (e *Encoder) encode(samples []int16) (Packet, error) {
	if e.cEnc == nil {
		return Packet{}, fmt.Errorf("%w: encoder is closed", ErrEncodeFailure)
	}
	n := C.opus_encode(e.cEnc,
		(*C.opus_int16)(unsafe.Pointer(&samples[0])), C.int(e.frameSize),
		(*C.uchar)(unsafe.Pointer(&e.buf[0])), C.opus_int32(len(e.buf)))
	if n < 0 {
		return Packet{}, fmt.Errorf("%w: %s", ErrEncodeFailure, C.GoString(C.opus_strerror(n)))
	}
	payload := make([]byte, int(n))
	copy(payload, e.buf[:n])

	e.packets++
	return Packet{
		Payload: payload,
		Granule: e.decodedGranule(),
		First:   e.packets == 1,
	}, nil
}
