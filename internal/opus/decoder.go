package opus

/*
#cgo pkg-config: opus
#include <opus.h>

static int opuskit_decoder_set_gain(OpusDecoder *dec, opus_int32 v) {
    return opus_decoder_ctl(dec, OPUS_SET_GAIN(v));
}

static int opuskit_decoder_reset(OpusDecoder *dec) {
    return opus_decoder_ctl(dec, OPUS_RESET_STATE);
}
*/
import "C"
import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/glizzus/opuskit/internal/pcm"
)

// ConcealmentLimit is the number of consecutive lost or malformed packets
// after which decoding gives up.
const ConcealmentLimit = 3

// Decoder turns Opus packets back into PCM, trimming the encoder delay
// from the start and the padding from the end.
type Decoder struct {
	info     StreamInfo
	rate     int
	channels int
	cDec     *C.OpusDecoder
	buf      []int16

	skip        int64
	emitted     int64
	lastSamples int
	consecutive int
	concealed   int
}

// NewDecoder creates a decoder for the stream. Output is at the stream's
// original rate when libopus supports it and 48 kHz otherwise.
func NewDecoder(info StreamInfo) (*Decoder, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	rate := GranuleRate
	if IsCodecRate(info.SampleRate) {
		rate = info.SampleRate
	}

	var cerr C.int
	cDec := C.opus_decoder_create(C.opus_int32(rate), C.int(info.Channels), &cerr)
	if cerr != C.OPUS_OK {
		return nil, fmt.Errorf("%w: decoder create: %s", ErrUnsupportedConfig, C.GoString(C.opus_strerror(cerr)))
	}
	d := &Decoder{
		info:     info,
		rate:     rate,
		channels: info.Channels,
		cDec:     cDec,
		buf:      make([]int16, int(FromGranule(MaxPacketSamples, rate))*info.Channels),
	}
	if info.OutputGain != 0 {
		if ret := C.opuskit_decoder_set_gain(cDec, C.opus_int32(info.OutputGain)); ret != C.OPUS_OK {
			d.Close()
			return nil, fmt.Errorf("%w: set gain: %s", ErrUnsupportedConfig, C.GoString(C.opus_strerror(ret)))
		}
	}
	d.resetCounters()
	return d, nil
}

// Format is the shape of the frames Decode produces.
func (d *Decoder) Format() pcm.Format {
	return pcm.Format{SampleRate: d.rate, Channels: d.channels}
}

// Concealed is the number of frames synthesized in place of bad packets.
func (d *Decoder) Concealed() int { return d.concealed }

func (d *Decoder) Close() {
	if d.cDec != nil {
		C.opus_decoder_destroy(d.cDec)
		d.cDec = nil
	}
}

// Reset drops codec history and starts trimming from the beginning again.
func (d *Decoder) Reset() error {
	if d.cDec == nil {
		return errors.New("opus: decoder is closed")
	}
	if ret := C.opuskit_decoder_reset(d.cDec); ret != C.OPUS_OK {
		return fmt.Errorf("%w: reset: %s", ErrDecodeFailure, C.GoString(C.opus_strerror(ret)))
	}
	d.resetCounters()
	return nil
}

func (d *Decoder) resetCounters() {
	d.skip = FromGranule(int64(d.info.PreSkip), d.rate)
	d.emitted = 0
	d.lastSamples = d.rate / 50
	d.consecutive = 0
	d.concealed = 0
}

// Decode decodes one packet. A malformed packet yields a concealment frame
// instead of an error until ConcealmentLimit consecutive packets have been
// bad, at which point ErrDecodeFailure is returned.
//
// The returned frame aliases an internal buffer and is only valid until
// the next call.
func (d *Decoder) Decode(pkt Packet) (pcm.Frame, error) {
	if d.cDec == nil {
		return pcm.Frame{}, errors.New("opus: decoder is closed")
	}
	if _, err := ParsePacket(pkt.Payload); err != nil {
		return d.conceal(pkt, err)
	}

	n := C.opus_decode(d.cDec,
		(*C.uchar)(unsafe.Pointer(&pkt.Payload[0])), C.opus_int32(len(pkt.Payload)),
		(*C.opus_int16)(unsafe.Pointer(&d.buf[0])), C.int(len(d.buf)/d.channels), 0)
	if n < 0 {
		return d.conceal(pkt, fmt.Errorf("%w: %s", ErrInvalidPacket, C.GoString(C.opus_strerror(n))))
	}
	d.consecutive = 0
	d.lastSamples = int(n)
	return d.trim(int(n), pkt, false), nil
}

// PacketGranules is the duration of the last packet decoded, in 48 kHz
// samples. It is the length each Conceal call stands in for.
func (d *Decoder) PacketGranules() int64 {
	return ToGranule(int64(d.lastSamples), d.rate)
}

// Conceal synthesizes one frame for a packet the container could not deliver.
func (d *Decoder) Conceal(cause error) (pcm.Frame, error) {
	if d.cDec == nil {
		return pcm.Frame{}, errors.New("opus: decoder is closed")
	}
	return d.conceal(Packet{Granule: -1}, cause)
}

func (d *Decoder) conceal(pkt Packet, cause error) (pcm.Frame, error) {
	d.consecutive++
	if d.consecutive >= ConcealmentLimit {
		return pcm.Frame{}, fmt.Errorf("%w: %d consecutive bad packets: %w", ErrDecodeFailure, d.consecutive, cause)
	}
	n := C.opus_decode(d.cDec, nil, 0,
		(*C.opus_int16)(unsafe.Pointer(&d.buf[0])), C.int(d.lastSamples), 0)
	if n < 0 {
		return pcm.Frame{}, fmt.Errorf("%w: concealment: %s: %w", ErrDecodeFailure, C.GoString(C.opus_strerror(n)), cause)
	}
	d.concealed++
	return d.trim(int(n), pkt, true), nil
}

func (d *Decoder) trim(n int, pkt Packet, concealed bool) pcm.Frame {
	samples := d.buf[:n*d.channels]
	if d.skip > 0 {
		drop := min(d.skip, int64(n))
		samples = samples[drop*int64(d.channels):]
		d.skip -= drop
	}
	if pkt.Last && pkt.Granule >= 0 {
		limit := max(FromGranule(pkt.Granule-int64(d.info.PreSkip), d.rate), 0)
		remaining := max(limit-d.emitted, 0)
		if remaining < int64(len(samples)/d.channels) {
			samples = samples[:remaining*int64(d.channels)]
		}
	}
	d.emitted += int64(len(samples) / d.channels)
	return pcm.Frame{Samples: samples, Channels: d.channels, Concealed: concealed}
}
