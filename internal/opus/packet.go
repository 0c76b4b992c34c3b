package opus

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxFrameBytes is the largest compressed frame a packet may carry.
	MaxFrameBytes = 1275

	// MaxPacketSamples is the longest packet duration (120 ms) in 48 kHz samples.
	MaxPacketSamples = 5760

	// GranuleRate is the clock every granule position and pre-skip is measured in.
	GranuleRate = 48000
)

var (
	ErrInvalidPacket     = errors.New("opus: invalid packet")
	ErrUnsupportedConfig = errors.New("opus: unsupported configuration")
	ErrInvalidFrameSize  = errors.New("opus: invalid frame size")
	ErrDecodeFailure     = errors.New("opus: decode failure")
	ErrEncodeFailure     = errors.New("opus: encode failure")
)

// Packet is one compressed unit of an Opus stream.
type Packet struct {
	Payload []byte
	// Granule is the stream position at the end of this packet in 48 kHz
	// samples, or -1 when the container did not provide one.
	Granule int64
	First   bool
	Last    bool
}

// StreamInfo describes an Opus stream. It does not change once a stream
// has been opened.
type StreamInfo struct {
	SampleRate   int
	Channels     int
	PreSkip      uint32
	OutputGain   int16
	TotalSamples uint64
	TotalKnown   bool
}

// Validate checks the channel layout and rate against what the codec accepts.
func (s StreamInfo) Validate() error {
	if s.Channels < 1 || s.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedConfig, s.Channels)
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedConfig, s.SampleRate)
	}
	if s.PreSkip > 0xffff {
		return fmt.Errorf("%w: pre-skip %d", ErrUnsupportedConfig, s.PreSkip)
	}
	return nil
}

// IsCodecRate reports whether libopus can run natively at rate.
func IsCodecRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// ToGranule converts a sample count at rate into 48 kHz units.
func ToGranule(samples int64, rate int) int64 {
	return samples * GranuleRate / int64(rate)
}

// FromGranule converts a 48 kHz count into samples at rate.
func FromGranule(granule int64, rate int) int64 {
	return granule * int64(rate) / GranuleRate
}

// TOC is the first byte of every Opus packet.
//
//	0 1 2 3 4 5 6 7
//	+-+-+-+-+-+-+-+-+
//	| config  |s| c |
//	+-+-+-+-+-+-+-+-+
//
// https://datatracker.ietf.org/doc/html/rfc6716#section-3.1
type TOC byte

func (t TOC) Config() int  { return int(t >> 3) }
func (t TOC) Stereo() bool { return t&0x04 != 0 }
func (t TOC) Code() int    { return int(t & 0x03) }

// Mode returns SILK, Hybrid or CELT.
func (t TOC) Mode() string {
	switch c := t.Config(); {
	case c < 12:
		return "SILK"
	case c < 16:
		return "Hybrid"
	default:
		return "CELT"
	}
}

// FrameSamples returns the per-frame duration in 48 kHz samples.
func (t TOC) FrameSamples() int {
	c := t.Config()
	switch {
	case c < 12:
		return [4]int{480, 960, 1920, 2880}[c%4]
	case c < 16:
		return [2]int{480, 960}[c%2]
	default:
		return [4]int{120, 240, 480, 960}[c%4]
	}
}

// PacketInfo is the result of parsing a packet's framing.
type PacketInfo struct {
	TOC          TOC
	FrameCount   int
	FrameSamples int
	FrameSizes   []int
}

// Samples is the packet duration in 48 kHz samples.
func (p PacketInfo) Samples() int {
	return p.FrameCount * p.FrameSamples
}

// Duration is the packet duration.
func (p PacketInfo) Duration() time.Duration {
	return time.Duration(p.Samples()) * time.Second / GranuleRate
}

// ParsePacket validates the framing of an Opus packet against RFC 6716
// section 3.4 and returns its layout.
func ParsePacket(data []byte) (PacketInfo, error) {
	if len(data) == 0 {
		return PacketInfo{}, fmt.Errorf("%w: empty packet", ErrInvalidPacket)
	}
	toc := TOC(data[0])
	info := PacketInfo{TOC: toc, FrameSamples: toc.FrameSamples()}
	body := data[1:]

	switch toc.Code() {
	case 0:
		info.FrameCount = 1
		info.FrameSizes = []int{len(body)}
	case 1:
		if len(body)%2 != 0 {
			return PacketInfo{}, fmt.Errorf("%w: odd length %d for two equal frames", ErrInvalidPacket, len(body))
		}
		info.FrameCount = 2
		info.FrameSizes = []int{len(body) / 2, len(body) / 2}
	case 2:
		n, size, err := readFrameLength(body)
		if err != nil {
			return PacketInfo{}, err
		}
		body = body[n:]
		if size > len(body) {
			return PacketInfo{}, fmt.Errorf("%w: first frame length %d exceeds packet", ErrInvalidPacket, size)
		}
		info.FrameCount = 2
		info.FrameSizes = []int{size, len(body) - size}
	case 3:
		if len(body) < 1 {
			return PacketInfo{}, fmt.Errorf("%w: missing frame count byte", ErrInvalidPacket)
		}
		fc := body[0]
		body = body[1:]
		vbr := fc&0x80 != 0
		padded := fc&0x40 != 0
		count := int(fc & 0x3f)
		if count == 0 {
			return PacketInfo{}, fmt.Errorf("%w: zero frames", ErrInvalidPacket)
		}
		if count*info.FrameSamples > MaxPacketSamples {
			return PacketInfo{}, fmt.Errorf("%w: %d frames exceed 120 ms", ErrInvalidPacket, count)
		}
		if padded {
			padding := 0
			for {
				if len(body) == 0 {
					return PacketInfo{}, fmt.Errorf("%w: truncated padding length", ErrInvalidPacket)
				}
				b := int(body[0])
				body = body[1:]
				if b == 255 {
					padding += 254
					continue
				}
				padding += b
				break
			}
			if padding > len(body) {
				return PacketInfo{}, fmt.Errorf("%w: padding %d exceeds packet", ErrInvalidPacket, padding)
			}
			body = body[:len(body)-padding]
		}
		info.FrameCount = count
		info.FrameSizes = make([]int, count)
		if vbr {
			total := 0
			for i := 0; i < count-1; i++ {
				n, size, err := readFrameLength(body)
				if err != nil {
					return PacketInfo{}, err
				}
				body = body[n:]
				info.FrameSizes[i] = size
				total += size
			}
			if total > len(body) {
				return PacketInfo{}, fmt.Errorf("%w: frame lengths exceed packet", ErrInvalidPacket)
			}
			info.FrameSizes[count-1] = len(body) - total
		} else {
			if len(body)%count != 0 {
				return PacketInfo{}, fmt.Errorf("%w: %d bytes do not split into %d frames", ErrInvalidPacket, len(body), count)
			}
			for i := range info.FrameSizes {
				info.FrameSizes[i] = len(body) / count
			}
		}
	}

	for _, size := range info.FrameSizes {
		if size > MaxFrameBytes {
			return PacketInfo{}, fmt.Errorf("%w: frame of %d bytes", ErrInvalidPacket, size)
		}
	}
	return info, nil
}

func readFrameLength(b []byte) (int, int, error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("%w: truncated frame length", ErrInvalidPacket)
	}
	if b[0] < 252 {
		return 1, int(b[0]), nil
	}
	if len(b) < 2 {
		return 0, 0, fmt.Errorf("%w: truncated frame length", ErrInvalidPacket)
	}
	return 2, int(b[0]) + 4*int(b[1]), nil
}
