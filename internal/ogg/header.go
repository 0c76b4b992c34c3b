package ogg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/glizzus/opuskit/internal/opus"
)

var (
	opusHeadMagic = []byte("OpusHead")
	opusTagsMagic = []byte("OpusTags")
)

const opusHeadSize = 19

// ParseOpusHead decodes an identification header (RFC 7845 section 5.1).
func ParseOpusHead(b []byte) (opus.StreamInfo, error) {
	if !bytes.HasPrefix(b, opusHeadMagic) {
		return opus.StreamInfo{}, fmt.Errorf("%w: first packet is not OpusHead", ErrUnsupportedContainer)
	}
	if len(b) < opusHeadSize {
		return opus.StreamInfo{}, fmt.Errorf("%w: OpusHead is %d bytes", ErrCorruptHeader, len(b))
	}
	if version := b[8]; version&0xf0 != 0 {
		return opus.StreamInfo{}, fmt.Errorf("%w: OpusHead version %d", ErrUnsupportedContainer, version)
	}
	info := opus.StreamInfo{
		Channels:   int(b[9]),
		PreSkip:    uint32(binary.LittleEndian.Uint16(b[10:12])),
		SampleRate: int(binary.LittleEndian.Uint32(b[12:16])),
		OutputGain: int16(binary.LittleEndian.Uint16(b[16:18])),
	}
	family := b[18]
	switch {
	case family != 0 && info.Channels > 2:
		return opus.StreamInfo{}, fmt.Errorf("%w: channel mapping family %d with %d channels", ErrUnsupportedContainer, family, info.Channels)
	case info.Channels < 1 || info.Channels > 2:
		return opus.StreamInfo{}, fmt.Errorf("%w: %d channels", ErrCorruptHeader, info.Channels)
	}
	// An input rate of zero means unspecified.
	if info.SampleRate == 0 {
		info.SampleRate = opus.GranuleRate
	}
	return info, nil
}

// MarshalOpusHead encodes an identification header with mapping family 0.
func MarshalOpusHead(info opus.StreamInfo) []byte {
	b := make([]byte, opusHeadSize)
	copy(b[0:], opusHeadMagic)
	b[8] = 1
	b[9] = byte(info.Channels)
	binary.LittleEndian.PutUint16(b[10:], uint16(info.PreSkip))
	binary.LittleEndian.PutUint32(b[12:], uint32(info.SampleRate))
	binary.LittleEndian.PutUint16(b[16:], uint16(info.OutputGain))
	b[18] = 0
	return b
}

// Tags is the comment header: a vendor string and KEY=value comments.
type Tags struct {
	Vendor   string
	Comments []string
}

// ParseOpusTags decodes a comment header (RFC 7845 section 5.2).
func ParseOpusTags(b []byte) (Tags, error) {
	if !bytes.HasPrefix(b, opusTagsMagic) {
		return Tags{}, fmt.Errorf("%w: second packet is not OpusTags", ErrCorruptHeader)
	}
	rest := b[len(opusTagsMagic):]
	vendor, rest, err := readString(rest)
	if err != nil {
		return Tags{}, err
	}
	if len(rest) < 4 {
		return Tags{}, fmt.Errorf("%w: OpusTags missing comment count", ErrCorruptHeader)
	}
	count := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]
	// Every comment needs at least its 4 byte length.
	if uint64(count)*4 > uint64(len(rest)) {
		return Tags{}, fmt.Errorf("%w: OpusTags claims %d comments", ErrCorruptHeader, count)
	}
	tags := Tags{Vendor: vendor, Comments: make([]string, 0, count)}
	for range count {
		var c string
		c, rest, err = readString(rest)
		if err != nil {
			return Tags{}, err
		}
		tags.Comments = append(tags.Comments, c)
	}
	return tags, nil
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, fmt.Errorf("%w: OpusTags truncated", ErrCorruptHeader)
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return "", nil, fmt.Errorf("%w: OpusTags string of %d bytes", ErrCorruptHeader, n)
	}
	return string(b[:n]), b[n:], nil
}

func (t Tags) Marshal() []byte {
	var b bytes.Buffer
	b.Write(opusTagsMagic)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(t.Vendor)))
	b.Write(n[:])
	b.WriteString(t.Vendor)
	binary.LittleEndian.PutUint32(n[:], uint32(len(t.Comments)))
	b.Write(n[:])
	for _, c := range t.Comments {
		binary.LittleEndian.PutUint32(n[:], uint32(len(c)))
		b.Write(n[:])
		b.WriteString(c)
	}
	return b.Bytes()
}

// Get returns the first value for key, compared case-insensitively.
func (t Tags) Get(key string) (string, bool) {
	for _, c := range t.Comments {
		k, v, ok := bytes.Cut([]byte(c), []byte("="))
		if ok && bytes.EqualFold(k, []byte(key)) {
			return string(v), true
		}
	}
	return "", false
}
