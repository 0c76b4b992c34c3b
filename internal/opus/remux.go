package opus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jonas747/ogg"
)

// Remuxer copies the audio packets of an Ogg Opus stream into the
// length-prefixed frame format without decoding them.
type Remuxer struct {
	decoder *ogg.PacketDecoder
	out     *FrameWriter
	info    StreamInfo
	skip    int
	frames  int
	granule int64
}

func NewRemuxer(r io.Reader, w io.Writer) *Remuxer {
	return &Remuxer{
		decoder: ogg.NewPacketDecoder(ogg.NewDecoder(r)),
		out:     NewFrameWriter(w, StreamInfo{}),
		skip:    2,
	}
}

// Info is the stream description from the OpusHead packet. It is zero
// until the first Step.
func (m *Remuxer) Info() StreamInfo { return m.info }

// Frames is the number of frames written so far.
func (m *Remuxer) Frames() int { return m.frames }

// Granule is the position after the last frame written, in 48 kHz samples
// and including the pre-skip.
func (m *Remuxer) Granule() int64 { return m.granule }

// Step copies one packet and reports whether the stream has ended.
func (m *Remuxer) Step() (bool, error) {
	packet, _, err := m.decoder.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if m.skip > 0 {
				return false, fmt.Errorf("%w: stream ended before the headers", ErrInvalidPacket)
			}
			return true, nil
		}
		return false, err
	}

	switch m.skip {
	case 2:
		m.skip--
		return false, m.readHead(packet)
	case 1:
		// OpusTags carries nothing the frame format can keep.
		m.skip--
		return false, nil
	}

	info, err := ParsePacket(packet)
	if err != nil {
		return false, err
	}
	m.granule += int64(info.Samples())
	if err := m.out.WritePacket(Packet{Payload: packet, Granule: m.granule}); err != nil {
		return false, err
	}
	m.frames++
	return false, nil
}

// Duration of what has been written in milliseconds, net of pre-skip.
func (m *Remuxer) Duration() int64 {
	d, _ := m.out.Close()
	return d
}

func (m *Remuxer) readHead(packet []byte) error {
	if len(packet) < 19 || !bytes.HasPrefix(packet, []byte("OpusHead")) {
		return fmt.Errorf("%w: first packet is not OpusHead", ErrUnsupportedConfig)
	}
	m.info = StreamInfo{
		Channels:   int(packet[9]),
		PreSkip:    uint32(binary.LittleEndian.Uint16(packet[10:12])),
		SampleRate: int(binary.LittleEndian.Uint32(packet[12:16])),
		OutputGain: int16(binary.LittleEndian.Uint16(packet[16:18])),
	}
	if m.info.SampleRate == 0 {
		m.info.SampleRate = GranuleRate
	}
	m.out.preSkip = m.info.PreSkip
	return nil
}

// Remux converts a whole stream and returns the number of frames written.
func Remux(r io.Reader, w io.Writer) (int, error) {
	m := NewRemuxer(r, w)
	for {
		done, err := m.Step()
		if err != nil {
			return m.Frames(), err
		}
		if done {
			return m.Frames(), nil
		}
	}
}
