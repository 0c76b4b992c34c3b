package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// The frame format stores packets back to back, each prefixed by its
// length: [uint16 LE length][opus bytes]. There is no header, so the
// stream description has to come from elsewhere.

// FrameReader reads length-prefixed Opus frames from an io.Reader.
type FrameReader struct {
	r       io.Reader
	info    StreamInfo
	granule int64
	count   int
}

// NewFrameReader returns a new FrameReader that reads from r. The frames
// are assumed to be described by info.
func NewFrameReader(r io.Reader, info StreamInfo) *FrameReader {
	return &FrameReader{r: r, info: info}
}

func (f *FrameReader) Info() StreamInfo { return f.info }

// ReadFrame reads and returns the next raw Opus frame.
// Returns io.EOF when there are no more frames.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var size uint16
	if err := binary.Read(f.r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(f.r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// NextPacket reads the next frame as a Packet. Granules are counted from
// the packet durations, so a malformed frame leaves the position as is.
func (f *FrameReader) NextPacket() (Packet, error) {
	frame, err := f.ReadFrame()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, fmt.Errorf("%w: truncated frame", ErrInvalidPacket)
		}
		return Packet{}, err
	}
	if info, perr := ParsePacket(frame); perr == nil {
		f.granule += int64(info.Samples())
	}
	f.count++
	return Packet{Payload: frame, Granule: f.granule, First: f.count == 1}, nil
}

// FrameWriter writes packets in the length-prefixed frame format.
type FrameWriter struct {
	w       io.Writer
	preSkip uint32
	granule int64
}

func NewFrameWriter(w io.Writer, info StreamInfo) *FrameWriter {
	return &FrameWriter{w: w, preSkip: info.PreSkip, granule: -1}
}

func (f *FrameWriter) WritePacket(p Packet) error {
	if len(p.Payload) > 0xffff {
		return fmt.Errorf("%w: %d byte packet does not fit a frame prefix", ErrInvalidPacket, len(p.Payload))
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(p.Payload)))
	if _, err := f.w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := f.w.Write(p.Payload); err != nil {
		return err
	}
	if p.Granule >= 0 {
		f.granule = p.Granule
	}
	return nil
}

// Close returns the duration of what was written in milliseconds.
func (f *FrameWriter) Close() (int64, error) {
	if f.granule < int64(f.preSkip) {
		return 0, nil
	}
	return (f.granule - int64(f.preSkip)) * 1000 / GranuleRate, nil
}
