// Package ogg reads and writes Ogg Opus streams (RFC 3533, RFC 7845).
package ogg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	headerSize  = 27
	maxSegments = 255

	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04
)

var capturePattern = []byte("OggS")

var (
	ErrUnsupportedContainer = errors.New("ogg: unsupported container")
	ErrCorruptHeader        = errors.New("ogg: corrupt header")
	ErrCorruptStream        = errors.New("ogg: corrupt stream")
)

var crcTable = generateChecksumTable()

func generateChecksumTable() *[256]uint32 {
	var table [256]uint32
	const poly = 0x04c11db7

	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if (r & 0x80000000) != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return &table
}

func checksum(crc uint32, b []byte) uint32 {
	for _, v := range b {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}

// Page is one Ogg page.
type Page struct {
	Flags    byte
	Granule  int64
	Serial   uint32
	Sequence uint32
	Segments []byte
	Payload  []byte
}

func (p *Page) Continued() bool { return p.Flags&flagContinued != 0 }
func (p *Page) BOS() bool       { return p.Flags&flagBOS != 0 }
func (p *Page) EOS() bool       { return p.Flags&flagEOS != 0 }

// AppendTo serializes the page, checksum included, onto dst.
func (p *Page) AppendTo(dst []byte) []byte {
	start := len(dst)
	var hdr [headerSize]byte
	copy(hdr[0:], capturePattern)
	hdr[4] = 0
	hdr[5] = p.Flags
	binary.LittleEndian.PutUint64(hdr[6:], uint64(p.Granule))
	binary.LittleEndian.PutUint32(hdr[14:], p.Serial)
	binary.LittleEndian.PutUint32(hdr[18:], p.Sequence)
	hdr[26] = byte(len(p.Segments))

	dst = append(dst, hdr[:]...)
	dst = append(dst, p.Segments...)
	dst = append(dst, p.Payload...)
	binary.LittleEndian.PutUint32(dst[start+22:], checksum(0, dst[start:]))
	return dst
}

// PageReader pulls pages off a byte stream, skipping garbage between them.
type PageReader struct {
	r       *bufio.Reader
	hdr     [headerSize]byte
	payload []byte
	offset  int64
}

func NewPageReader(r io.Reader) *PageReader {
	return &PageReader{r: bufio.NewReader(r)}
}

// Peek reports whether the stream starts with a capture pattern.
func (pr *PageReader) Peek() (bool, error) {
	b, err := pr.r.Peek(len(capturePattern))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(b, capturePattern), nil
}

// Offset is the number of bytes consumed from the underlying reader.
func (pr *PageReader) Offset() int64 { return pr.offset }

// ReadPage returns the next page. A page whose checksum does not match is
// consumed and reported as ErrCorruptStream so the caller can carry on
// with the page after it. The returned page is only valid until the next
// call.
func (pr *PageReader) ReadPage() (*Page, error) {
	if err := pr.sync(); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(pr.r, pr.hdr[4:]); err != nil {
		return nil, truncated(err)
	}
	pr.offset += headerSize - 4

	if pr.hdr[4] != 0 {
		return nil, fmt.Errorf("%w: page version %d", ErrCorruptStream, pr.hdr[4])
	}
	page := &Page{
		Flags:    pr.hdr[5],
		Granule:  int64(binary.LittleEndian.Uint64(pr.hdr[6:14])),
		Serial:   binary.LittleEndian.Uint32(pr.hdr[14:18]),
		Sequence: binary.LittleEndian.Uint32(pr.hdr[18:22]),
	}
	want := binary.LittleEndian.Uint32(pr.hdr[22:26])
	nsegs := int(pr.hdr[26])

	if cap(pr.payload) < nsegs {
		pr.payload = make([]byte, nsegs)
	}
	segs := pr.payload[:nsegs]
	if _, err := io.ReadFull(pr.r, segs); err != nil {
		return nil, truncated(err)
	}
	total := 0
	for _, v := range segs {
		total += int(v)
	}
	if cap(pr.payload) < nsegs+total {
		grown := make([]byte, nsegs+total)
		copy(grown, segs)
		pr.payload = grown
	}
	buf := pr.payload[:nsegs+total]
	if _, err := io.ReadFull(pr.r, buf[nsegs:]); err != nil {
		return nil, truncated(err)
	}
	pr.offset += int64(nsegs + total)
	page.Segments = buf[:nsegs]
	page.Payload = buf[nsegs:]

	pr.hdr[22], pr.hdr[23], pr.hdr[24], pr.hdr[25] = 0, 0, 0, 0
	crc := checksum(0, pr.hdr[:])
	crc = checksum(crc, buf)
	if crc != want {
		return page, fmt.Errorf("%w: page %d checksum mismatch", ErrCorruptStream, page.Sequence)
	}
	return page, nil
}

// sync slides forward until the capture pattern is in hdr[0:4].
func (pr *PageReader) sync() error {
	if _, err := io.ReadFull(pr.r, pr.hdr[:4]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	pr.offset += 4
	for !bytes.Equal(pr.hdr[:4], capturePattern) {
		b, err := pr.r.ReadByte()
		if err != nil {
			return err
		}
		pr.offset++
		copy(pr.hdr[0:3], pr.hdr[1:4])
		pr.hdr[3] = b
	}
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated page", ErrCorruptStream)
	}
	return err
}

// lacing returns the segment table entries for a packet of n bytes.
func lacing(dst []byte, n int) []byte {
	for n >= 255 {
		dst = append(dst, 255)
		n -= 255
	}
	return append(dst, byte(n))
}
