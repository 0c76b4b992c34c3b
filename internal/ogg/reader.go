package ogg

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/glizzus/opuskit/internal/opus"
)

// maxPacketBytes bounds a reassembled packet: 48 maximum size frames plus
// their framing.
const maxPacketBytes = 48*opus.MaxFrameBytes + 2*48 + 2

// tailWindow is how far from the end the reader looks for the last page.
const tailWindow = 64 * 1024

// OpusReader yields the audio packets of a single Ogg Opus logical stream.
type OpusReader struct {
	pages *PageReader
	info  opus.StreamInfo
	tags  Tags

	serial   uint32
	seq      uint32
	held     *Page
	queue    []opus.Packet
	partial  []byte
	dropping bool
	eos      bool
	count    int

	// position is the granule at the end of the last packet returned.
	position int64
	// tail is the last known granule of the stream, or -1.
	tail int64
	loss *LossError
}

// LossError reports audio lost to corruption or missing pages. One loss
// is reported once, when the next intact packet shows how much is gone.
// It matches ErrCorruptStream.
type LossError struct {
	Pages int
	// Samples is the duration lost in 48 kHz samples, or -1 when the
	// stream gave no way of telling.
	Samples int64
	Err     error
}

func (e *LossError) Error() string {
	if e.Samples < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (%d samples lost)", e.Err, e.Samples)
}

func (e *LossError) Unwrap() error { return e.Err }

// NewOpusReader reads the identification and comment headers from r.
// When r can seek, the end of the stream is inspected to find its length.
func NewOpusReader(r io.Reader) (*OpusReader, error) {
	var tail tailInfo
	if rs, ok := r.(io.ReadSeeker); ok {
		var err error
		if tail, err = scanTail(rs); err != nil {
			return nil, err
		}
	}

	o := &OpusReader{pages: NewPageReader(r), tail: -1}
	ok, err := o.pages.Peek()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing Ogg capture pattern", ErrUnsupportedContainer)
	}

	page, err := o.pages.ReadPage()
	if err != nil {
		if errors.Is(err, ErrCorruptStream) {
			return nil, fmt.Errorf("%w: %w", ErrCorruptHeader, err)
		}
		return nil, err
	}
	if !page.BOS() {
		return nil, fmt.Errorf("%w: first page is not a beginning of stream", ErrCorruptHeader)
	}
	if n := len(page.Segments); n == 0 || page.Segments[n-1] == 255 || len(completedPackets(page.Segments)) != 1 {
		return nil, fmt.Errorf("%w: OpusHead must be alone on its page", ErrCorruptHeader)
	}
	info, err := ParseOpusHead(page.Payload)
	if err != nil {
		return nil, err
	}
	o.serial = page.Serial
	o.seq = page.Sequence

	tagsPacket, err := o.next()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, ErrCorruptStream) {
			return nil, fmt.Errorf("%w: reading OpusTags: %w", ErrCorruptHeader, err)
		}
		return nil, err
	}
	if o.tags, err = ParseOpusTags(tagsPacket.Payload); err != nil {
		return nil, err
	}
	if len(o.queue) > 0 {
		return nil, fmt.Errorf("%w: audio shares a page with OpusTags", ErrCorruptHeader)
	}
	o.count = 0
	o.position = 0
	if tail.found && tail.serial == o.serial {
		o.tail = tail.granule
	}

	if tail.found && tail.serial == o.serial && tail.granule >= int64(info.PreSkip) {
		info.TotalSamples = uint64(opus.FromGranule(tail.granule-int64(info.PreSkip), info.SampleRate))
		info.TotalKnown = true
	}
	o.info = info
	return o, nil
}

func (o *OpusReader) Info() opus.StreamInfo { return o.info }
func (o *OpusReader) Tags() Tags            { return o.tags }

// BytesRead is the number of input bytes consumed so far.
func (o *OpusReader) BytesRead() int64 { return o.pages.Offset() }

// NextPacket returns the next audio packet, or io.EOF after the last one.
// Pages lost to corruption are reported as a *LossError; reading can
// continue afterwards.
func (o *OpusReader) NextPacket() (opus.Packet, error) {
	return o.next()
}

func (o *OpusReader) next() (opus.Packet, error) {
	for len(o.queue) == 0 {
		if o.eos {
			if o.loss != nil {
				gap := int64(-1)
				if o.tail >= 0 {
					gap = max(o.tail-o.position, 0)
				}
				return opus.Packet{}, o.reportLoss(gap)
			}
			return opus.Packet{}, io.EOF
		}
		page := o.held
		o.held = nil
		if page == nil {
			var err error
			page, err = o.pages.ReadPage()
			if err != nil {
				if errors.Is(err, io.EOF) {
					o.eos = true
					if len(o.partial) > 0 {
						o.partial = nil
						o.lose(0, fmt.Errorf("%w: stream ends inside a packet", ErrCorruptStream))
					}
					continue
				}
				if !errors.Is(err, ErrCorruptStream) {
					return opus.Packet{}, err
				}
				o.partial = nil
				o.dropping = true
				// A damaged page that still claims the expected place in the
				// stream is the loss; the page after it is no further gap.
				if page != nil && page.Serial == o.serial && page.Sequence == o.seq+1 {
					o.seq = page.Sequence
				}
				o.lose(1, err)
				continue
			}
			if page.Serial != o.serial {
				continue
			}
			if page.Sequence != o.seq+1 {
				gap := page.Sequence - o.seq - 1
				o.seq = page.Sequence - 1
				o.partial = nil
				o.dropping = true
				o.lose(int(gap), fmt.Errorf("%w: %d pages missing before page %d", ErrCorruptStream, gap, page.Sequence))
			}
		}
		o.seq = page.Sequence
		o.assemble(page)
		if o.loss != nil && len(o.queue) > 0 {
			return opus.Packet{}, o.reportLoss(o.gapBefore(o.queue[0]))
		}
	}
	p := o.queue[0]
	o.queue = o.queue[1:]
	o.count++
	p.First = o.count == 1
	if p.Granule >= 0 {
		o.position = p.Granule
	}
	return p, nil
}

// lose records a loss to be reported with the next intact packet. Losses
// with nothing intact between them are reported together.
func (o *OpusReader) lose(pages int, err error) {
	if o.loss == nil {
		o.loss = &LossError{Err: err}
	}
	o.loss.Pages += pages
}

func (o *OpusReader) reportLoss(samples int64) error {
	loss := o.loss
	o.loss = nil
	loss.Samples = samples
	return loss
}

// gapBefore is the distance from the last packet returned to the start of
// p, or -1 when p's position is unknown.
func (o *OpusReader) gapBefore(p opus.Packet) int64 {
	if p.Granule < 0 {
		return -1
	}
	info, err := opus.ParsePacket(p.Payload)
	if err != nil {
		return -1
	}
	return max(p.Granule-int64(info.Samples())-o.position, 0)
}

func (o *OpusReader) assemble(page *Page) {
	if !page.Continued() {
		if len(o.partial) > 0 {
			o.partial = nil
			o.lose(0, fmt.Errorf("%w: page %d drops a continued packet", ErrCorruptStream, page.Sequence))
		}
		o.dropping = false
	} else if o.partial == nil {
		// The start of this packet was never seen.
		o.dropping = true
	}

	var packets [][]byte
	cur := o.partial
	o.partial = nil
	off := 0
	for _, seg := range page.Segments {
		data := page.Payload[off : off+int(seg)]
		off += int(seg)
		if !o.dropping {
			cur = append(cur, data...)
		}
		if len(cur) > maxPacketBytes {
			o.lose(0, fmt.Errorf("%w: packet exceeds %d bytes", ErrCorruptStream, maxPacketBytes))
			o.dropping = true
			cur = nil
		}
		if seg < 255 {
			if !o.dropping {
				packets = append(packets, cur)
			}
			o.dropping = false
			cur = nil
		}
	}
	if len(cur) > 0 || (len(page.Segments) > 0 && page.Segments[len(page.Segments)-1] == 255) {
		o.partial = cur
		if o.partial == nil {
			o.partial = []byte{}
		}
	}

	granule := page.Granule
	for i := len(packets) - 1; i >= 0; i-- {
		p := opus.Packet{Payload: packets[i], Granule: granule}
		if i == len(packets)-1 && page.EOS() {
			p.Last = true
		}
		o.queue = append(o.queue, p)
		if granule >= 0 {
			if info, err := opus.ParsePacket(packets[i]); err == nil {
				granule -= int64(info.Samples())
			}
			granule = max(granule, 0)
		}
	}
	// Packets were appended last to first.
	for i, j := 0, len(o.queue)-1; i < j; i, j = i+1, j-1 {
		o.queue[i], o.queue[j] = o.queue[j], o.queue[i]
	}
	if page.EOS() {
		o.eos = true
	}
}

func completedPackets(segments []byte) []int {
	var ends []int
	for i, seg := range segments {
		if seg < 255 {
			ends = append(ends, i)
		}
	}
	return ends
}

func clonePage(p *Page) *Page {
	c := *p
	c.Segments = append([]byte(nil), p.Segments...)
	c.Payload = append([]byte(nil), p.Payload...)
	return &c
}

type tailInfo struct {
	found   bool
	serial  uint32
	granule int64
}

// scanTail finds the granule of the last intact page with a known position
// and leaves rs where it was.
func scanTail(rs io.ReadSeeker) (tailInfo, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return tailInfo{}, nil
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return tailInfo{}, err
	}
	from := max(start, end-tailWindow)
	if _, err := rs.Seek(from, io.SeekStart); err != nil {
		return tailInfo{}, err
	}
	buf := make([]byte, end-from)
	if _, err := io.ReadFull(rs, buf); err != nil {
		return tailInfo{}, err
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return tailInfo{}, err
	}

	var tail tailInfo
	pr := NewPageReader(bytes.NewReader(buf))
	for {
		page, err := pr.ReadPage()
		if err != nil {
			if errors.Is(err, ErrCorruptStream) {
				continue
			}
			break
		}
		if page.Granule >= 0 {
			tail = tailInfo{found: true, serial: page.Serial, granule: page.Granule}
		}
	}
	return tail, nil
}
