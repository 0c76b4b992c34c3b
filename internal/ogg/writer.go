package ogg

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/glizzus/opuskit/internal/opus"
)

var ErrGranuleOrder = errors.New("ogg: granule position went backwards")

// Vendor is written into the comment header.
const Vendor = "opuskit"

// OpusWriter lays Opus packets out into Ogg pages. It buffers at most one
// page.
type OpusWriter struct {
	w        io.Writer
	info     opus.StreamInfo
	tags     Tags
	serial   uint32
	seq      uint32
	maxDelay int64

	segments    []byte
	payload     []byte
	continued   bool
	pageStart   int64
	pageGranule int64
	lastGranule int64
	packets     int
	closed      bool
	buf         []byte
}

type WriterOption func(*OpusWriter)

// WithSerial fixes the stream serial number instead of picking one at random.
func WithSerial(serial uint32) WriterOption {
	return func(w *OpusWriter) { w.serial = serial }
}

// WithMaxPageDelay bounds how much audio a single page may hold.
func WithMaxPageDelay(d time.Duration) WriterOption {
	return func(w *OpusWriter) {
		w.maxDelay = int64(d) * opus.GranuleRate / int64(time.Second)
	}
}

// WithComments adds KEY=value user comments to the comment header.
func WithComments(comments ...string) WriterOption {
	return func(w *OpusWriter) { w.tags.Comments = append(w.tags.Comments, comments...) }
}

// NewOpusWriter writes the identification and comment headers for info
// and returns a writer ready for audio packets.
func NewOpusWriter(w io.Writer, info opus.StreamInfo, opts ...WriterOption) (*OpusWriter, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	o := &OpusWriter{
		w:           w,
		info:        info,
		tags:        Tags{Vendor: Vendor},
		serial:      rand.Uint32(),
		maxDelay:    opus.GranuleRate,
		pageGranule: -1,
	}
	for _, opt := range opts {
		opt(o)
	}

	head := &Page{
		Flags:    flagBOS,
		Serial:   o.serial,
		Sequence: o.seq,
		Segments: lacing(nil, opusHeadSize),
		Payload:  MarshalOpusHead(info),
	}
	if err := o.writePage(head); err != nil {
		return nil, err
	}
	o.seq++

	// The comment header has to end its page, so it gets pages of its own.
	if err := o.appendPacket(o.tags.Marshal(), 0); err != nil {
		return nil, err
	}
	if err := o.flushPage(false); err != nil {
		return nil, err
	}
	o.pageGranule = -1
	o.lastGranule = 0
	o.pageStart = 0
	return o, nil
}

// WritePacket adds an audio packet. Granule positions must not decrease.
func (o *OpusWriter) WritePacket(p opus.Packet) error {
	if o.closed {
		return errors.New("ogg: write to closed writer")
	}
	if p.Granule < 0 {
		return fmt.Errorf("%w: packet without a granule position", ErrGranuleOrder)
	}
	if p.Granule < o.lastGranule {
		return fmt.Errorf("%w: %d after %d", ErrGranuleOrder, p.Granule, o.lastGranule)
	}
	if len(o.segments) > 0 {
		full := len(o.segments)+len(p.Payload)/255+1 > maxSegments
		late := o.pageGranule >= 0 && o.pageGranule-o.pageStart >= o.maxDelay
		if full || late {
			if err := o.flushPage(false); err != nil {
				return err
			}
		}
	}
	if err := o.appendPacket(p.Payload, p.Granule); err != nil {
		return err
	}
	o.packets++
	return nil
}

// Close writes the final page with the end of stream flag and returns the
// stream duration in milliseconds, excluding pre-skip.
func (o *OpusWriter) Close() (int64, error) {
	if o.closed {
		return o.Duration(), nil
	}
	o.closed = true
	if err := o.flushPage(true); err != nil {
		return 0, err
	}
	return o.Duration(), nil
}

// Duration is the playable length of what has been written so far.
func (o *OpusWriter) Duration() int64 {
	samples := o.lastGranule - int64(o.info.PreSkip)
	if samples <= 0 {
		return 0
	}
	return samples * 1000 / opus.GranuleRate
}

// Granule is the position of the last packet written.
func (o *OpusWriter) Granule() int64 { return o.lastGranule }

// appendPacket lacing-splits a packet into the current page, spilling onto
// continuation pages when it does not fit.
func (o *OpusWriter) appendPacket(data []byte, granule int64) error {
	lace := lacing(nil, len(data))
	for len(lace) > 0 {
		room := maxSegments - len(o.segments)
		if room == 0 {
			if err := o.flushPage(false); err != nil {
				return err
			}
			o.continued = true
			continue
		}
		n := min(room, len(lace))
		size := 0
		for _, v := range lace[:n] {
			size += int(v)
		}
		o.segments = append(o.segments, lace[:n]...)
		o.payload = append(o.payload, data[:size]...)
		data = data[size:]
		lace = lace[n:]
	}
	o.pageGranule = granule
	o.lastGranule = granule
	return nil
}

func (o *OpusWriter) flushPage(eos bool) error {
	if len(o.segments) == 0 && !eos {
		return nil
	}
	page := &Page{
		Serial:   o.serial,
		Sequence: o.seq,
		Granule:  o.pageGranule,
		Segments: o.segments,
		Payload:  o.payload,
	}
	if o.continued {
		page.Flags |= flagContinued
	}
	if eos {
		page.Flags |= flagEOS
		if page.Granule < 0 {
			page.Granule = o.lastGranule
		}
	}
	if err := o.writePage(page); err != nil {
		return err
	}
	o.seq++
	o.continued = false
	o.segments = o.segments[:0]
	o.payload = o.payload[:0]
	if o.pageGranule >= 0 {
		o.pageStart = o.pageGranule
	}
	o.pageGranule = -1
	return nil
}

func (o *OpusWriter) writePage(p *Page) error {
	o.buf = p.AppendTo(o.buf[:0])
	_, err := o.w.Write(o.buf)
	return err
}
