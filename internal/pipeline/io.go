package pipeline

import (
	"io"
	"path"
	"strings"
	"sync/atomic"
)

// countingReader counts the bytes read through it. Seeking does not
// change the count.
type countingReader struct {
	r io.ReadSeeker
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) Seek(offset int64, whence int) (int64, error) {
	return c.r.Seek(offset, whence)
}

func (c *countingReader) Count() int64 { return c.n.Load() }

// FramesExt marks the length-prefixed frame format.
const FramesExt = ".frames"

func isFrames(name string) bool {
	return strings.EqualFold(path.Ext(name), FramesExt)
}
