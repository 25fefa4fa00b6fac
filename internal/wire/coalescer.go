package wire

import (
	"strings"
	"time"
)

const (
	// DefaultMinChunkSize is the buffered length that forces a flush.
	DefaultMinChunkSize = 40
	// DefaultMaxBufferWait is how long buffered text may wait before a
	// flush regardless of size.
	DefaultMaxBufferWait = 500 * time.Millisecond
	// CoalescerPollInterval is how often a driver should call Stale while
	// no new deltas arrive.
	CoalescerPollInterval = 100 * time.Millisecond
)

// Coalescer batches small text deltas into larger frames so slow client
// links are not flooded with one frame per token.
type Coalescer struct {
	minSize int
	maxWait time.Duration
	buf     strings.Builder
	last    time.Time
	now     func() time.Time
}

// NewCoalescer returns a coalescer with the given thresholds. Zero values
// select the defaults.
func NewCoalescer(minSize int, maxWait time.Duration) *Coalescer {
	if minSize <= 0 {
		minSize = DefaultMinChunkSize
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxBufferWait
	}
	c := &Coalescer{minSize: minSize, maxWait: maxWait, now: time.Now}
	c.last = c.now()
	return c
}

// Add appends a delta and returns content to emit when the buffer crossed
// the size threshold or has been waiting past the deadline.
func (c *Coalescer) Add(text string) (string, bool) {
	c.buf.WriteString(text)
	if c.buf.Len() >= c.minSize {
		return c.flush(), true
	}
	if c.buf.Len() > 0 && c.now().Sub(c.last) >= c.maxWait {
		return c.flush(), true
	}
	return "", false
}

// Stale returns buffered content once it has waited past the deadline.
// Meant to be called periodically while the stream is idle.
func (c *Coalescer) Stale() (string, bool) {
	if c.buf.Len() > 0 && c.now().Sub(c.last) >= c.maxWait {
		return c.flush(), true
	}
	return "", false
}

// Flush drains whatever is buffered.
func (c *Coalescer) Flush() (string, bool) {
	if c.buf.Len() == 0 {
		return "", false
	}
	return c.flush(), true
}

func (c *Coalescer) flush() string {
	out := c.buf.String()
	c.buf.Reset()
	c.last = c.now()
	return out
}
