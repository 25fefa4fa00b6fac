package wire

import (
	"strings"
	"testing"
	"time"
)

func newTestCoalescer(minSize int, maxWait time.Duration) (*Coalescer, *time.Time) {
	now := time.Unix(1700000000, 0)
	c := NewCoalescer(minSize, maxWait)
	c.now = func() time.Time { return now }
	c.last = now
	return c, &now
}

func TestCoalescerBuffersBelowThreshold(t *testing.T) {
	c, _ := newTestCoalescer(10, time.Second)

	if out, ok := c.Add("abc"); ok {
		t.Fatalf("flushed %q below threshold", out)
	}
	if out, ok := c.Add("def"); ok {
		t.Fatalf("flushed %q below threshold", out)
	}
	out, ok := c.Add("ghij")
	if !ok || out != "abcdefghij" {
		t.Errorf("flush = %q, %v", out, ok)
	}
}

func TestCoalescerSizeThreshold(t *testing.T) {
	c, _ := newTestCoalescer(5, time.Second)

	out, ok := c.Add(strings.Repeat("x", 12))
	if !ok || len(out) != 12 {
		t.Errorf("flush = %q, %v", out, ok)
	}
	if out, ok := c.Flush(); ok {
		t.Errorf("residue after flush: %q", out)
	}
}

func TestCoalescerDeadlineOnAdd(t *testing.T) {
	c, now := newTestCoalescer(100, 500*time.Millisecond)

	if _, ok := c.Add("ab"); ok {
		t.Fatal("unexpected flush")
	}
	*now = now.Add(600 * time.Millisecond)
	out, ok := c.Add("cd")
	if !ok || out != "abcd" {
		t.Errorf("flush = %q, %v", out, ok)
	}
}

func TestCoalescerStale(t *testing.T) {
	c, now := newTestCoalescer(100, 500*time.Millisecond)

	c.Add("tail")
	if out, ok := c.Stale(); ok {
		t.Fatalf("stale flush too early: %q", out)
	}
	*now = now.Add(time.Second)
	out, ok := c.Stale()
	if !ok || out != "tail" {
		t.Errorf("stale = %q, %v", out, ok)
	}
	if _, ok := c.Stale(); ok {
		t.Error("second stale flush on empty buffer")
	}
}

func TestCoalescerFlushDrains(t *testing.T) {
	c, _ := newTestCoalescer(100, time.Minute)

	c.Add("remainder")
	out, ok := c.Flush()
	if !ok || out != "remainder" {
		t.Errorf("flush = %q, %v", out, ok)
	}
	if _, ok := c.Flush(); ok {
		t.Error("flush on empty buffer reported content")
	}
}
