package engine

import "sync/atomic"

// Clock numbers reconciliation passes.
//
// Every pass is stamped with a strictly increasing sequence number so log
// lines from one pass can be correlated independent of wall time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// In practice only the engine's Run loop calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
