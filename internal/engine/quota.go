package engine

import (
	"time"
)

// Quota caps how many operations may start transmitting within a sliding
// window. An operation over the cap finishes with RATE_LIMIT_REACHED and
// never reaches the transport.
//
// An engine runs without a quota unless WithQuota is given.
//
// Not safe for concurrent use: Check runs on the work queue.
type Quota struct {
	maxOps int
	window time.Duration
	now    func() time.Time
	starts []time.Time // oldest first
}

// NewQuota creates a quota admitting maxOps operations per window.
func NewQuota(maxOps int, window time.Duration) *Quota {
	return &Quota{
		maxOps: maxOps,
		window: window,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock. Returns q for chaining.
func (q *Quota) WithClock(now func() time.Time) *Quota {
	q.now = now
	return q
}

// Check admits one more operation or returns a RATE_LIMIT_REACHED error.
// Rejected operations do not count against the window.
func (q *Quota) Check(messageID string) error {
	now := q.now()
	q.prune(now)
	if len(q.starts) >= q.maxOps {
		return NewRateLimitError(messageID, q.maxOps, q.window)
	}
	q.starts = append(q.starts, now)
	return nil
}

func (q *Quota) prune(now time.Time) {
	cutoff := now.Add(-q.window)
	i := 0
	for i < len(q.starts) && !q.starts[i].After(cutoff) {
		i++
	}
	q.starts = q.starts[i:]
}

// Current returns how many operations count against the window right now.
func (q *Quota) Current() int {
	q.prune(q.now())
	return len(q.starts)
}

// MaxOps returns the limit.
func (q *Quota) MaxOps() int {
	return q.maxOps
}
