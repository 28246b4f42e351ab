// Package ledger keeps the bounded, time-windowed history of messages sent
// and received by this peer.
//
// The ledger answers three questions:
//   - has this message id already been processed (dedup across redundant channels)
//   - what is the newest context message in each direction
//   - what happened recently (presentation, newest first)
//
// Entries recorded longer ago than the window are pruned on every write.
// Expiry uses the local arrival time, so a message stamped long ago by a
// skewed or slow peer is still remembered for a full window. Nothing is persisted; an observer may mirror writes to an external sink.
package ledger

import (
	"sync"
	"time"

	"github.com/roach88/tether/internal/message"
)

// DefaultWindow is how long entries are retained.
const DefaultWindow = time.Hour

// Entry is one recorded message and its direction.
type Entry struct {
	Message    message.Message
	Incoming   bool
	RecordedAt time.Time
}

// Observer is called after an entry is accepted. It runs on the writer's
// goroutine and must not call back into the ledger.
type Observer func(Entry)

// Ledger is a newest-first message history.
//
// Thread-safety: writes come from the communicator's work queue, reads may
// come from any goroutine (presentation), so access is guarded by a RWMutex.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry // newest first
	ids      map[string]struct{}
	window   time.Duration
	now      func() time.Time
	observer Observer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithWindow sets the retention window. Non-positive values keep the default.
func WithWindow(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithNow overrides the time source used for arrival stamps and pruning.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithObserver registers a sink for accepted entries.
func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		l.observer = o
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		ids:    make(map[string]struct{}),
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record adds m to the front of the history.
// Returns false, recording nothing, if an entry with the same id exists.
func (l *Ledger) Record(m message.Message, incoming bool) bool {
	l.mu.Lock()
	if _, dup := l.ids[m.ID]; dup {
		l.mu.Unlock()
		return false
	}
	e := Entry{Message: m, Incoming: incoming, RecordedAt: l.now()}
	l.entries = append(l.entries, Entry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	l.ids[m.ID] = struct{}{}
	l.pruneLocked()
	observer := l.observer
	l.mu.Unlock()

	if observer != nil {
		observer(e)
	}
	return true
}

// Contains reports whether a message with id has been recorded.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Entries returns a copy of the history, newest first.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LatestContext returns the newest content-bearing context message in the
// given direction. Requests and confirmations are not context values.
// "Newest" is by message timestamp, not by arrival order.
func (l *Ledger) LatestContext(incoming bool) (message.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var latest message.Message
	found := false
	for _, e := range l.entries {
		if e.Incoming != incoming || !IsContextValue(e.Message) {
			continue
		}
		if !found || e.Message.NewerThan(latest) {
			latest = e.Message
			found = true
		}
	}
	return latest, found
}

// Prune drops entries recorded longer ago than the window. Returns how many were removed.
func (l *Ledger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked()
}

func (l *Ledger) pruneLocked() int {
	cutoff := l.now().Add(-l.window)
	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if e.RecordedAt.Before(cutoff) {
			delete(l.ids, e.Message.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so pruned messages can be collected.
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = Entry{}
	}
	l.entries = kept
	return removed
}

// IsContextValue reports whether m carries a context value: a content-bearing
// (non-request, non-confirmation) message on the context channel.
func IsContextValue(m message.Message) bool {
	return m.Channel == message.ChannelContext && !m.IsRequest() && !m.ConfirmationOnly()
}
