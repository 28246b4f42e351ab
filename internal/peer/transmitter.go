package peer

import (
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/ledger"
	"github.com/roach88/tether/internal/message"
	"github.com/roach88/tether/internal/transport"
)

// LiveReplyFunc receives the outcome of a live send. It is called on a
// transport goroutine; implementations re-dispatch onto the work queue.
type LiveReplyFunc func(op *engine.Operation, reply []byte, err error)

// Transmitter selects a transport primitive for each executing operation.
//
// Channel selection:
//   - ContextReplication: live send when reachable, else replicate the context
//   - FileTransfer responses: file transfer (queued by the transport)
//   - everything else: live send when reachable, else the background queue
//
// Transmit runs on the work queue. The in-flight registry is therefore only
// touched from there; the context cache has its own lock because the
// application reads it.
type Transmitter struct {
	transport transport.Transport
	ledger    *ledger.Ledger
	reachable func() bool
	onReply   LiveReplyFunc
	logger    *slog.Logger

	sent *contextCache

	inflight map[string]string // handle id -> message id
}

// NewTransmitter creates a Transmitter. onReply may be nil when no live
// replies are expected.
func NewTransmitter(t transport.Transport, l *ledger.Ledger, reachable func() bool, onReply LiveReplyFunc, logger *slog.Logger) *Transmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transmitter{
		transport: t,
		ledger:    l,
		reachable: reachable,
		onReply:   onReply,
		logger:    logger,
		sent:      &contextCache{},
		inflight:  make(map[string]string),
	}
}

// Transmit implements engine.Transmitter.
func (t *Transmitter) Transmit(op *engine.Operation) (engine.Outcome, error) {
	m := op.Message()

	// Recorded before the transport sees it so an echo is always recognised.
	t.ledger.Record(m, false)

	switch {
	case m.Channel == message.ChannelContext:
		return t.transmitContext(op)
	case m.Channel == message.ChannelFile && !m.IsRequest():
		return t.transferFile(m)
	default:
		if t.reachable() {
			err := t.sendLive(op)
			if err == nil {
				return engine.Outcome{}, nil
			}
			if !errors.Is(err, transport.ErrNotReachable) {
				return engine.Outcome{}, engine.NewSessionError(m.ID, err)
			}
			t.logger.Debug("peer went away, queueing instead", "id", m.ID)
		}
		return t.enqueue(m)
	}
}

func (t *Transmitter) transmitContext(op *engine.Operation) (engine.Outcome, error) {
	m := op.Message()
	if t.reachable() {
		err := t.sendLive(op)
		if err == nil {
			t.remember(m)
			return engine.Outcome{}, nil
		}
		t.logger.Debug("live context send failed, replicating", "id", m.ID, "error", err)
	}
	return t.Replicate(m)
}

// Replicate writes m to the replicated context and reports the operation
// as completed, since replication has no reply mechanism.
func (t *Transmitter) Replicate(m message.Message) (engine.Outcome, error) {
	payload, err := message.ToPayload(m)
	if err != nil {
		return engine.Outcome{}, engine.NewSessionError(m.ID, err)
	}
	if err := t.transport.ReplicateContext(payload); err != nil {
		return engine.Outcome{}, engine.NewSessionError(m.ID, err)
	}
	t.remember(m)
	return engine.Outcome{Completed: true}, nil
}

func (t *Transmitter) sendLive(op *engine.Operation) error {
	m := op.Message()
	data, err := message.Encode(m)
	if err != nil {
		return err
	}
	return t.transport.SendWithReply(data, func(reply []byte, err error) {
		if t.onReply != nil {
			t.onReply(op, reply, err)
		}
	})
}

func (t *Transmitter) enqueue(m message.Message) (engine.Outcome, error) {
	payload, err := message.ToPayload(m)
	if err != nil {
		return engine.Outcome{}, engine.NewSessionError(m.ID, err)
	}
	h, err := t.transport.EnqueueBackground(payload)
	if err != nil {
		if errors.Is(err, transport.ErrUnsupported) && !t.reachable() {
			return engine.Outcome{}, engine.NewDeviceNotReachable(m.ID, err)
		}
		return engine.Outcome{}, engine.NewSessionError(m.ID, err)
	}
	t.track(h, m)
	return engine.Outcome{Handle: h}, nil
}

func (t *Transmitter) transferFile(m message.Message) (engine.Outcome, error) {
	path, ok := m.FilePath()
	if !ok {
		return engine.Outcome{}, engine.NewFileError(engine.ErrCodeNoURLPathProvided, m.ID, "", nil)
	}
	if path == "" {
		return engine.Outcome{}, engine.NewFileError(engine.ErrCodeFileNotFound, m.ID, path, nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return engine.Outcome{}, engine.NewFileError(engine.ErrCodeFileNotFound, m.ID, path, err)
	}
	f.Close()

	payload, err := message.ToPayload(m)
	if err != nil {
		return engine.Outcome{}, engine.NewSessionError(m.ID, err)
	}
	h, err := t.transport.TransferFile(path, payload)
	if err != nil {
		return engine.Outcome{}, engine.NewSessionError(m.ID, err)
	}
	t.track(h, m)
	return engine.Outcome{Handle: h}, nil
}

func (t *Transmitter) track(h transport.TransferHandle, m message.Message) {
	t.inflight[h.ID()] = m.ID
	t.logger.Debug("transfer started", "id", m.ID, "handle", h.ID(), "channel", m.Channel)
}

// Forget drops a finished transfer from the registry and returns the id of
// the message it carried.
func (t *Transmitter) Forget(handleID string) (string, bool) {
	id, ok := t.inflight[handleID]
	delete(t.inflight, handleID)
	return id, ok
}

// InFlight returns how many transfers are awaiting a delivery callback.
func (t *Transmitter) InFlight() int {
	return len(t.inflight)
}

// LastSentContext returns the newest context value handed to the transport.
func (t *Transmitter) LastSentContext() (message.Message, bool) {
	return t.sent.Get()
}

func (t *Transmitter) remember(m message.Message) {
	if ledger.IsContextValue(m) {
		t.sent.Offer(m)
	}
}

// contextCache holds the newest context value seen in one direction.
// Offers never move it backwards in time.
type contextCache struct {
	mu  sync.RWMutex
	msg message.Message
	set bool
}

// Offer stores m unless the cache already holds something newer.
// Returns whether m was stored.
func (c *contextCache) Offer(m message.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set && c.msg.NewerThan(m) {
		return false
	}
	c.msg = m
	c.set = true
	return true
}

func (c *contextCache) Get() (message.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.msg, c.set
}

var (
	_ engine.Transmitter       = (*Transmitter)(nil)
	_ engine.TransferForgetter = (*Transmitter)(nil)
)
