package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/ledger"
	"github.com/roach88/tether/internal/message"
	"github.com/roach88/tether/internal/transport"
)

// ErrNoContext is returned by ResendContext when there is nothing to send.
var ErrNoContext = errors.New("no context value available")

// MessageHandler receives every inbound message the filter accepts.
// For inbound requests the returned message becomes the reply; nil means
// "acknowledge only". Runs on the work queue and must not block.
type MessageHandler func(m message.Message) *message.Message

// ContextAccessor supplies the current context value when none has been
// sent yet. requestID is set when the peer asked for it explicitly.
type ContextAccessor func(requestID *string) message.Message

// FileLocationResolver chooses where a received file is moved before the
// transport discards its temporary copy.
type FileLocationResolver func(m message.Message, tempPath string) (string, error)

// Communicator is the application facade over one transport session.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - transport callbacks are re-dispatched onto the work queue, which is
//     the only goroutine that mutates operations, the ledger or the caches
//   - completion callbacks and reachability observers run on the
//     notification dispatcher, never on the work queue
type Communicator struct {
	transport transport.Transport
	work      *engine.Dispatcher
	notify    *engine.Dispatcher
	engine    *engine.Engine
	tx        *Transmitter
	ledger    *ledger.Ledger
	factory   *message.Factory
	logger    *slog.Logger
	fileDir   string
	resync    bool

	reachable atomic.Bool
	activated atomic.Bool
	received  *contextCache

	mu        sync.RWMutex
	handler   MessageHandler
	accessor  ContextAccessor
	resolver  FileLocationResolver
	observers []func(bool)
}

type config struct {
	logger     *slog.Logger
	policy     *engine.TimeoutPolicy
	window     time.Duration
	observer   ledger.Observer
	factory    *message.Factory
	fileDir    string
	resync     bool
	quota      *engine.Quota
	ledgerOpts []ledger.Option
}

// Option configures a Communicator.
type Option func(*config)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithTimeoutPolicy overrides the operation timeouts.
func WithTimeoutPolicy(p engine.TimeoutPolicy) Option {
	return func(c *config) {
		c.policy = &p
	}
}

// WithHistoryWindow sets how long the ledger retains messages.
func WithHistoryWindow(d time.Duration) Option {
	return func(c *config) {
		c.window = d
	}
}

// WithLedgerObserver mirrors every accepted ledger entry to o.
func WithLedgerObserver(o ledger.Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// WithLedgerOptions passes extra options to the ledger (e.g. a test clock).
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(c *config) {
		c.ledgerOpts = append(c.ledgerOpts, opts...)
	}
}

// WithFactory sets the factory used for confirmations and resent context.
func WithFactory(f *message.Factory) Option {
	return func(c *config) {
		c.factory = f
	}
}

// WithFileDir sets where received files land when no resolver is installed.
func WithFileDir(dir string) Option {
	return func(c *config) {
		c.fileDir = dir
	}
}

// WithSendQuota refuses operations beyond maxOps per window with
// RATE_LIMIT_REACHED. Replies sent over a live reply are not counted.
func WithSendQuota(maxOps int, window time.Duration) Option {
	return func(c *config) {
		c.quota = engine.NewQuota(maxOps, window)
	}
}

// WithContextResync resends the current context whenever the peer becomes
// reachable again.
func WithContextResync() Option {
	return func(c *config) {
		c.resync = true
	}
}

// New creates a Communicator for t and installs itself as t's delegate.
// Nothing is sent until Run activates the session.
func New(t transport.Transport, opts ...Option) *Communicator {
	cfg := config{
		logger:  slog.Default(),
		factory: message.DefaultFactory,
		fileDir: filepath.Join(os.TempDir(), "tether-received"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	ledgerOpts := append([]ledger.Option{ledger.WithWindow(cfg.window)}, cfg.ledgerOpts...)
	if cfg.observer != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithObserver(cfg.observer))
	}

	c := &Communicator{
		transport: t,
		work:      engine.NewDispatcher("work", cfg.logger),
		notify:    engine.NewDispatcher("notify", cfg.logger),
		ledger:    ledger.New(ledgerOpts...),
		factory:   cfg.factory,
		logger:    cfg.logger,
		fileDir:   cfg.fileDir,
		resync:    cfg.resync,
		received:  &contextCache{},
	}
	// Nothing runs until the session reports activation.
	c.work.Suspend()

	c.tx = NewTransmitter(t, c.ledger, c.reachable.Load, c.onLiveReply, cfg.logger)

	engineOpts := []engine.Option{engine.WithLogger(cfg.logger)}
	if cfg.policy != nil {
		engineOpts = append(engineOpts, engine.WithTimeoutPolicy(*cfg.policy))
	}
	if cfg.quota != nil {
		engineOpts = append(engineOpts, engine.WithQuota(cfg.quota))
	}
	c.engine = engine.New(c.work, c.notify, c.tx, c.reachable.Load, engineOpts...)

	t.SetDelegate(delegate{c})
	return c
}

// Run activates the session and processes work until ctx is cancelled.
// A cancelled context is a clean shutdown and returns nil.
func (c *Communicator) Run(ctx context.Context) error {
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		c.notify.Run(ctx)
	}()
	defer func() {
		c.notify.Stop()
		<-notifyDone
	}()

	if err := c.transport.Activate(); err != nil {
		c.work.Stop()
		return fmt.Errorf("activate session: %w", err)
	}
	c.logger.Info("communicator started")

	err := c.work.Run(ctx)
	c.logger.Info("communicator stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// SendRequest submits msg and calls onComplete exactly once with the
// correlated response, or with an error.
func (c *Communicator) SendRequest(msg message.Message, onComplete engine.CompletionFunc) *engine.Operation {
	return c.engine.Submit(msg, onComplete)
}

// SendNotification submits msg without a completion callback.
// Sending a Request this way finishes it with INVALID_CONFIGURATION.
func (c *Communicator) SendNotification(msg message.Message) *engine.Operation {
	return c.engine.Submit(msg, nil)
}

// Cancel cancels the operation for message id, if it has not finished.
func (c *Communicator) Cancel(id string) {
	c.work.Post(func() {
		if c.engine.CancelID(id) {
			c.logger.Info("operation cancelled", "id", id)
		}
	})
}

// CancelOperation cancels op, including one that has not started yet.
func (c *Communicator) CancelOperation(op *engine.Operation) {
	c.engine.Cancel(op)
}

// SetMessageHandler installs the inbound message handler.
func (c *Communicator) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// SetContextAccessor installs the supplier of the current context value.
func (c *Communicator) SetContextAccessor(a ContextAccessor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessor = a
}

// SetFileLocationResolver installs the received-file relocation hook.
func (c *Communicator) SetFileLocationResolver(r FileLocationResolver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver = r
}

// OnReachabilityChanged registers fn to be told about reachability flips.
func (c *Communicator) OnReachabilityChanged(fn func(reachable bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// IsReachable reports the last reachability the transport announced.
func (c *Communicator) IsReachable() bool {
	return c.reachable.Load()
}

// IsActivated reports whether the session is active.
func (c *Communicator) IsActivated() bool {
	return c.activated.Load()
}

// History returns the ledger, newest first.
func (c *Communicator) History() []ledger.Entry {
	return c.ledger.Entries()
}

// Ledger exposes the underlying ledger for read-only inspection.
func (c *Communicator) Ledger() *ledger.Ledger {
	return c.ledger
}

// ContextMessage returns the last context value sent, or computes one with
// the context accessor when nothing has been sent yet. The computed value
// becomes the cached value unless a newer one was sent meanwhile.
func (c *Communicator) ContextMessage(requestID *string) (message.Message, bool) {
	if m, ok := c.tx.LastSentContext(); ok {
		return m, true
	}
	c.mu.RLock()
	accessor := c.accessor
	c.mu.RUnlock()
	if accessor == nil {
		return message.Message{}, false
	}
	m := accessor(requestID)
	c.tx.sent.Offer(m)
	return m, true
}

// LastReceivedContext returns the newest context value accepted from the peer.
func (c *Communicator) LastReceivedContext() (message.Message, bool) {
	return c.received.Get()
}

// ResendContext sends the current context value again under a fresh id,
// so the peer does not drop it as a duplicate.
func (c *Communicator) ResendContext() (*engine.Operation, error) {
	m, ok := c.ContextMessage(nil)
	if !ok {
		return nil, ErrNoContext
	}
	fresh := m.Restamp(c.factory)
	c.logger.Debug("resending context", "id", fresh.ID, "previous", m.ID)
	return c.SendNotification(fresh), nil
}

// setReachable runs on the work queue.
func (c *Communicator) setReachable(up bool) {
	if c.reachable.Swap(up) == up {
		return
	}
	c.logger.Info("reachability changed", "reachable", up)

	c.mu.RLock()
	observers := append([]func(bool){}, c.observers...)
	c.mu.RUnlock()
	for _, fn := range observers {
		c.notify.Post(func() { fn(up) })
	}

	if up && c.resync {
		if _, err := c.ResendContext(); err != nil && !errors.Is(err, ErrNoContext) {
			c.logger.Warn("context resync failed", "error", err)
		}
	}
}

func (c *Communicator) refreshReachability() {
	c.setReachable(c.transport.IsPeerReachable())
}

func (c *Communicator) setActivated(active bool) {
	if c.activated.Swap(active) == active {
		return
	}
	c.logger.Info("session activation changed", "activated", active)
	if active {
		c.work.Post(c.refreshReachability)
		c.work.Resume()
	} else {
		c.work.Suspend()
	}
}

// onLiveReply is the Transmitter's live reply hook. Called on a transport
// goroutine.
func (c *Communicator) onLiveReply(op *engine.Operation, data []byte, err error) {
	c.work.Post(func() {
		m := op.Message()
		if err != nil {
			if m.Channel == message.ChannelContext {
				c.replicateFallback(m)
				return
			}
			c.engine.Fail(m.ID, engine.NewSessionError(m.ID, err))
			return
		}
		if len(data) == 0 {
			return
		}
		reply, decodeErr := message.Decode(data)
		if decodeErr != nil {
			c.logger.Warn("dropping malformed reply", "id", m.ID, "error", decodeErr)
			return
		}
		c.receive(reply, nil)
	})
}

func (c *Communicator) replicateFallback(m message.Message) {
	if _, ok := c.engine.Pending(m.ID); !ok {
		return
	}
	c.logger.Debug("live context send failed, replicating", "id", m.ID)
	if _, err := c.tx.Replicate(m); err != nil {
		c.engine.Fail(m.ID, err)
		return
	}
	c.engine.Succeed(m.ID)
}

// delegate adapts transport events onto the work queue.
type delegate struct {
	c *Communicator
}

func (d delegate) OnActivationChanged(active bool) {
	d.c.setActivated(active)
}

// OnReachabilityChanged re-reads the session state on the work queue, since
// announcements from different transport goroutines may arrive out of order.
func (d delegate) OnReachabilityChanged(bool) {
	d.c.work.Post(d.c.refreshReachability)
}

func (d delegate) OnBackgroundDelivered(h transport.TransferHandle, err error) {
	d.c.work.Post(func() { d.c.transferDelivered(h, err) })
}

func (d delegate) OnFileTransferDelivered(h transport.TransferHandle, err error) {
	d.c.work.Post(func() { d.c.transferDelivered(h, err) })
}

func (d delegate) OnFileTransferProgress(h transport.TransferHandle, completed, total int64) {
	d.c.work.Post(func() {
		d.c.logger.Debug("file transfer progress", "handle", h.ID(), "completed", completed, "total", total)
		d.c.engine.TransferProgressed(h.ID())
	})
}

func (d delegate) OnInboundMessage(data []byte, reply transport.ReplyFunc) {
	d.c.work.Post(func() {
		m, err := message.Decode(data)
		if err != nil {
			d.c.logger.Warn("dropping malformed message", "error", err)
			return
		}
		d.c.receive(m, reply)
	})
}

func (d delegate) OnInboundContext(payload map[string]any) {
	d.c.work.Post(func() { d.c.receivePayload(payload, message.ChannelContext) })
}

func (d delegate) OnInboundBackground(payload map[string]any) {
	d.c.work.Post(func() { d.c.receivePayload(payload, message.ChannelBackground) })
}

// OnInboundFile relocates synchronously: the temporary file is gone once
// this returns. Files for already recorded messages are left for the
// transport to discard.
func (d delegate) OnInboundFile(f transport.ReceivedFile) {
	m, err := message.FromPayload(f.Metadata)
	if err != nil {
		d.c.logger.Warn("dropping received file with malformed metadata", "path", f.Path, "error", err)
		return
	}
	if d.c.ledger.Contains(m.ID) {
		d.c.logger.Debug("dropping duplicate file", "id", m.ID, "path", f.Path)
		return
	}
	final, err := d.c.relocate(m, f.Path)
	if err != nil {
		d.c.logger.Error("could not keep received file", "id", m.ID, "error", err)
		return
	}
	m = m.WithUserInfo(message.KeyFilePath, final)
	d.c.work.Post(func() { d.c.receive(m, nil) })
}

func (c *Communicator) transferDelivered(h transport.TransferHandle, err error) {
	id, _ := c.tx.Forget(h.ID())
	if err != nil {
		c.logger.Info("transfer failed", "id", id, "handle", h.ID(), "error", err)
	} else {
		c.logger.Debug("transfer delivered", "id", id, "handle", h.ID())
	}
	c.engine.TransferDelivered(h.ID(), err)
}

func (c *Communicator) receivePayload(payload map[string]any, via message.Channel) {
	m, err := message.FromPayload(payload)
	if err != nil {
		c.logger.Warn("dropping malformed payload", "via", via, "error", err)
		return
	}
	c.receive(m, nil)
}

var _ transport.Delegate = delegate{}
