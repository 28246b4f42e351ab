package engine

import (
	"log/slog"

	"github.com/roach88/tether/internal/message"
	"github.com/roach88/tether/internal/transport"
)

// Outcome is what a Transmitter reports after initiating delivery.
type Outcome struct {
	// Handle is set when the transport started a background or file transfer.
	Handle transport.TransferHandle

	// Completed finishes the operation immediately with success and no reply.
	// Used by primitives without a reply mechanism (context replication).
	Completed bool
}

// Transmitter turns an executing operation into a transport call.
// Transmit runs on the work queue and must not block.
type Transmitter interface {
	Transmit(op *Operation) (Outcome, error)
}

// TransferForgetter is implemented by transmitters that track in-flight
// transfers. A cancelled transfer is never reported back by the transport,
// so the engine tells the transmitter to drop it.
type TransferForgetter interface {
	Forget(handleID string) (messageID string, ok bool)
}

// Engine owns every Operation from Submit to finish.
//
// Thread-safety model:
//   - Submit(), Cancel(): safe from any goroutine
//   - Complete(), Fail(), TransferDelivered(), TransferProgressed(), Pending():
//     must run on the work queue (the communicator posts them there)
//
// INVARIANTS:
//   - an operation is initiated at most once, in Submit order
//   - an operation finishes exactly once; its callback runs exactly once
//   - every executing operation has exactly one armed timer
type Engine struct {
	work        *Dispatcher
	notify      *Dispatcher
	transmitter Transmitter
	reachable   func() bool
	policy      TimeoutPolicy
	quota       *Quota
	logger      *slog.Logger

	// Work queue only.
	pending   map[string]*Operation // by message id
	byHandle  map[string]*Operation // by transfer handle id
	initiated int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeoutPolicy overrides the timeouts. Zero fields keep their defaults.
func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(e *Engine) {
		e.policy = p.WithDefaults()
	}
}

// WithQuota limits how fast operations may start. Nil disables the limit.
func WithQuota(q *Quota) Option {
	return func(e *Engine) {
		e.quota = q
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine that initiates operations on work and delivers
// completion callbacks on notify. reachable is consulted whenever a timer is
// armed.
func New(work, notify *Dispatcher, t Transmitter, reachable func() bool, opts ...Option) *Engine {
	e := &Engine{
		work:        work,
		notify:      notify,
		transmitter: t,
		reachable:   reachable,
		policy:      DefaultTimeoutPolicy(),
		logger:      slog.Default(),
		pending:     make(map[string]*Operation),
		byHandle:    make(map[string]*Operation),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the active timeout policy.
func (e *Engine) Policy() TimeoutPolicy {
	return e.policy
}

// Submit creates an Operation for msg and enqueues it for execution.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Submit(msg message.Message, onComplete CompletionFunc) *Operation {
	op := newOperation(msg, onComplete)
	e.logger.Debug("operation enqueued",
		"id", msg.ID,
		"kind", msg.Kind.Token(),
		"channel", msg.Channel,
	)
	if !e.work.Post(func() { e.execute(op) }) {
		// The queue is gone, so there is no registry to clean up.
		if op.finish(nil, NewSessionError(msg.ID, errStopped)) {
			e.deliver(op)
		}
	}
	return op
}

// Cancel finishes op with ErrCancelled and cancels its in-flight transfer.
// An operation that has not started executing never will.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Cancel(op *Operation) {
	if op.cancelIfCreated() {
		e.logger.Info("operation cancelled before execution", "id", op.ID())
		e.deliver(op)
		return
	}
	e.work.Post(func() {
		if op.State() != StateExecuting {
			return
		}
		e.cancelTransfer(op)
		e.settle(op, nil, NewCancelledError(op.ID()))
	})
}

// CancelID cancels the pending operation for message id.
// Must run on the work queue. Returns false if none is pending.
func (e *Engine) CancelID(id string) bool {
	op, ok := e.pending[id]
	if !ok {
		return false
	}
	e.cancelTransfer(op)
	e.settle(op, nil, NewCancelledError(id))
	return true
}

func (e *Engine) cancelTransfer(op *Operation) {
	h := op.Handle()
	if h == nil {
		return
	}
	h.Cancel()
	if f, ok := e.transmitter.(TransferForgetter); ok {
		f.Forget(h.ID())
	}
}

// Pending returns the executing operation for message id.
// Must run on the work queue.
func (e *Engine) Pending(id string) (*Operation, bool) {
	op, ok := e.pending[id]
	return op, ok
}

// PendingCount returns how many operations are executing.
// Must run on the work queue.
func (e *Engine) PendingCount() int {
	return len(e.pending)
}

// Complete finishes the operation for requestID with reply.
// Must run on the work queue. Returns false if nothing was pending.
func (e *Engine) Complete(requestID string, reply message.Message) bool {
	op, ok := e.pending[requestID]
	if !ok {
		return false
	}
	return e.settle(op, &reply, nil)
}

// Succeed finishes the operation for id with success and no reply.
// Must run on the work queue. Returns false if nothing was pending.
func (e *Engine) Succeed(id string) bool {
	op, ok := e.pending[id]
	if !ok {
		return false
	}
	return e.settle(op, nil, nil)
}

// Fail finishes the operation for id with err.
// Must run on the work queue. Returns false if nothing was pending.
func (e *Engine) Fail(id string, err error) bool {
	op, ok := e.pending[id]
	if !ok {
		return false
	}
	return e.settle(op, nil, err)
}

// TransferDelivered handles a background or file transfer completion.
// Failures finish the owning operation. Success finishes it unless it still
// waits for a correlated response.
// Must run on the work queue.
func (e *Engine) TransferDelivered(handleID string, err error) {
	op, ok := e.byHandle[handleID]
	if !ok {
		return
	}
	delete(e.byHandle, handleID)

	if err != nil {
		e.settle(op, nil, NewSessionError(op.ID(), err))
		return
	}
	if !op.ExpectsResponse() {
		e.settle(op, nil, nil)
	}
}

// TransferProgressed re-arms the timeout of the operation owning handleID,
// since progress resets the deadline.
// Must run on the work queue.
func (e *Engine) TransferProgressed(handleID string) {
	if op, ok := e.byHandle[handleID]; ok {
		e.armTimeout(op)
	}
}

// execute runs on the work queue: Created -> Executing, arm, transmit.
func (e *Engine) execute(op *Operation) {
	if !op.begin(e.initiated + 1) {
		return // cancelled while queued
	}
	e.initiated++
	e.pending[op.ID()] = op
	e.armTimeout(op)

	e.logger.Debug("operation executing", "id", op.ID(), "seq", op.Seq(), "timeout", op.Timeout())

	if e.quota != nil {
		if err := e.quota.Check(op.ID()); err != nil {
			e.settle(op, nil, err)
			return
		}
	}

	outcome, err := e.transmitter.Transmit(op)
	if err != nil {
		e.settle(op, nil, err)
		return
	}
	if outcome.Handle != nil {
		e.attach(op, outcome.Handle)
	}
	if outcome.Completed {
		e.settle(op, nil, nil)
		return
	}
	if op.ExpectsResponse() || e.awaitsTransfer(op) {
		return
	}

	// Nothing will ever correlate to a fire-and-forget message; finish after
	// a short grace period so an early acknowledgement can still land.
	op.arm(e.policy.NotificationGrace, func(gen uint64) {
		e.work.Post(func() {
			if op.timerCurrent(gen) {
				e.settle(op, nil, nil)
			}
		})
	})
}

// awaitsTransfer reports whether op finishes on its transfer callback rather
// than after the grace period: a file-bearing response with a live transfer.
func (e *Engine) awaitsTransfer(op *Operation) bool {
	return op.Message().Channel == message.ChannelFile && op.Handle() != nil
}

// attach registers an in-flight transfer and re-arms the timer.
func (e *Engine) attach(op *Operation, h transport.TransferHandle) {
	op.setHandle(h)
	e.byHandle[h.ID()] = op
	e.armTimeout(op)
	e.logger.Debug("transfer attached", "id", op.ID(), "handle", h.ID())
}

func (e *Engine) armTimeout(op *Operation) {
	d := e.policy.For(op.Message(), e.reachable())
	op.arm(d, func(gen uint64) {
		e.work.Post(func() {
			if op.timerCurrent(gen) {
				e.settle(op, nil, NewTimeoutError(op.ID(), d))
			}
		})
	})
}

// settle finishes op, unregisters it and schedules its callback.
// Returns false if op had already finished.
func (e *Engine) settle(op *Operation, reply *message.Message, err error) bool {
	if !op.finish(reply, err) {
		return false
	}
	delete(e.pending, op.ID())
	if h := op.Handle(); h != nil {
		delete(e.byHandle, h.ID())
	}

	_, finalErr := op.Result()
	if finalErr != nil {
		e.logger.Info("operation failed", "id", op.ID(), "seq", op.Seq(), "code", CodeOf(finalErr), "error", finalErr)
	} else {
		e.logger.Debug("operation succeeded", "id", op.ID(), "seq", op.Seq(), "reply", reply != nil)
	}
	e.deliver(op)
	return true
}

// deliver runs the completion callback on the notification dispatcher.
func (e *Engine) deliver(op *Operation) {
	if op.onComplete == nil {
		return
	}
	reply, err := op.Result()
	cb := op.onComplete
	if !e.notify.Post(func() { cb(reply, err) }) {
		e.logger.Warn("completion dropped: notification dispatcher stopped", "id", op.ID())
	}
}
