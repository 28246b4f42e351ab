package engine

import (
	"sync"
	"time"

	"github.com/roach88/tether/internal/message"
	"github.com/roach88/tether/internal/transport"
)

// State is an Operation's lifecycle state.
type State int

const (
	// StateCreated: enqueued, not yet dequeued.
	StateCreated State = iota
	// StateExecuting: dequeued, transmission initiated, awaiting completion.
	StateExecuting
	// StateFinished: terminal.
	StateFinished
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// CompletionFunc receives an operation's result exactly once.
// reply is nil for notifications, acknowledgements without payload, and failures.
type CompletionFunc func(reply *message.Message, err error)

// Operation tracks one outbound message's delivery attempt.
//
// The presence of a completion callback replaces a response-aware subtype:
// request operations must carry one, notifications may.
//
// Thread-safety: state transitions are guarded by an internal mutex so
// Finish-style calls are idempotent from any goroutine.
type Operation struct {
	msg        message.Message
	onComplete CompletionFunc

	mu       sync.Mutex
	seq      int64
	state    State
	timer    *time.Timer
	timerGen uint64
	timeout  time.Duration
	handle   transport.TransferHandle
	reply    *message.Message
	err      error
	done     chan struct{}
}

func newOperation(msg message.Message, onComplete CompletionFunc) *Operation {
	return &Operation{
		msg:        msg,
		onComplete: onComplete,
		done:       make(chan struct{}),
	}
}

// ID returns the wrapped message's id.
func (op *Operation) ID() string { return op.msg.ID }

// Message returns the wrapped outbound message.
func (op *Operation) Message() message.Message { return op.msg }

// Seq returns the 1-based position in which the engine initiated op, or 0 if
// it never started executing.
func (op *Operation) Seq() int64 {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.seq
}

// ExpectsResponse reports whether a correlated response must finish it.
func (op *Operation) ExpectsResponse() bool { return op.msg.IsRequest() }

// State returns the current lifecycle state.
func (op *Operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Timeout returns the most recently armed timer duration.
func (op *Operation) Timeout() time.Duration {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.timeout
}

// Handle returns the in-flight transfer handle, if any.
func (op *Operation) Handle() transport.TransferHandle {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.handle
}

// Done is closed when the operation finishes.
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Result returns the final reply and error. Only meaningful after Done.
func (op *Operation) Result() (*message.Message, error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.reply, op.err
}

// begin moves Created -> Executing and stamps seq. Returns false if already
// finished.
func (op *Operation) begin(seq int64) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != StateCreated {
		return false
	}
	op.state = StateExecuting
	op.seq = seq
	return true
}

// cancelIfCreated finishes a not-yet-executing operation. Returns false if
// the operation has already been dequeued.
func (op *Operation) cancelIfCreated() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != StateCreated {
		return false
	}
	return op.finishLocked(nil, NewCancelledError(op.msg.ID))
}

// finish settles the result. Only the first call has any effect; it stops the
// timer and returns true.
func (op *Operation) finish(reply *message.Message, err error) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.finishLocked(reply, err)
}

func (op *Operation) finishLocked(reply *message.Message, err error) bool {
	if op.state == StateFinished {
		return false
	}
	op.state = StateFinished
	if op.timer != nil {
		op.timer.Stop()
		op.timer = nil
	}
	op.timerGen++

	if op.ExpectsResponse() && op.onComplete == nil {
		err = NewInvalidConfiguration(op.msg.ID, "request finished without a completion callback")
		reply = nil
	}
	op.reply = reply
	op.err = err
	close(op.done)
	return true
}

// arm replaces the operation's single timer. fire runs only if no later arm
// or finish has superseded this timer. Returns false if already finished.
func (op *Operation) arm(d time.Duration, fire func(gen uint64)) bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.state == StateFinished {
		return false
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	op.timerGen++
	gen := op.timerGen
	op.timeout = d
	op.timer = time.AfterFunc(d, func() { fire(gen) })
	return true
}

// timerCurrent reports whether gen is still the live timer.
func (op *Operation) timerCurrent(gen uint64) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state != StateFinished && op.timerGen == gen
}

func (op *Operation) setHandle(h transport.TransferHandle) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.handle = h
}
