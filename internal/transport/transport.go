// Package transport defines the session collaborator the delivery engine
// drives, plus an in-process Loopback pair used by tests and the demo CLI.
//
// A Transport moves bytes between exactly two peers using four primitives:
//   - SendWithReply: live, low latency, only while the peer is reachable
//   - ReplicateContext: last value wins, available once activated
//   - EnqueueBackground: best effort queue, available once activated
//   - TransferFile: bulk transfer with its own completion callback
//
// Every primitive is asynchronous. Results arrive later through the
// Delegate, on goroutines owned by the transport.
package transport

import "errors"

var (
	// ErrNotActivated is returned before the session has been activated.
	ErrNotActivated = errors.New("transport session not activated")
	// ErrNotReachable is returned by SendWithReply while the peer is unreachable.
	ErrNotReachable = errors.New("peer not reachable")
	// ErrUnsupported is returned by primitives the environment lacks.
	ErrUnsupported = errors.New("primitive not supported in this environment")
	// ErrCancelled is reported for transfers cancelled before delivery.
	ErrCancelled = errors.New("transfer cancelled")
)

// ReplyFunc answers an inbound live message. It may be called at most once.
type ReplyFunc func(reply []byte)

// TransferHandle identifies an in-flight background or file transfer.
type TransferHandle interface {
	// ID is unique per transport instance.
	ID() string
	// Metadata is the payload map the transfer was started with.
	Metadata() map[string]any
	// Cancel stops the transfer if it has not been delivered yet.
	Cancel()
}

// ReceivedFile describes a file delivered by the peer. Path points to a
// temporary location that is removed once the delegate callback returns.
type ReceivedFile struct {
	Path     string
	Metadata map[string]any
}

// Delegate receives session events. Implementations must not block for long;
// the communicator re-dispatches every call onto its own work queue.
type Delegate interface {
	OnActivationChanged(activated bool)
	OnReachabilityChanged(reachable bool)
	OnBackgroundDelivered(h TransferHandle, err error)
	OnFileTransferDelivered(h TransferHandle, err error)
	OnFileTransferProgress(h TransferHandle, completed, total int64)
	OnInboundMessage(data []byte, reply ReplyFunc)
	OnInboundFile(f ReceivedFile)
	OnInboundContext(payload map[string]any)
	OnInboundBackground(payload map[string]any)
}

// Transport is the session collaborator.
type Transport interface {
	// SetDelegate installs the event receiver. Call before Activate.
	SetDelegate(d Delegate)
	// Activate starts the session; OnActivationChanged(true) follows.
	Activate() error
	// IsPeerReachable reports whether live delivery is currently possible.
	IsPeerReachable() bool
	// SendWithReply delivers data live. onReply receives the peer's reply or
	// a delivery error. A non-nil return means onReply will never be called.
	SendWithReply(data []byte, onReply func(reply []byte, err error)) error
	// ReplicateContext overwrites the replicated context value.
	ReplicateContext(payload map[string]any) error
	// EnqueueBackground queues payload for best-effort delivery.
	EnqueueBackground(payload map[string]any) (TransferHandle, error)
	// TransferFile starts a file transfer carrying metadata.
	TransferFile(path string, metadata map[string]any) (TransferHandle, error)
}
