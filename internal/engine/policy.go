package engine

import (
	"time"

	"github.com/roach88/tether/internal/message"
)

// Default timeouts.
const (
	DefaultReachableTimeout    = 5 * time.Second
	DefaultFileTransferTimeout = 40 * time.Second
	// DefaultUnreachableTimeout covers background-queue delivery latency.
	DefaultUnreachableTimeout = 2400 * time.Second
	// DefaultNotificationGrace is how long a fire-and-forget operation stays
	// open after transmission before finishing with success.
	DefaultNotificationGrace = 500 * time.Millisecond
)

// TimeoutPolicy decides how long an operation may stay executing.
type TimeoutPolicy struct {
	Reachable         time.Duration `yaml:"reachable"`
	FileTransfer      time.Duration `yaml:"file_transfer"`
	Unreachable       time.Duration `yaml:"unreachable"`
	NotificationGrace time.Duration `yaml:"notification_grace"`
}

// DefaultTimeoutPolicy returns the production timeouts.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Reachable:         DefaultReachableTimeout,
		FileTransfer:      DefaultFileTransferTimeout,
		Unreachable:       DefaultUnreachableTimeout,
		NotificationGrace: DefaultNotificationGrace,
	}
}

// For returns the timeout for m given the current reachability.
func (p TimeoutPolicy) For(m message.Message, reachable bool) time.Duration {
	if !reachable {
		return p.Unreachable
	}
	if m.Channel == message.ChannelFile {
		return p.FileTransfer
	}
	return p.Reachable
}

// WithDefaults fills zero fields from DefaultTimeoutPolicy.
func (p TimeoutPolicy) WithDefaults() TimeoutPolicy {
	d := DefaultTimeoutPolicy()
	if p.Reachable <= 0 {
		p.Reachable = d.Reachable
	}
	if p.FileTransfer <= 0 {
		p.FileTransfer = d.FileTransfer
	}
	if p.Unreachable <= 0 {
		p.Unreachable = d.Unreachable
	}
	if p.NotificationGrace <= 0 {
		p.NotificationGrace = d.NotificationGrace
	}
	return p
}
