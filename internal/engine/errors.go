package engine

import (
	"errors"
	"fmt"
	"time"
)

// DeliveryError is the typed failure an Operation finishes with.
//
// Callers always get either a success (possibly without a reply) or a
// DeliveryError; transport failures are wrapped, never retried.
type DeliveryError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// MessageID identifies the outbound message, when known.
	MessageID string

	// Err is the underlying cause (transport error, filesystem error).
	Err error
}

// ErrorCode categorizes delivery failures.
type ErrorCode string

const (
	// ErrCodeDeviceNotReachable indicates no primitive could reach the peer.
	ErrCodeDeviceNotReachable ErrorCode = "DEVICE_NOT_REACHABLE"

	// ErrCodeRateLimitReached is raised only by an engine configured with a Quota.
	ErrCodeRateLimitReached ErrorCode = "RATE_LIMIT_REACHED"

	// ErrCodeInvalidConfiguration indicates a caller bug, such as a request
	// submitted without a completion callback.
	ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"

	// ErrCodeCancelled indicates the operation or its transfer was cancelled.
	ErrCodeCancelled ErrorCode = "MESSAGE_TRANSMISSION_CANCELLED"

	// ErrCodeSessionError wraps a failure reported by the transport.
	ErrCodeSessionError ErrorCode = "SESSION_ERROR"

	// ErrCodeNoURLPathProvided indicates a file response without path metadata.
	ErrCodeNoURLPathProvided ErrorCode = "NO_URL_PATH_PROVIDED"

	// ErrCodeFileNotFound indicates the path metadata names no readable file.
	ErrCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"

	// ErrCodeTimeout indicates no completion arrived within the timeout.
	ErrCodeTimeout ErrorCode = "TOOK_TOO_LONG_TO_RESPOND"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrDeviceNotReachable   = &DeliveryError{Code: ErrCodeDeviceNotReachable, Message: "device not reachable"}
	ErrRateLimitReached     = &DeliveryError{Code: ErrCodeRateLimitReached, Message: "rate limit reached"}
	ErrInvalidConfiguration = &DeliveryError{Code: ErrCodeInvalidConfiguration, Message: "invalid configuration"}
	ErrCancelled            = &DeliveryError{Code: ErrCodeCancelled, Message: "message transmission cancelled"}
	ErrSession              = &DeliveryError{Code: ErrCodeSessionError, Message: "session error"}
	ErrNoURLPathProvided    = &DeliveryError{Code: ErrCodeNoURLPathProvided, Message: "no file path provided"}
	ErrFileNotFound         = &DeliveryError{Code: ErrCodeFileNotFound, Message: "file not found"}
	ErrTimeout              = &DeliveryError{Code: ErrCodeTimeout, Message: "took too long to respond"}
)

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.MessageID != "" {
		msg += fmt.Sprintf(" (message=%s)", e.MessageID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is matches any DeliveryError with the same code.
func (e *DeliveryError) Is(target error) bool {
	var t *DeliveryError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the DeliveryError code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// NewSessionError wraps a transport failure.
func NewSessionError(messageID string, err error) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeSessionError,
		Message:   "transport reported a failure",
		MessageID: messageID,
		Err:       err,
	}
}

// NewInvalidConfiguration reports a caller bug.
func NewInvalidConfiguration(messageID, details string) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeInvalidConfiguration,
		Message:   details,
		MessageID: messageID,
	}
}

// NewTimeoutError reports an expired operation.
func NewTimeoutError(messageID string, after time.Duration) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("no completion after %s", after),
		MessageID: messageID,
	}
}

// NewCancelledError reports a cancelled operation.
func NewCancelledError(messageID string) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeCancelled,
		Message:   "message transmission cancelled",
		MessageID: messageID,
	}
}

// NewRateLimitError reports an operation refused by a Quota.
func NewRateLimitError(messageID string, maxOps int, window time.Duration) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeRateLimitReached,
		Message:   fmt.Sprintf("more than %d operations within %s", maxOps, window),
		MessageID: messageID,
	}
}

// NewDeviceNotReachable reports that no primitive could carry the message.
func NewDeviceNotReachable(messageID string, err error) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeDeviceNotReachable,
		Message:   "no delivery primitive available",
		MessageID: messageID,
		Err:       err,
	}
}

// NewFileError reports a file response that cannot be transferred.
func NewFileError(code ErrorCode, messageID, path string, err error) *DeliveryError {
	msg := "no file path provided"
	if code == ErrCodeFileNotFound {
		msg = fmt.Sprintf("file %q not readable", path)
	}
	return &DeliveryError{
		Code:      code,
		Message:   msg,
		MessageID: messageID,
		Err:       err,
	}
}

// errStopped is wrapped when an operation is submitted after shutdown.
var errStopped = errors.New("engine stopped")
