package message

import (
	"bytes"
	"maps"
	"time"

	"golang.org/x/text/unicode/norm"
)

// User info keys carrying routing metadata. The map stays open for callers.
const (
	KeyContentType  = "contentType"
	KeyFilePath     = "localFilePath"
	KeyConfirmation = "confirmation"
	KeyError        = "error"
)

// flagTrue is the value written for boolean markers.
const flagTrue = "true"

// Message is the envelope exchanged between peers.
// Treat it as immutable after construction; use the With* helpers to derive copies.
type Message struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Channel   Channel           `json:"channel"`
	Timestamp time.Time         `json:"timestamp"`
	UserInfo  map[string]string `json:"user_info,omitempty"`
	Payload   []byte            `json:"payload,omitempty"`
}

// IsRequest reports whether the message expects exactly one response.
func (m Message) IsRequest() bool {
	return m.Kind.IsRequest()
}

// RequestID returns the id of the request this message answers.
// Notifications and requests return false.
func (m Message) RequestID() (string, bool) {
	return m.Kind.Correlates()
}

// ConfirmationOnly reports whether the message merely acknowledges and
// carries no real content.
func (m Message) ConfirmationOnly() bool {
	return m.UserInfo[KeyConfirmation] == flagTrue
}

// IsError reports whether the message carries the error marker.
func (m Message) IsError() bool {
	return m.UserInfo[KeyError] == flagTrue
}

// FilePath returns the local file path metadata, if present.
func (m Message) FilePath() (string, bool) {
	p, ok := m.UserInfo[KeyFilePath]
	return p, ok
}

// ContentType returns the content classification, or "".
func (m Message) ContentType() string {
	return m.UserInfo[KeyContentType]
}

// WithUserInfo returns a copy of m with key set to value.
// The value is NFC normalized like the factory's user info.
func (m Message) WithUserInfo(key, value string) Message {
	out := m
	out.UserInfo = maps.Clone(m.UserInfo)
	if out.UserInfo == nil {
		out.UserInfo = make(map[string]string, 1)
	}
	out.UserInfo[key] = normalizeValue(key, value)
	return out
}

// normalizeValue puts free-text values in NFC so peers that typed the same
// text compare equal. Keys are left alone so distinct keys never merge, and
// file paths are kept byte-exact for the filesystem.
func normalizeValue(key, value string) string {
	if key == KeyFilePath {
		return value
	}
	return norm.NFC.String(value)
}

func normalizeUserInfo(userInfo map[string]string) map[string]string {
	if userInfo == nil {
		return nil
	}
	out := make(map[string]string, len(userInfo))
	for k, v := range userInfo {
		out[k] = normalizeValue(k, v)
	}
	return out
}

// Restamp returns a copy of m with a fresh id and timestamp from f.
// Content, kind and channel are preserved.
func (m Message) Restamp(f *Factory) Message {
	out := m
	out.ID = f.IDs.Generate()
	out.Timestamp = f.now()
	out.UserInfo = maps.Clone(m.UserInfo)
	out.Payload = bytes.Clone(m.Payload)
	return out
}

// Equal compares all fields. Timestamps compare as instants.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.Kind == o.Kind &&
		m.Channel == o.Channel &&
		m.Timestamp.Equal(o.Timestamp) &&
		maps.Equal(m.UserInfo, o.UserInfo) &&
		bytes.Equal(m.Payload, o.Payload)
}

// NewerThan reports whether m was created strictly after o.
func (m Message) NewerThan(o Message) bool {
	return m.Timestamp.After(o.Timestamp)
}

// Factory builds messages with injectable id and time sources.
type Factory struct {
	IDs IDGenerator
	Now func() time.Time
}

// DefaultFactory uses UUIDv7 ids and the wall clock.
var DefaultFactory = &Factory{IDs: UUIDv7Generator{}, Now: time.Now}

func (f *Factory) now() time.Time {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	// UTC without monotonic reading so the value survives the wire codec unchanged.
	return now().UTC().Round(0)
}

func (f *Factory) build(kind Kind, channel Channel, userInfo map[string]string, payload []byte) Message {
	return Message{
		ID:        f.IDs.Generate(),
		Kind:      kind,
		Channel:   channel,
		Timestamp: f.now(),
		UserInfo:  normalizeUserInfo(userInfo),
		Payload:   bytes.Clone(payload),
	}
}

// NewRequest creates a message that expects exactly one response.
func (f *Factory) NewRequest(channel Channel, userInfo map[string]string, payload []byte) Message {
	return f.build(Request(), channel, userInfo, payload)
}

// NewResponse creates a response to requestID, or a notification when
// requestID is nil.
func (f *Factory) NewResponse(requestID *string, channel Channel, userInfo map[string]string, payload []byte) Message {
	return f.build(ResponseTo(requestID), channel, userInfo, payload)
}

// NewConfirmation creates a content-free response that only acknowledges.
func (f *Factory) NewConfirmation(requestID *string, channel Channel) Message {
	return f.build(ResponseTo(requestID), channel, map[string]string{KeyConfirmation: flagTrue}, nil)
}

// NewError creates a response flagged with the error marker whose payload
// is the error text.
func (f *Factory) NewError(requestID *string, channel Channel, err error) Message {
	var payload []byte
	if err != nil {
		payload = []byte(err.Error())
	}
	return f.build(ResponseTo(requestID), channel, map[string]string{KeyError: flagTrue}, payload)
}

// NewRequest creates a request using DefaultFactory.
func NewRequest(channel Channel, userInfo map[string]string, payload []byte) Message {
	return DefaultFactory.NewRequest(channel, userInfo, payload)
}

// NewResponse creates a response (or notification) using DefaultFactory.
func NewResponse(requestID *string, channel Channel, userInfo map[string]string, payload []byte) Message {
	return DefaultFactory.NewResponse(requestID, channel, userInfo, payload)
}

// NewNotification creates a notification using DefaultFactory.
func NewNotification(channel Channel, userInfo map[string]string, payload []byte) Message {
	return DefaultFactory.NewResponse(nil, channel, userInfo, payload)
}

// NewConfirmation creates a confirmation using DefaultFactory.
func NewConfirmation(requestID *string, channel Channel) Message {
	return DefaultFactory.NewConfirmation(requestID, channel)
}

// NewError creates an error response using DefaultFactory.
func NewError(requestID *string, channel Channel, err error) Message {
	return DefaultFactory.NewError(requestID, channel, err)
}
