package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Payload keys of the {messageBytes, messageId} pair used by the
// context-replication, background and file-transfer primitives.
const (
	PayloadKeyBytes = "messageBytes"
	PayloadKeyID    = "messageId"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed message envelope")

// Encode serializes m to its JSON wire envelope. The envelope is exact:
// Decode returns a message Equal to m.
func Encode(m Message) ([]byte, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("encode message: empty id")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return data, nil
}

// Decode parses a JSON wire envelope.
// An unknown kind token or channel makes the whole envelope malformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m.ID == "" {
		return Message{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if _, err := ParseChannel(string(m.Channel)); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m.Kind.Case == 0 {
		return Message{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

// ToPayload wraps m in the {messageBytes, messageId} pair.
func ToPayload(m Message) (map[string]any, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		PayloadKeyBytes: data,
		PayloadKeyID:    m.ID,
	}, nil
}

// FromPayload unwraps a {messageBytes, messageId} pair.
//
// The bytes may arrive as []byte or, after a JSON hop, as a base64 string.
// The pair's id must match the envelope's id.
func FromPayload(payload map[string]any) (Message, error) {
	var data []byte
	switch v := payload[PayloadKeyBytes].(type) {
	case []byte:
		data = v
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return Message{}, fmt.Errorf("%w: message bytes: %w", ErrMalformed, err)
		}
		data = decoded
	case nil:
		return Message{}, fmt.Errorf("%w: missing %s", ErrMalformed, PayloadKeyBytes)
	default:
		return Message{}, fmt.Errorf("%w: %s has type %T", ErrMalformed, PayloadKeyBytes, v)
	}

	m, err := Decode(data)
	if err != nil {
		return Message{}, err
	}
	if id, ok := payload[PayloadKeyID].(string); ok && id != m.ID {
		return Message{}, fmt.Errorf("%w: pair id %q does not match envelope id %q", ErrMalformed, id, m.ID)
	}
	return m, nil
}
