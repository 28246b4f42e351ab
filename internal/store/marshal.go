package store

import (
	"fmt"
	"time"

	"github.com/roach88/tether/internal/message"
)

// timeLayout keeps nanoseconds and sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// marshalEnvelope stores the wire encoding, so a journal row decodes exactly
// like a message received from the peer.
func marshalEnvelope(m message.Message) ([]byte, error) {
	data, err := message.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

func unmarshalEnvelope(data []byte) (message.Message, error) {
	m, err := message.Decode(data)
	if err != nil {
		return message.Message{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
