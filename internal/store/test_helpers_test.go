package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tether/internal/ledger"
	"github.com/roach88/tether/internal/message"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return testEpoch }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates a notification entry with a fixed timestamp.
func createTestEntry(id string, incoming bool, offset time.Duration) ledger.Entry {
	return ledger.Entry{
		Message: message.Message{
			ID:        id,
			Kind:      message.Notification(),
			Channel:   message.ChannelLive,
			Timestamp: testEpoch.Add(offset),
			UserInfo:  map[string]string{"k": "v"},
			Payload:   []byte("payload-" + id),
		},
		Incoming: incoming,
	}
}
