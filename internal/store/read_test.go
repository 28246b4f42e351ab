package store

import (
	"context"
	"testing"
	"time"
)

func TestRecent_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"m-1", "m-2", "m-3"} {
		if _, err := s.Append(ctx, createTestEntry(id, i%2 == 0, time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Append(%s) failed: %v", id, err)
		}
	}

	records, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	want := []string{"m-3", "m-2", "m-1"}
	if len(records) != len(want) {
		t.Fatalf("Recent() returned %d records, want %d", len(records), len(want))
	}
	for i, id := range want {
		if got := records[i].Entry.Message.ID; got != id {
			t.Errorf("records[%d] = %s, want %s", i, got, id)
		}
	}

	limited, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent(2) failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Entry.Message.ID != "m-3" {
		t.Errorf("Recent(2) = %v, want m-3 first of 2", limited)
	}
}

func TestRecent_RoundTripsMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	entry := createTestEntry("m-1", true, 1500*time.Millisecond)
	if _, err := s.Append(ctx, entry); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	records, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Recent() returned %d records, want 1", len(records))
	}
	got := records[0]
	if !got.Entry.Message.Equal(entry.Message) {
		t.Errorf("message = %+v, want %+v", got.Entry.Message, entry.Message)
	}
	if !got.Entry.Incoming {
		t.Error("direction lost")
	}
	if !got.RecordedAt.Equal(testEpoch) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, testEpoch)
	}
	if got.Seq <= 0 {
		t.Errorf("Seq = %d, want positive", got.Seq)
	}
}

func TestRecent_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	records, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if records == nil {
		t.Error("Recent() returned nil, want empty slice")
	}
}

func TestByMessage_BothDirections(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	s.Append(ctx, createTestEntry("m-1", false, 0))
	s.Append(ctx, createTestEntry("m-2", false, 0))
	s.Append(ctx, createTestEntry("m-1", true, 0))

	records, err := s.ByMessage(ctx, "m-1")
	if err != nil {
		t.Fatalf("ByMessage() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ByMessage() returned %d records, want 2", len(records))
	}
	if records[0].Entry.Incoming || !records[1].Entry.Incoming {
		t.Error("ByMessage() should return outgoing then incoming, oldest first")
	}
}
