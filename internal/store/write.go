package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tether/internal/ledger"
)

// Append journals one ledger entry.
// Uses ON CONFLICT DO NOTHING for idempotency: an entry already journalled
// for the same message id and direction is silently ignored.
// The entry's RecordedAt is kept when set, so the journal agrees with the
// ledger's arrival stamp. Returns whether a row was inserted.
func (s *Store) Append(ctx context.Context, e ledger.Entry) (bool, error) {
	envelope, err := marshalEnvelope(e.Message)
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}
	recordedAt := e.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO journal
		(message_id, incoming, kind, channel, sent_at, envelope, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, incoming) DO NOTHING
	`,
		e.Message.ID,
		boolToInt(e.Incoming),
		e.Message.Kind.Token(),
		string(e.Message.Channel),
		formatTime(e.Message.Timestamp),
		envelope,
		formatTime(recordedAt),
	)
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}
	return n > 0, nil
}

// Observer returns a ledger.Observer that journals every accepted entry.
// Failures are logged, never propagated: the journal must not affect delivery.
func (s *Store) Observer(logger *slog.Logger) ledger.Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e ledger.Entry) {
		if _, err := s.Append(context.Background(), e); err != nil {
			logger.Warn("journal append failed", "id", e.Message.ID, "error", err)
		}
	}
}
