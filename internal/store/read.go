package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/tether/internal/ledger"
)

// Record is one journal row.
type Record struct {
	Seq        int64
	Entry      ledger.Entry
	RecordedAt time.Time
}

// Recent returns up to limit records, newest first.
// A non-positive limit returns everything.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT seq, incoming, envelope, recorded_at
		FROM journal
		ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return scanRecords(rows)
}

// ByMessage returns the records for one message id (at most one per
// direction), oldest first.
func (s *Store) ByMessage(ctx context.Context, id string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, incoming, envelope, recorded_at
		FROM journal
		WHERE message_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return scanRecords(rows)
}

// Count returns the number of journalled entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r          Record
			incoming   int
			envelope   []byte
			recordedAt string
		)
		if err := rows.Scan(&r.Seq, &incoming, &envelope, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		m, err := unmarshalEnvelope(envelope)
		if err != nil {
			return nil, fmt.Errorf("journal row %d: %w", r.Seq, err)
		}
		at, err := parseTime(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("journal row %d: %w", r.Seq, err)
		}
		r.Entry = ledger.Entry{Message: m, Incoming: incoming == 1}
		r.RecordedAt = at
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return records, nil
}
