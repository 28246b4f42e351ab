package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	ID       string // optional - only this message id
}

// HistoryEntry is one journal row as printed.
type HistoryEntry struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Direction  string            `json:"direction"` // "in" or "out"
	Kind       string            `json:"kind"`
	Channel    string            `json:"channel"`
	SentAt     time.Time         `json:"sent_at"`
	RecordedAt time.Time         `json:"recorded_at"`
	UserInfo   map[string]string `json:"user_info,omitempty"`
	Payload    string            `json:"payload,omitempty"`
}

// HistoryResult holds the history command output.
type HistoryResult struct {
	Entries []HistoryEntry `json:"entries"`
	Total   int            `json:"total"` // rows in the journal, not just those shown
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled messages",
		Long: `List messages recorded in a SQLite journal, newest first.

A journal is written when a communicator runs with a journal path, for
example "tether demo --db". Each message appears once per direction.

Examples:
  tether history --db ./tether.db
  tether history --db ./tether.db --limit 5
  tether history --db ./tether.db --id a-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum entries to show (0 for all)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "show only this message id")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	// Open creates missing databases; a typo should not leave an empty file behind.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	var records []store.Record
	if opts.ID != "" {
		records, err = st.ByMessage(ctx, opts.ID)
	} else {
		records, err = st.Recent(ctx, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	total, err := st.Count(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count journal", err)
	}

	result := HistoryResult{
		Entries: make([]HistoryEntry, 0, len(records)),
		Total:   total,
	}
	for _, r := range records {
		result.Entries = append(result.Entries, toHistoryEntry(r))
	}

	f := newFormatter(cmd, opts.RootOptions)
	if f.IsJSON() {
		return f.Success(result)
	}
	outputHistoryText(cmd, result)
	return nil
}

func toHistoryEntry(r store.Record) HistoryEntry {
	m := r.Entry.Message
	dir := "out"
	if r.Entry.Incoming {
		dir = "in"
	}
	return HistoryEntry{
		Seq:        r.Seq,
		ID:         m.ID,
		Direction:  dir,
		Kind:       m.Kind.Token(),
		Channel:    string(m.Channel),
		SentAt:     m.Timestamp,
		RecordedAt: r.RecordedAt,
		UserInfo:   m.UserInfo,
		Payload:    string(m.Payload),
	}
}

func outputHistoryText(cmd *cobra.Command, result HistoryResult) {
	w := cmd.OutOrStdout()

	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No messages journaled.")
		return
	}

	fmt.Fprintf(w, "%-6s %-4s %-38s %-22s %-18s %s\n", "SEQ", "DIR", "ID", "KIND", "CHANNEL", "SENT")
	for _, e := range result.Entries {
		fmt.Fprintf(w, "%-6d %-4s %-38s %-22s %-18s %s\n",
			e.Seq, e.Direction, e.ID, truncate(e.Kind, 22), e.Channel, e.SentAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "\n%d of %d entries\n", len(result.Entries), result.Total)
}

// truncate shortens s to n runes, marking the cut with "…".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
