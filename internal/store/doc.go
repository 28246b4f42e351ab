// Package store provides an optional SQLite journal of ledger entries.
//
// The in-memory ledger is the only history the engine consults. The journal
// is a write-only mirror attached as a ledger observer, so a session can be
// inspected after the process exits (tether history). Nothing is ever read
// back into a running communicator.
//
// # Identity
//
//   - one row per (message_id, incoming): the same message may legitimately
//     appear once in each direction (an echo), never twice in one
//   - rows are ordered by seq, an autoincrement column, never by timestamp;
//     message timestamps come from the sending peer's clock
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
