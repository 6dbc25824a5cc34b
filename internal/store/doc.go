// Package store holds support conversations: their ordered messages and the
// free-text context an agent attaches to them.
//
// # Backends
//
//   - MemoryStore: process memory, the default. Lost on restart.
//   - SQLiteStore: a single SQLite file, via the pure-Go modernc driver
//     ("sqlite") or the cgo mattn driver ("sqlite3").
//
// Both satisfy Store and share the same behavioural test suite.
//
// # Ordering
//
// Messages are returned in append order. The SQLite backend records an
// explicit per-conversation sequence number; the memory backend appends under
// a per-conversation lock.
//
// # Errors
//
// Lookups and mutations of an unknown conversation return ErrNotFound.
// AppendMessage with a role other than customer or agent returns
// ErrInvalidRole. Callers compare with errors.Is.
package store
