// Package storage persists engine snapshots and the operator audit trail.
//
// Drivers:
//   - file: JSON snapshot (atomic tmp+rename, previous copy kept as .backup)
//     plus a JSON Lines audit log
//   - sqlite: snapshots and audit rows in a single SQLite file
//
// Loading never fails on damaged data: a corrupt snapshot falls back to the
// previous copy and then to an empty state.
package storage
