package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot file + .backup + audit jsonl
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeepCopies  int           // sqlite only; snapshot rows kept (default 3)
}

// Store is the persistence API used by the engine.
type Store interface {
	// Load returns the newest readable snapshot, or an empty one.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Load sources.
const (
	SourcePrimary = "primary"
	SourceBackup  = "backup"
	SourceEmpty   = "empty"
)

// AuditEntry records a privileged or destructive action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID string    `json:"actorId"`
	ScopeID string    `json:"scopeId,omitempty"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}
