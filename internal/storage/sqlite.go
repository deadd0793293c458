package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "focusbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultKeepCopies = 3

// sqliteStore keeps the newest snapshots as rows; older rows act as backups.
type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	keep := cfg.KeepCopies
	if keep <= 0 {
		keep = defaultKeepCopies
	}
	st := &sqliteStore{db: db, log: log, keep: keep}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load walks the stored snapshots newest first and returns the first one
// that decodes.
func (s *sqliteStore) Load(ctx context.Context) (*Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM snapshots ORDER BY id DESC LIMIT ?`, s.keep)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	first := true
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		snap, derr := DecodeSnapshot([]byte(body))
		if derr != nil {
			s.log.Warn("snapshot row corrupted, trying older", logx.Int64("row", id), logx.Err(derr))
			first = false
			continue
		}
		snap.Source = SourcePrimary
		if !first {
			snap.Source = SourceBackup
		}
		return snap, nil
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewSnapshot(), nil
}

func (s *sqliteStore) Save(ctx context.Context, snap *Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	b, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	savedAt := snap.SavedAt
	if savedAt == 0 {
		savedAt = time.Now().UnixMilli()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots(saved_at, body) VALUES(?, ?)`, savedAt, string(b)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`, s.keep,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, scope_id, action, target, detail) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ScopeID), e.Action, nullStr(e.Target), nullStr(e.Detail),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
