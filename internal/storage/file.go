package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "focusbot/pkg/logx"
)

// fileStore keeps the snapshot as a JSON document next to its previous copy.
//
// Files:
//   - <path>                (current snapshot)
//   - <path>.backup         (snapshot replaced by the last save)
//   - <path>.tmp            (in-flight write, renamed over <path>)
//   - <prefix>.audit.jsonl  (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path       string
	backupPath string
	tmpPath    string

	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:        log,
		path:       path,
		backupPath: path + ".backup",
		tmpPath:    path + ".tmp",
		auditFile:  af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) Load(ctx context.Context) (*Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NewSnapshot(), nil
	case err != nil:
		s.log.Warn("snapshot unreadable, trying backup", logx.String("path", s.path), logx.Err(err))
	default:
		snap, derr := DecodeSnapshot(b)
		if derr == nil {
			snap.Source = SourcePrimary
			return snap, nil
		}
		s.log.Warn("snapshot corrupted, trying backup", logx.String("path", s.path), logx.Err(derr))
	}

	b, err = os.ReadFile(s.backupPath)
	if err != nil {
		s.log.Warn("no usable backup, starting empty", logx.String("path", s.backupPath), logx.Err(err))
		return NewSnapshot(), nil
	}
	snap, err := DecodeSnapshot(b)
	if err != nil {
		s.log.Warn("backup corrupted, starting empty", logx.String("path", s.backupPath), logx.Err(err))
		return NewSnapshot(), nil
	}
	snap.Source = SourceBackup
	return snap, nil
}

// Save writes the new document to a temp file, copies the current one to
// the backup path and renames the temp file into place.
func (s *fileStore) Save(ctx context.Context, snap *Snapshot) error {
	_ = ctx
	b, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileSync(s.tmpPath, b); err != nil {
		return err
	}
	if cur, err := os.ReadFile(s.path); err == nil {
		if _, derr := DecodeSnapshot(cur); derr == nil {
			if err := writeFileSync(s.backupPath, cur); err != nil {
				s.log.Warn("backup write failed", logx.String("path", s.backupPath), logx.Err(err))
			}
		}
	}
	return os.Rename(s.tmpPath, s.path)
}

func writeFileSync(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
