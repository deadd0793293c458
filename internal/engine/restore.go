package engine

import (
	"context"

	"focusbot/internal/session"
	"focusbot/internal/storage"
	logx "focusbot/pkg/logx"
)

// restore installs a loaded snapshot. Sessions whose deadlines passed while
// the process was down are reconciled before any new operation runs.
func (e *Engine) restore(ctx context.Context, snap *storage.Snapshot) error {
	if snap == nil {
		snap = storage.NewSnapshot()
	}
	for _, msg := range snap.Skipped {
		e.log.Warn("snapshot entry skipped", logx.String("reason", msg))
	}

	var restored, expired int
	err := e.do(ctx, func(tx *txn) error {
		e.ledger.Restore(snap.Entries())
		e.registry.Restore(snap.AllowedResetters)

		now := e.clock.Now()
		for _, s := range snap.Sessions() {
			s := s
			if err := s.Validate(e.cfg.MaxCycles); err != nil {
				e.log.Warn("dropping invalid session", logx.String("id", s.ID), logx.Err(err))
				tx.dirty = true
				continue
			}
			if e.table.get(s.ID) != nil {
				e.log.Warn("dropping duplicate session", logx.String("id", s.ID))
				tx.dirty = true
				continue
			}
			s.Participants = session.NormalizeParticipants(s.OwnerID, s.Participants)
			l := &live{s: &s}
			e.table.put(l)
			restored++
			if !s.Deadline.After(now) {
				expired++
			}
			e.schedule(tx, l, true)
		}
		tx.publish(EventRestored, map[string]int{"sessions": restored, "expired": expired, "entries": e.ledger.Len()})
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info("state restored",
		logx.String("source", snap.Source),
		logx.Int("sessions", restored),
		logx.Int("expired", expired),
	)
	return nil
}
