package engine

import (
	"context"
	"fmt"
	"time"

	"focusbot/internal/ledger"
	"focusbot/internal/session"
	"focusbot/internal/storage"
)

// CreateTimer starts a countdown. Validation happens before any state is
// touched.
func (e *Engine) CreateTimer(ctx context.Context, spec TimerSpec) (session.Session, error) {
	if spec.OwnerID == "" {
		return session.Session{}, ErrMissingOwner
	}
	if spec.Duration <= 0 {
		return session.Session{}, fmt.Errorf("%w: %s", ErrInvalidDuration, spec.Duration)
	}
	var out session.Session
	err := e.do(ctx, func(tx *txn) error {
		now := e.clock.Now()
		s := &session.Session{
			ID:            e.newID(now),
			Kind:          session.KindTimer,
			OwnerID:       spec.OwnerID,
			Participants:  session.NormalizeParticipants(spec.OwnerID, spec.Participants),
			ScopeID:       spec.ScopeID,
			Label:         spec.Label,
			Handle:        spec.Handle,
			AllowFallback: spec.AllowFallback,
			CreatedAt:     now,
			Deadline:      now.Add(spec.Duration),
			Duration:      spec.Duration,
		}
		e.start(tx, s, now)
		out = s.Clone()
		return nil
	})
	return out, err
}

// CreatePomodoro starts a work/break session in its first work phase.
func (e *Engine) CreatePomodoro(ctx context.Context, spec PomodoroSpec) (session.Session, error) {
	if spec.OwnerID == "" {
		return session.Session{}, ErrMissingOwner
	}
	if spec.Work <= 0 || spec.Break <= 0 {
		return session.Session{}, fmt.Errorf("%w: work %s, break %s", ErrInvalidDuration, spec.Work, spec.Break)
	}
	if spec.Cycles < 1 || spec.Cycles > e.cfg.MaxCycles {
		return session.Session{}, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidCycles, spec.Cycles, e.cfg.MaxCycles)
	}
	var out session.Session
	err := e.do(ctx, func(tx *txn) error {
		now := e.clock.Now()
		s := &session.Session{
			ID:            e.newID(now),
			Kind:          session.KindPomodoro,
			OwnerID:       spec.OwnerID,
			Participants:  session.NormalizeParticipants(spec.OwnerID, spec.Participants),
			ScopeID:       spec.ScopeID,
			Label:         spec.Label,
			Handle:        spec.Handle,
			AllowFallback: spec.AllowFallback,
			CreatedAt:     now,
			Deadline:      now.Add(spec.Work),
			Pomodoro: &session.Pomodoro{
				Work:        spec.Work,
				Break:       spec.Break,
				TotalCycles: spec.Cycles,
				Phase:       session.PhaseWork,
			},
		}
		e.start(tx, s, now)
		out = s.Clone()
		return nil
	})
	return out, err
}

func (e *Engine) start(tx *txn, s *session.Session, now time.Time) {
	l := &live{s: s}
	e.table.put(l)
	e.arm(l, s.Deadline.Sub(now))
	e.notify(tx, Notice{Kind: NoticeStarted, Session: s.Clone(), Now: now}, true)
	tx.publish(EventCreated, sessionEvent(s, false))
	tx.dirty = true
}

func (e *Engine) newID(now time.Time) string {
	for {
		id := session.NewID(now)
		if e.table.get(id) == nil {
			return id
		}
	}
}

// Cancel removes a session on behalf of its owner or an authorized resetter.
// Every participant gets one canceled entry: timers record the nominal
// duration, pomodoros record zero. A second cancel returns ErrNotFound.
func (e *Engine) Cancel(ctx context.Context, id, requesterID string) (session.Session, error) {
	var out session.Session
	err := e.do(ctx, func(tx *txn) error {
		l := e.table.get(id)
		if l == nil {
			return ErrNotFound
		}
		s := l.s
		if requesterID != s.OwnerID && !e.oracle.IsAuthorizedResetter(s.ScopeID, requesterID) {
			return ErrForbidden
		}
		e.disarm(l)
		e.table.remove(id)

		now := e.clock.Now()
		kind, d := ledger.KindTimer, s.Duration
		if s.Kind == session.KindPomodoro {
			kind, d = ledger.KindPomodoroWork, 0
		}
		for _, uid := range s.Participants {
			e.ledger.Append(ledger.Entry{
				SessionID: s.ID,
				UserID:    uid,
				ScopeID:   s.ScopeID,
				Duration:  d,
				Label:     s.Label,
				Kind:      kind,
				EndedAt:   now,
				Canceled:  true,
			})
		}

		e.notify(tx, Notice{Kind: NoticeCanceled, Session: s.Clone(), Now: now, By: requesterID}, false)
		tx.audit(storage.AuditEntry{At: now, ActorID: requesterID, ScopeID: s.ScopeID, Action: "cancel", Target: s.ID, Detail: string(s.Kind)})
		tx.publish(EventCanceled, sessionEvent(s, false))
		tx.dirty = true
		out = s.Clone()
		return nil
	})
	return out, err
}

// ListByOwner returns the sessions owned by userID, soonest deadline first.
func (e *Engine) ListByOwner(ctx context.Context, userID string) ([]session.Session, error) {
	var out []session.Session
	err := e.do(ctx, func(*txn) error {
		out = clones(e.table.owned(userID))
		return nil
	})
	return out, err
}

// ListByScope returns the sessions posting into scopeID.
func (e *Engine) ListByScope(ctx context.Context, scopeID string) ([]session.Session, error) {
	var out []session.Session
	err := e.do(ctx, func(*txn) error {
		out = clones(e.table.inScope(scopeID))
		return nil
	})
	return out, err
}

func (e *Engine) ListAll(ctx context.Context) ([]session.Session, error) {
	var out []session.Session
	err := e.do(ctx, func(*txn) error {
		out = clones(e.table.all())
		return nil
	})
	return out, err
}

// Status reports the remaining time of one session.
func (e *Engine) Status(ctx context.Context, id string) (Status, error) {
	var st Status
	err := e.do(ctx, func(*txn) error {
		l := e.table.get(id)
		if l == nil {
			return ErrNotFound
		}
		now := e.clock.Now()
		st = Status{
			Session:        l.s.Clone(),
			Remaining:      session.Remaining(l.s, now),
			TotalRemaining: session.TotalRemaining(l.s, now),
		}
		return nil
	})
	return st, err
}

// AddParticipant credits userID alongside the owner. Users may join
// themselves; adding others needs the owner or an authorized resetter.
func (e *Engine) AddParticipant(ctx context.Context, id, userID, requesterID string) (session.Session, error) {
	return e.editParticipants(ctx, id, userID, requesterID, "join", (*session.Session).AddParticipant)
}

// RemoveParticipant drops userID. The owner cannot be removed.
func (e *Engine) RemoveParticipant(ctx context.Context, id, userID, requesterID string) (session.Session, error) {
	return e.editParticipants(ctx, id, userID, requesterID, "leave", (*session.Session).RemoveParticipant)
}

func (e *Engine) editParticipants(ctx context.Context, id, userID, requesterID, action string, apply func(*session.Session, string) bool) (session.Session, error) {
	var out session.Session
	err := e.do(ctx, func(tx *txn) error {
		l := e.table.get(id)
		if l == nil {
			return ErrNotFound
		}
		s := l.s
		if requesterID != userID && requesterID != s.OwnerID && !e.oracle.IsAuthorizedResetter(s.ScopeID, requesterID) {
			return ErrForbidden
		}
		if apply(s, userID) {
			now := e.clock.Now()
			e.notify(tx, Notice{Kind: NoticeUpdated, Session: s.Clone(), Now: now, By: requesterID}, true)
			tx.audit(storage.AuditEntry{At: now, ActorID: requesterID, ScopeID: s.ScopeID, Action: action, Target: s.ID, Detail: userID})
			tx.publish(EventUpdated, sessionEvent(s, false))
			tx.dirty = true
		}
		out = s.Clone()
		return nil
	})
	return out, err
}

// GrantResetAuthority lets userID cancel other users' sessions in scopeID.
// Only operators may grant. It reports whether the registry changed.
func (e *Engine) GrantResetAuthority(ctx context.Context, requesterID, scopeID, userID string) (bool, error) {
	return e.editAuthority(ctx, requesterID, scopeID, userID, "grant", e.registry.Grant)
}

// RevokeResetAuthority undoes GrantResetAuthority.
func (e *Engine) RevokeResetAuthority(ctx context.Context, requesterID, scopeID, userID string) (bool, error) {
	return e.editAuthority(ctx, requesterID, scopeID, userID, "revoke", e.registry.Revoke)
}

func (e *Engine) editAuthority(ctx context.Context, requesterID, scopeID, userID, action string, apply func(scope, user string) bool) (bool, error) {
	if !e.oracle.IsOperator(requesterID) {
		return false, ErrForbidden
	}
	if scopeID == "" || userID == "" {
		return false, ErrMissingTarget
	}
	var changed bool
	err := e.do(ctx, func(tx *txn) error {
		changed = apply(scopeID, userID)
		if changed {
			tx.audit(storage.AuditEntry{ActorID: requesterID, ScopeID: scopeID, Action: action, Target: userID})
			tx.dirty = true
		}
		return nil
	})
	return changed, err
}

// ListResetAuthority returns the users granted authority in scopeID.
func (e *Engine) ListResetAuthority(scopeID string) []string {
	return e.registry.List(scopeID)
}

// ResetAll drops every live session and clears the ledger. Participants are
// not notified individually; one report goes to the operator destination.
// The registry is kept.
func (e *Engine) ResetAll(ctx context.Context, requesterID, scopeID string) (ResetReport, error) {
	if !e.oracle.IsAuthorizedResetter(scopeID, requesterID) {
		return ResetReport{}, ErrForbidden
	}
	var rep ResetReport
	_, err := e.exec(ctx, func(tx *txn) error {
		for _, l := range e.table.clear() {
			e.disarm(l)
			rep.Sessions++
		}
		rep.Entries = e.ledger.Len()
		e.ledger.Reset()
		detail := fmt.Sprintf("sessions=%d entries=%d", rep.Sessions, rep.Entries)
		tx.audit(storage.AuditEntry{ActorID: requesterID, ScopeID: scopeID, Action: "reset", Detail: detail})
		tx.publish(EventReset, rep)
		tx.dirty = true
		return nil
	})
	if err != nil {
		return ResetReport{}, err
	}
	rep.Reported = e.notifier.Report(e.runCtx(), fmt.Sprintf("All sessions reset by %s: %d sessions canceled, %d history entries cleared.", requesterID, rep.Sessions, rep.Entries))
	return rep, nil
}

// Totals answers a stats query over the ledger.
func (e *Engine) Totals(ctx context.Context, q TotalsQuery) (TotalsReport, error) {
	rep := TotalsReport{Timeframe: q.Timeframe}
	limit := q.Limit
	if limit <= 0 {
		limit = e.cfg.StatsLimit
	}
	err := e.do(ctx, func(*txn) error {
		now := e.clock.Now()
		switch q.Timeframe {
		case "", TimeframeAll:
			rep.Timeframe = TimeframeAll
		case TimeframeToday:
			local := now.In(e.cfg.Location)
			rep.Since = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.cfg.Location)
		case TimeframeWeek:
			rep.Since = now.Add(-7 * 24 * time.Hour)
		default:
			return fmt.Errorf("unknown timeframe %q", q.Timeframe)
		}
		totals := e.ledger.Aggregate(rep.Since)
		rep.Users = len(totals)
		rep.Leaderboard = ledger.Leaderboard(totals, limit)
		if q.UserID != "" {
			rep.UserTotal = totals[q.UserID]
		}
		return nil
	})
	return rep, err
}

// RecomputeTotals rebuilds the totals projection from the ledger.
func (e *Engine) RecomputeTotals(ctx context.Context) error {
	return e.do(ctx, func(tx *txn) error {
		e.ledger.RecomputeTotals()
		tx.dirty = true
		return nil
	})
}
