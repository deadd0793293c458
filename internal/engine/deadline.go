package engine

import (
	"context"
	"time"

	"focusbot/internal/delivery"
	"focusbot/internal/ledger"
	"focusbot/internal/session"
	logx "focusbot/pkg/logx"
)

// schedule arms l for its deadline, or expires it right away when the
// deadline already passed. Worker only.
func (e *Engine) schedule(tx *txn, l *live, offline bool) {
	now := e.clock.Now()
	if !l.s.Deadline.After(now) {
		e.expire(tx, l, now, offline)
		return
	}
	e.arm(l, l.s.Deadline.Sub(now))
}

// arm replaces the pending callback. Callbacks carry the version they were
// armed with; fire ignores anything older.
func (e *Engine) arm(l *live, d time.Duration) {
	e.disarm(l)
	e.verSeq++
	l.ver = e.verSeq
	id, ver := l.s.ID, l.ver
	l.stop = e.clock.AfterFunc(d, func() { e.fire(id, ver) })
}

func (e *Engine) disarm(l *live) {
	if l.stop != nil {
		l.stop.Stop()
		l.stop = nil
	}
	l.ver = 0
}

// fire runs on a timer goroutine.
func (e *Engine) fire(id string, ver uint64) {
	err := e.do(e.runCtx(), func(tx *txn) error {
		l := e.table.get(id)
		if l == nil || l.ver != ver {
			return nil
		}
		l.stop = nil
		e.schedule(tx, l, false)
		return nil
	})
	if err != nil {
		e.log.Debug("deadline fire dropped", logx.String("id", id), logx.Err(err))
	}
}

// expire handles an elapsed deadline. Pomodoros advance through every
// elapsed phase, crediting each, and emit one notice for the whole chain.
func (e *Engine) expire(tx *txn, l *live, now time.Time, offline bool) {
	e.disarm(l)
	s := l.s
	tx.dirty = true

	if s.Kind == session.KindTimer {
		e.credit(s, ledger.KindTimer, s.Duration, s.Deadline)
		e.table.remove(s.ID)
		e.notify(tx, Notice{Kind: NoticeTimerDone, Session: s.Clone(), Now: now, Offline: offline, Phases: 1, Credited: s.Duration}, false)
		tx.publish(EventCompleted, sessionEvent(s, offline))
		return
	}

	var (
		phases   int
		credited time.Duration
	)
	for !s.Deadline.After(now) {
		ended := s.Deadline
		st, err := session.Advance(s)
		if err != nil {
			e.log.Error("pomodoro advance failed, dropping session", logx.String("id", s.ID), logx.Err(err))
			e.table.remove(s.ID)
			return
		}
		phases++
		if st.Credit > 0 {
			e.credit(s, ledger.KindPomodoroWork, st.Credit, ended)
			credited += st.Credit
		}
		if st.Completed {
			e.table.remove(s.ID)
			e.notify(tx, Notice{Kind: NoticeCompleted, Session: s.Clone(), Now: now, Offline: offline, Phases: phases, Credited: credited}, false)
			tx.publish(EventCompleted, sessionEvent(s, offline))
			return
		}
	}

	kind := NoticeWork
	if s.Pomodoro.Phase == session.PhaseBreak {
		kind = NoticeBreak
	}
	e.notify(tx, Notice{Kind: kind, Session: s.Clone(), Now: now, Offline: offline, Phases: phases, Credited: credited}, true)
	tx.publish(EventPhase, sessionEvent(s, offline))
	e.arm(l, s.Deadline.Sub(now))
}

// credit appends one entry per participant.
func (e *Engine) credit(s *session.Session, kind ledger.Kind, d time.Duration, endedAt time.Time) {
	for _, uid := range s.Participants {
		e.ledger.Append(ledger.Entry{
			SessionID: s.ID,
			UserID:    uid,
			ScopeID:   s.ScopeID,
			Duration:  d,
			Label:     s.Label,
			Kind:      kind,
			EndedAt:   endedAt,
		})
	}
}

// notify queues a delivery for after the job. track keeps the resulting
// message handle on the session.
func (e *Engine) notify(tx *txn, n Notice, track bool) {
	s := &n.Session
	tx.out = append(tx.out, outbound{
		sessionID: s.ID,
		track:     track,
		req: delivery.Request{
			ScopeID:       s.ScopeID,
			Handle:        s.Handle,
			Recipients:    append([]string(nil), s.Participants...),
			Content:       e.renderer.Render(n),
			AllowFallback: s.AllowFallback,
			Subject:       string(s.Kind) + " " + s.ID,
		},
	})
}

func sessionEvent(s *session.Session, offline bool) SessionEvent {
	ev := SessionEvent{ID: s.ID, Kind: string(s.Kind), OwnerID: s.OwnerID, ScopeID: s.ScopeID, Offline: offline}
	if p := s.Pomodoro; p != nil {
		ev.Phase = string(p.Phase)
		ev.Cycle = p.CurrentCycle
	}
	return ev
}

type nopNotifier struct{}

func (nopNotifier) Deliver(context.Context, delivery.Request) delivery.Result {
	return delivery.Result{}
}

func (nopNotifier) Report(context.Context, string) bool { return false }
