package engine

import (
	"fmt"
	"strings"
	"time"

	"focusbot/internal/session"
)

// NoticeKind names the moment a notice is rendered for.
type NoticeKind int

const (
	NoticeStarted NoticeKind = iota
	NoticeTimerDone
	NoticeBreak
	NoticeWork
	NoticeCompleted
	NoticeCanceled
	NoticeUpdated
)

// Notice is everything a renderer may show.
type Notice struct {
	Kind    NoticeKind
	Session session.Session
	Now     time.Time
	// Offline is set when the transition happened during downtime.
	Offline bool
	// Phases counts the phases elapsed since the last notice (catch-up).
	Phases int
	// Credited is the work time credited per participant by this notice.
	Credited time.Duration
	// By is the user who triggered a cancel or participant change.
	By string
}

// Renderer turns notices into message text.
type Renderer interface {
	Render(n Notice) string
}

// TextRenderer renders plain-text notices.
type TextRenderer struct{}

func (TextRenderer) Render(n Notice) string {
	s := &n.Session
	var b strings.Builder
	if s.Label != "" {
		b.WriteString(s.Label)
		b.WriteString(" - ")
	}

	switch n.Kind {
	case NoticeStarted, NoticeUpdated:
		if s.Kind == session.KindTimer {
			fmt.Fprintf(&b, "Timer %s set for %s, ends in %s.", s.ID, session.FormatDuration(s.Duration), session.FormatDuration(session.Remaining(s, n.Now)))
		} else {
			p := s.Pomodoro
			fmt.Fprintf(&b, "Pomodoro %s: %s work / %s break x%d. Cycle %d/%d %s, %s left (total %s).",
				s.ID, session.FormatDuration(p.Work), session.FormatDuration(p.Break), p.TotalCycles,
				p.CurrentCycle+1, p.TotalCycles, p.Phase,
				session.FormatDuration(session.Remaining(s, n.Now)),
				session.FormatDuration(session.TotalRemaining(s, n.Now)))
		}
	case NoticeTimerDone:
		fmt.Fprintf(&b, "Time's up! Timer %s (%s) finished.", s.ID, session.FormatDuration(s.Duration))
	case NoticeBreak:
		p := s.Pomodoro
		fmt.Fprintf(&b, "Work session complete. Break started (%s). Cycle time left: %s. Total time left: %s.",
			session.FormatDuration(p.Break),
			session.FormatDuration(session.Remaining(s, n.Now)),
			session.FormatDuration(session.TotalRemaining(s, n.Now)))
	case NoticeWork:
		p := s.Pomodoro
		fmt.Fprintf(&b, "Cycle %d/%d: back to work (%s). Cycle time left: %s. Total time left: %s.",
			p.CurrentCycle+1, p.TotalCycles,
			session.FormatDuration(p.Work),
			session.FormatDuration(session.Remaining(s, n.Now)),
			session.FormatDuration(session.TotalRemaining(s, n.Now)))
	case NoticeCompleted:
		fmt.Fprintf(&b, "Pomodoro %s completed! (%d cycles)", s.ID, s.Pomodoro.TotalCycles)
	case NoticeCanceled:
		kind := "Timer"
		if s.Kind == session.KindPomodoro {
			kind = "Pomodoro"
		}
		fmt.Fprintf(&b, "%s %s canceled", kind, s.ID)
		if n.By != "" && n.By != s.OwnerID {
			fmt.Fprintf(&b, " by %s", n.By)
		}
		b.WriteString(".")
	}

	if len(s.Participants) > 1 {
		b.WriteString("\nParticipants: ")
		b.WriteString(strings.Join(s.Participants, ", "))
	}
	if n.Offline {
		b.WriteString("\n(while the bot was offline")
		if n.Phases > 1 {
			fmt.Fprintf(&b, ", %d phases caught up, %s credited", n.Phases, session.FormatDuration(n.Credited))
		}
		b.WriteString(")")
	}
	return b.String()
}
