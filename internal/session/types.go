package session

import (
	"slices"
	"time"
)

// Kind discriminates the two session variants.
type Kind string

const (
	KindTimer    Kind = "timer"
	KindPomodoro Kind = "pomodoro"
)

// Phase is the current pomodoro phase.
type Phase string

const (
	PhaseWork  Phase = "work"
	PhaseBreak Phase = "break"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool { return p == PhaseWork || p == PhaseBreak }

// MaxCycles is the default upper bound for pomodoro cycles.
const MaxCycles = 100

// Session is a live scheduled unit of work.
//
// Timer sessions carry Duration; pomodoro sessions carry Pomodoro.
// Deadline is the timer deadline or the current phase deadline.
type Session struct {
	ID            string
	Kind          Kind
	OwnerID       string
	Participants  []string // sorted, unique, always contains OwnerID
	ScopeID       string
	Label         string
	Handle        string
	AllowFallback bool
	CreatedAt     time.Time
	Deadline      time.Time

	// Timer only.
	Duration time.Duration

	// Pomodoro only.
	Pomodoro *Pomodoro
}

// Pomodoro holds the work/break bookkeeping of a pomodoro session.
type Pomodoro struct {
	Work         time.Duration
	Break        time.Duration
	TotalCycles  int
	CurrentCycle int
	Phase        Phase
}

// Clone returns a deep copy safe to hand out of the engine.
func (s *Session) Clone() Session {
	cp := *s
	cp.Participants = slices.Clone(s.Participants)
	if s.Pomodoro != nil {
		p := *s.Pomodoro
		cp.Pomodoro = &p
	}
	return cp
}

// HasParticipant reports whether userID is credited by the session.
func (s *Session) HasParticipant(userID string) bool {
	_, ok := slices.BinarySearch(s.Participants, userID)
	return ok
}

// AddParticipant inserts userID keeping the set sorted. It reports whether
// the set changed.
func (s *Session) AddParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	i, ok := slices.BinarySearch(s.Participants, userID)
	if ok {
		return false
	}
	s.Participants = slices.Insert(s.Participants, i, userID)
	return true
}

// RemoveParticipant drops userID. The owner is never removed.
func (s *Session) RemoveParticipant(userID string) bool {
	if userID == s.OwnerID {
		return false
	}
	i, ok := slices.BinarySearch(s.Participants, userID)
	if !ok {
		return false
	}
	s.Participants = slices.Delete(s.Participants, i, i+1)
	return true
}

// NormalizeParticipants returns a sorted, de-duplicated set that contains owner.
func NormalizeParticipants(owner string, ids []string) []string {
	out := make([]string, 0, len(ids)+1)
	if owner != "" {
		out = append(out, owner)
	}
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
