package session

import (
	"errors"
	"fmt"
	"time"
)

// Step describes what happened when a pomodoro phase deadline elapsed.
type Step struct {
	// From is the phase that just ended.
	From Phase
	// Credit is the work time to record per participant. Zero for breaks.
	Credit time.Duration
	// Cycle is the zero-based cycle the ended phase belonged to.
	Cycle int
	// Completed is set when the final phase ended; the session must be removed.
	Completed bool
}

var errNotPomodoro = errors.New("session is not a pomodoro")

// Advance moves a pomodoro session past its current phase deadline.
//
// The work phase of the last cycle ends the session; there is no trailing
// break. This is a product decision: a finished pomodoro is announced when
// the last focus block ends. TotalRemaining follows the same rule.
//
// The next deadline is anchored on the elapsed one (Deadline += length), so
// repeated calls during catch-up land on the exact schedule the session
// would have followed without downtime.
func Advance(s *Session) (Step, error) {
	p := s.Pomodoro
	if s.Kind != KindPomodoro || p == nil {
		return Step{}, errNotPomodoro
	}
	st := Step{From: p.Phase, Cycle: p.CurrentCycle}
	switch p.Phase {
	case PhaseWork:
		st.Credit = p.Work
		if p.CurrentCycle+1 >= p.TotalCycles {
			p.CurrentCycle = p.TotalCycles
			st.Completed = true
			return st, nil
		}
		p.Phase = PhaseBreak
		s.Deadline = s.Deadline.Add(p.Break)
	case PhaseBreak:
		p.CurrentCycle++
		if p.CurrentCycle >= p.TotalCycles {
			st.Completed = true
			return st, nil
		}
		p.Phase = PhaseWork
		s.Deadline = s.Deadline.Add(p.Work)
	default:
		return Step{}, fmt.Errorf("unknown phase %q", p.Phase)
	}
	return st, nil
}

// Remaining returns the time left in the current phase (or timer), clamped at zero.
func Remaining(s *Session, now time.Time) time.Duration {
	return max(0, s.Deadline.Sub(now))
}

// TotalRemaining projects the time until the session ends.
//
// For pomodoros it is the current phase remainder plus every phase Advance
// will still walk through: a break and a work phase per cycle left, except
// the break after the final work phase.
func TotalRemaining(s *Session, now time.Time) time.Duration {
	rem := Remaining(s, now)
	p := s.Pomodoro
	if s.Kind != KindPomodoro || p == nil {
		return rem
	}
	left := time.Duration(p.TotalCycles - p.CurrentCycle - 1)
	if left <= 0 {
		return rem
	}
	if p.Phase == PhaseWork {
		return rem + left*(p.Work+p.Break)
	}
	return rem + left*p.Work + (left-1)*p.Break
}

// Validate checks the structural invariants of a session.
func (s *Session) Validate(maxCycles int) error {
	if s.ID == "" {
		return errors.New("missing id")
	}
	if s.OwnerID == "" {
		return errors.New("missing owner")
	}
	if s.Deadline.IsZero() {
		return errors.New("missing deadline")
	}
	if !s.HasParticipant(s.OwnerID) {
		return errors.New("owner is not a participant")
	}
	switch s.Kind {
	case KindTimer:
		if s.Duration <= 0 {
			return errors.New("non-positive duration")
		}
	case KindPomodoro:
		p := s.Pomodoro
		if p == nil {
			return errNotPomodoro
		}
		if p.Work <= 0 || p.Break <= 0 {
			return errors.New("non-positive phase length")
		}
		if maxCycles <= 0 {
			maxCycles = MaxCycles
		}
		if p.TotalCycles < 1 || p.TotalCycles > maxCycles {
			return fmt.Errorf("cycles %d out of range", p.TotalCycles)
		}
		if p.CurrentCycle < 0 || p.CurrentCycle >= p.TotalCycles {
			return fmt.Errorf("current cycle %d out of range", p.CurrentCycle)
		}
		if !p.Phase.Valid() {
			return fmt.Errorf("unknown phase %q", p.Phase)
		}
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	return nil
}
