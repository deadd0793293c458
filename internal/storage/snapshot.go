package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"focusbot/internal/ledger"
	"focusbot/internal/session"
)

// SnapshotVersion is written into every document.
const SnapshotVersion = 1

// Snapshot is the persisted engine state.
//
// Timestamps and durations are Unix milliseconds. Totals are written for
// external readers only; loaders recompute them from History.
type Snapshot struct {
	Version          int                       `json:"version"`
	Timers           map[string]TimerRecord    `json:"timers"`
	Pomodoros        map[string]PomodoroRecord `json:"pomodoros"`
	Totals           map[string]int64          `json:"totals"`
	History          []HistoryRecord           `json:"history"`
	AllowedResetters map[string][]string       `json:"allowedResetters"`
	SavedAt          int64                     `json:"savedAt"`

	// Source tells where Load found the data (primary, backup, empty).
	Source string `json:"-"`
	// Skipped lists entries that could not be decoded.
	Skipped []string `json:"-"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:          SnapshotVersion,
		Timers:           map[string]TimerRecord{},
		Pomodoros:        map[string]PomodoroRecord{},
		Totals:           map[string]int64{},
		AllowedResetters: map[string][]string{},
		Source:           SourceEmpty,
	}
}

type TimerRecord struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"ownerId"`
	Participants  []string `json:"participants"`
	ScopeID       string   `json:"scopeId"`
	DurationMS    int64    `json:"durationMs"`
	Label         string   `json:"label,omitempty"`
	Deadline      int64    `json:"deadline"`
	CreatedAt     int64    `json:"createdAt"`
	Handle        string   `json:"handle,omitempty"`
	AllowFallback bool     `json:"allowFallback"`
}

type PomodoroRecord struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"ownerId"`
	Participants  []string `json:"participants"`
	ScopeID       string   `json:"scopeId"`
	Label         string   `json:"label,omitempty"`
	WorkMS        int64    `json:"workMs"`
	BreakMS       int64    `json:"breakMs"`
	TotalCycles   int      `json:"totalCycles"`
	CurrentCycle  int      `json:"currentCycle"`
	Phase         string   `json:"phase"`
	PhaseDeadline int64    `json:"phaseDeadline"`
	CreatedAt     int64    `json:"createdAt"`
	Handle        string   `json:"handle,omitempty"`
	AllowFallback bool     `json:"allowFallback"`
}

type HistoryRecord struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	ScopeID    string `json:"scopeId,omitempty"`
	DurationMS int64  `json:"durationMs"`
	Label      string `json:"label,omitempty"`
	Kind       string `json:"kind"`
	EndedAt    int64  `json:"endedAt"`
	Canceled   bool   `json:"canceled,omitempty"`
}

// AddSession stores s under the map matching its kind.
func (s *Snapshot) AddSession(ss *session.Session) {
	common := func() (string, string, []string, string) {
		return ss.ID, ss.OwnerID, append([]string(nil), ss.Participants...), ss.ScopeID
	}
	switch ss.Kind {
	case session.KindTimer:
		id, owner, parts, scope := common()
		s.Timers[id] = TimerRecord{
			ID: id, OwnerID: owner, Participants: parts, ScopeID: scope,
			DurationMS:    ss.Duration.Milliseconds(),
			Label:         ss.Label,
			Deadline:      ss.Deadline.UnixMilli(),
			CreatedAt:     ss.CreatedAt.UnixMilli(),
			Handle:        ss.Handle,
			AllowFallback: ss.AllowFallback,
		}
	case session.KindPomodoro:
		if ss.Pomodoro == nil {
			return
		}
		id, owner, parts, scope := common()
		p := ss.Pomodoro
		s.Pomodoros[id] = PomodoroRecord{
			ID: id, OwnerID: owner, Participants: parts, ScopeID: scope,
			Label:         ss.Label,
			WorkMS:        p.Work.Milliseconds(),
			BreakMS:       p.Break.Milliseconds(),
			TotalCycles:   p.TotalCycles,
			CurrentCycle:  p.CurrentCycle,
			Phase:         string(p.Phase),
			PhaseDeadline: ss.Deadline.UnixMilli(),
			CreatedAt:     ss.CreatedAt.UnixMilli(),
			Handle:        ss.Handle,
			AllowFallback: ss.AllowFallback,
		}
	}
}

// Sessions converts every stored record back into sessions, ordered by
// deadline. Structural validation is left to the caller.
func (s *Snapshot) Sessions() []session.Session {
	out := make([]session.Session, 0, len(s.Timers)+len(s.Pomodoros))
	for key, r := range s.Timers {
		id := r.ID
		if id == "" {
			id = key
		}
		out = append(out, session.Session{
			ID:            id,
			Kind:          session.KindTimer,
			OwnerID:       r.OwnerID,
			Participants:  session.NormalizeParticipants(r.OwnerID, r.Participants),
			ScopeID:       r.ScopeID,
			Label:         r.Label,
			Handle:        r.Handle,
			AllowFallback: r.AllowFallback,
			CreatedAt:     fromMS(r.CreatedAt),
			Deadline:      fromMS(r.Deadline),
			Duration:      time.Duration(r.DurationMS) * time.Millisecond,
		})
	}
	for key, r := range s.Pomodoros {
		id := r.ID
		if id == "" {
			id = key
		}
		out = append(out, session.Session{
			ID:            id,
			Kind:          session.KindPomodoro,
			OwnerID:       r.OwnerID,
			Participants:  session.NormalizeParticipants(r.OwnerID, r.Participants),
			ScopeID:       r.ScopeID,
			Label:         r.Label,
			Handle:        r.Handle,
			AllowFallback: r.AllowFallback,
			CreatedAt:     fromMS(r.CreatedAt),
			Deadline:      fromMS(r.PhaseDeadline),
			Pomodoro: &session.Pomodoro{
				Work:         time.Duration(r.WorkMS) * time.Millisecond,
				Break:        time.Duration(r.BreakMS) * time.Millisecond,
				TotalCycles:  r.TotalCycles,
				CurrentCycle: r.CurrentCycle,
				Phase:        session.Phase(r.Phase),
			},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetHistory replaces History and Totals from ledger data.
func (s *Snapshot) SetHistory(entries []ledger.Entry, totals map[string]time.Duration) {
	s.History = make([]HistoryRecord, 0, len(entries))
	for _, e := range entries {
		s.History = append(s.History, HistoryRecord{
			SessionID:  e.SessionID,
			UserID:     e.UserID,
			ScopeID:    e.ScopeID,
			DurationMS: e.Duration.Milliseconds(),
			Label:      e.Label,
			Kind:       string(e.Kind),
			EndedAt:    e.EndedAt.UnixMilli(),
			Canceled:   e.Canceled,
		})
	}
	s.Totals = make(map[string]int64, len(totals))
	for id, d := range totals {
		s.Totals[id] = d.Milliseconds()
	}
}

// Entries converts History back into ledger entries, oldest first.
func (s *Snapshot) Entries() []ledger.Entry {
	out := make([]ledger.Entry, 0, len(s.History))
	for _, r := range s.History {
		out = append(out, ledger.Entry{
			SessionID: r.SessionID,
			UserID:    r.UserID,
			ScopeID:   r.ScopeID,
			Duration:  time.Duration(r.DurationMS) * time.Millisecond,
			Label:     r.Label,
			Kind:      ledger.Kind(r.Kind),
			EndedAt:   fromMS(r.EndedAt),
			Canceled:  r.Canceled,
		})
	}
	return out
}

func fromMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// rawSnapshot lets every entry decode on its own, so one damaged record
// does not take the whole document down.
type rawSnapshot struct {
	Version          int                        `json:"version"`
	Timers           map[string]json.RawMessage `json:"timers"`
	Pomodoros        map[string]json.RawMessage `json:"pomodoros"`
	Totals           map[string]json.RawMessage `json:"totals"`
	History          []json.RawMessage          `json:"history"`
	AllowedResetters map[string]json.RawMessage `json:"allowedResetters"`
	SavedAt          int64                      `json:"savedAt"`
}

// DecodeSnapshot parses a document. It fails only when the top level is not
// a snapshot object; damaged entries are skipped and listed in Skipped.
func DecodeSnapshot(b []byte) (*Snapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	out := NewSnapshot()
	out.Version = raw.Version
	out.SavedAt = raw.SavedAt

	for k, v := range raw.Timers {
		var r TimerRecord
		if err := json.Unmarshal(v, &r); err != nil {
			out.Skipped = append(out.Skipped, fmt.Sprintf("timer %s: %v", k, err))
			continue
		}
		out.Timers[k] = r
	}
	for k, v := range raw.Pomodoros {
		var r PomodoroRecord
		if err := json.Unmarshal(v, &r); err != nil {
			out.Skipped = append(out.Skipped, fmt.Sprintf("pomodoro %s: %v", k, err))
			continue
		}
		out.Pomodoros[k] = r
	}
	for k, v := range raw.Totals {
		var ms int64
		if err := json.Unmarshal(v, &ms); err == nil {
			out.Totals[k] = ms
		}
	}
	for i, v := range raw.History {
		var r HistoryRecord
		if err := json.Unmarshal(v, &r); err != nil {
			out.Skipped = append(out.Skipped, fmt.Sprintf("history #%d: %v", i, err))
			continue
		}
		out.History = append(out.History, r)
	}
	for k, v := range raw.AllowedResetters {
		var ids []string
		if err := json.Unmarshal(v, &ids); err != nil {
			out.Skipped = append(out.Skipped, fmt.Sprintf("resetters %s: %v", k, err))
			continue
		}
		out.AllowedResetters[k] = ids
	}
	sort.Strings(out.Skipped)
	return out, nil
}

// EncodeSnapshot renders the document written by every driver.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	cp := *s
	cp.Version = SnapshotVersion
	if cp.SavedAt == 0 {
		cp.SavedAt = time.Now().UnixMilli()
	}
	return json.MarshalIndent(&cp, "", "  ")
}
