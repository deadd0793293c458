// Package ledger keeps the capped history of credited time and the per-user
// totals derived from it.
package ledger

import (
	"sort"
	"time"
)

// DefaultCapacity bounds the number of entries kept.
const DefaultCapacity = 2000

// Kind classifies a history entry.
type Kind string

const (
	KindTimer        Kind = "timer"
	KindPomodoroWork Kind = "pomodoro_work"
)

// Entry is one immutable history record.
type Entry struct {
	SessionID string
	UserID    string
	ScopeID   string
	Duration  time.Duration
	Label     string
	Kind      Kind
	EndedAt   time.Time
	Canceled  bool
}

// Counts reports whether the entry contributes to totals.
func (e Entry) Counts() bool {
	return !e.Canceled && (e.Kind == KindTimer || e.Kind == KindPomodoroWork)
}

// Ledger is the bounded history plus a cached totals projection.
//
// The cache is patched on every append and eviction, so it always equals
// the fold of the entries currently held. Ledger is not safe for concurrent
// use; the engine owns it from a single goroutine.
type Ledger struct {
	cap     int
	entries []Entry
	totals  map[string]time.Duration
}

// New returns an empty ledger. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{cap: capacity, totals: map[string]time.Duration{}}
}

// Capacity returns the configured bound.
func (l *Ledger) Capacity() int { return l.cap }

// Len returns the number of entries held.
func (l *Ledger) Len() int { return len(l.entries) }

// Append records e, evicting the oldest entries beyond capacity.
func (l *Ledger) Append(e Entry) {
	l.entries = append(l.entries, e)
	l.credit(e, 1)
	if over := len(l.entries) - l.cap; over > 0 {
		for _, old := range l.entries[:over] {
			l.credit(old, -1)
		}
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

// Restore replaces the content with entries (oldest first), trims to
// capacity and recomputes totals.
func (l *Ledger) Restore(entries []Entry) {
	if over := len(entries) - l.cap; over > 0 {
		entries = entries[over:]
	}
	l.entries = append([]Entry(nil), entries...)
	l.RecomputeTotals()
}

// Reset drops every entry and total.
func (l *Ledger) Reset() {
	l.entries = nil
	l.totals = map[string]time.Duration{}
}

// RecomputeTotals rebuilds the cache by replaying the entries.
func (l *Ledger) RecomputeTotals() {
	l.totals = Fold(l.entries, time.Time{})
}

// Entries returns a copy of the history, oldest first.
func (l *Ledger) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Totals returns a copy of the cached projection.
func (l *Ledger) Totals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(l.totals))
	for k, v := range l.totals {
		out[k] = v
	}
	return out
}

// Total returns the cached total for one user.
func (l *Ledger) Total(userID string) time.Duration { return l.totals[userID] }

// Aggregate folds the entries that ended at or after since.
// A zero since equals Totals.
func (l *Ledger) Aggregate(since time.Time) map[string]time.Duration {
	if since.IsZero() {
		return l.Totals()
	}
	return Fold(l.entries, since)
}

func (l *Ledger) credit(e Entry, sign time.Duration) {
	if !e.Counts() {
		return
	}
	v := l.totals[e.UserID] + sign*e.Duration
	if v == 0 {
		delete(l.totals, e.UserID)
		return
	}
	l.totals[e.UserID] = v
}

// Fold sums counting entries per user, skipping those that ended before since.
func Fold(entries []Entry, since time.Time) map[string]time.Duration {
	out := map[string]time.Duration{}
	for _, e := range entries {
		if !e.Counts() {
			continue
		}
		if !since.IsZero() && e.EndedAt.Before(since) {
			continue
		}
		out[e.UserID] += e.Duration
	}
	for k, v := range out {
		if v == 0 {
			delete(out, k)
		}
	}
	return out
}

// Standing is one leaderboard row.
type Standing struct {
	UserID string
	Total  time.Duration
}

// Leaderboard orders totals descending (ties by user ID) and keeps the top n.
// n <= 0 keeps everything.
func Leaderboard(totals map[string]time.Duration, n int) []Standing {
	out := make([]Standing, 0, len(totals))
	for id, d := range totals {
		out = append(out, Standing{UserID: id, Total: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].UserID < out[j].UserID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
