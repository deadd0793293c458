package engine

import (
	"sort"

	"focusbot/internal/session"
)

// live is a session plus its armed deadline.
type live struct {
	s    *session.Session
	stop Stopper
	ver  uint64
}

// table owns every live session, keyed by ID, with owner and scope indices.
// Only the worker touches it.
type table struct {
	byID    map[string]*live
	byOwner map[string]map[string]struct{}
	byScope map[string]map[string]struct{}
}

func newTable() *table {
	return &table{
		byID:    map[string]*live{},
		byOwner: map[string]map[string]struct{}{},
		byScope: map[string]map[string]struct{}{},
	}
}

func (t *table) get(id string) *live { return t.byID[id] }

func (t *table) len() int { return len(t.byID) }

func (t *table) put(l *live) {
	id := l.s.ID
	t.byID[id] = l
	index(t.byOwner, l.s.OwnerID, id)
	index(t.byScope, l.s.ScopeID, id)
}

func (t *table) remove(id string) *live {
	l := t.byID[id]
	if l == nil {
		return nil
	}
	delete(t.byID, id)
	unindex(t.byOwner, l.s.OwnerID, id)
	unindex(t.byScope, l.s.ScopeID, id)
	return l
}

func (t *table) clear() []*live {
	all := t.all()
	t.byID = map[string]*live{}
	t.byOwner = map[string]map[string]struct{}{}
	t.byScope = map[string]map[string]struct{}{}
	return all
}

// all returns every live session ordered by deadline, then ID.
func (t *table) all() []*live {
	out := make([]*live, 0, len(t.byID))
	for _, l := range t.byID {
		out = append(out, l)
	}
	sortLive(out)
	return out
}

func (t *table) owned(owner string) []*live { return t.pick(t.byOwner[owner]) }

func (t *table) inScope(scope string) []*live { return t.pick(t.byScope[scope]) }

func (t *table) pick(ids map[string]struct{}) []*live {
	out := make([]*live, 0, len(ids))
	for id := range ids {
		if l := t.byID[id]; l != nil {
			out = append(out, l)
		}
	}
	sortLive(out)
	return out
}

func (t *table) counts() (timers, pomodoros int) {
	for _, l := range t.byID {
		if l.s.Kind == session.KindPomodoro {
			pomodoros++
		} else {
			timers++
		}
	}
	return timers, pomodoros
}

func sortLive(ls []*live) {
	sort.Slice(ls, func(i, j int) bool {
		a, b := ls[i].s, ls[j].s
		if !a.Deadline.Equal(b.Deadline) {
			return a.Deadline.Before(b.Deadline)
		}
		return a.ID < b.ID
	})
}

func index(m map[string]map[string]struct{}, key, id string) {
	set := m[key]
	if set == nil {
		set = map[string]struct{}{}
		m[key] = set
	}
	set[id] = struct{}{}
}

func unindex(m map[string]map[string]struct{}, key, id string) {
	set := m[key]
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

func clones(ls []*live) []session.Session {
	out := make([]session.Session, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.s.Clone())
	}
	return out
}
