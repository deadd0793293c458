// Package authz tracks which users may cancel or reset sessions they do not
// own, per scope.
package authz

import (
	"context"
	"slices"
	"sync"
)

// Registry maps scope IDs to the set of authorized users.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{scopes: map[string]map[string]struct{}{}}
}

// Grant adds userID to scopeID. It reports whether the set changed.
func (r *Registry) Grant(scopeID, userID string) bool {
	if scopeID == "" || userID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.scopes[scopeID]
	if set == nil {
		set = map[string]struct{}{}
		r.scopes[scopeID] = set
	}
	if _, ok := set[userID]; ok {
		return false
	}
	set[userID] = struct{}{}
	return true
}

// Revoke removes userID from scopeID. It reports whether the set changed.
func (r *Registry) Revoke(scopeID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.scopes[scopeID]
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(r.scopes, scopeID)
	}
	return true
}

// List returns the authorized users of a scope, sorted.
func (r *Registry) List(scopeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.scopes[scopeID])
}

func (r *Registry) IsAuthorized(scopeID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.scopes[scopeID][userID]
	return ok
}

// Snapshot exports the registry as sorted lists.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.scopes))
	for scope, set := range r.scopes {
		out[scope] = sortedKeys(set)
	}
	return out
}

// Restore replaces the content from a snapshot.
func (r *Registry) Restore(m map[string][]string) {
	scopes := make(map[string]map[string]struct{}, len(m))
	for scope, ids := range m {
		if scope == "" {
			continue
		}
		set := map[string]struct{}{}
		for _, id := range ids {
			if id != "" {
				set[id] = struct{}{}
			}
		}
		if len(set) > 0 {
			scopes[scope] = set
		}
	}
	r.mu.Lock()
	r.scopes = scopes
	r.mu.Unlock()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ScopeProbe answers whether the bot can currently post into a scope.
type ScopeProbe interface {
	CanWrite(ctx context.Context, scopeID string) bool
}

// Oracle combines operators, the registry and a scope probe into the
// permission checks the engine and the delivery protocol consume.
type Oracle struct {
	reg   *Registry
	probe ScopeProbe

	mu        sync.RWMutex
	operators map[string]struct{}
}

func NewOracle(reg *Registry, probe ScopeProbe, operators []string) *Oracle {
	o := &Oracle{reg: reg, probe: probe}
	o.SetOperators(operators)
	return o
}

// SetOperators swaps the operator list (config reload).
func (o *Oracle) SetOperators(ids []string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = struct{}{}
		}
	}
	o.mu.Lock()
	o.operators = m
	o.mu.Unlock()
}

func (o *Oracle) IsOperator(userID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.operators[userID]
	return ok
}

// IsAuthorizedResetter reports whether userID may act on other users'
// sessions in scopeID. Operators are authorized everywhere.
func (o *Oracle) IsAuthorizedResetter(scopeID, userID string) bool {
	if userID == "" {
		return false
	}
	if o.IsOperator(userID) {
		return true
	}
	return o.reg != nil && o.reg.IsAuthorized(scopeID, userID)
}

// CanWriteScope reports whether the bot can post into scopeID.
func (o *Oracle) CanWriteScope(ctx context.Context, scopeID string) bool {
	if scopeID == "" || o.probe == nil {
		return false
	}
	return o.probe.CanWrite(ctx, scopeID)
}
