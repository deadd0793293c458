package authz

import (
	"context"
	"reflect"
	"testing"
)

type writableFunc func(scope string) bool

func (f writableFunc) CanWrite(_ context.Context, scope string) bool { return f(scope) }

func TestRegistryGrantRevoke(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if !r.Grant("g1", "u2") || !r.Grant("g1", "u1") {
		t.Fatal("first grants should change the set")
	}
	if r.Grant("g1", "u1") {
		t.Fatal("duplicate grant should be a no-op")
	}
	if r.Grant("", "u1") || r.Grant("g1", "") {
		t.Fatal("empty ids must be rejected")
	}
	if got := r.List("g1"); !reflect.DeepEqual(got, []string{"u1", "u2"}) {
		t.Fatalf("List = %v", got)
	}
	if !r.IsAuthorized("g1", "u1") || r.IsAuthorized("g2", "u1") {
		t.Fatal("authorization must be scoped")
	}
	if !r.Revoke("g1", "u1") || r.Revoke("g1", "u1") {
		t.Fatal("revoke should succeed once")
	}
	r.Revoke("g1", "u2")
	if snap := r.Snapshot(); len(snap) != 0 {
		t.Fatalf("empty scopes should be dropped, got %v", snap)
	}
}

func TestRegistrySnapshotRestore(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Restore(map[string][]string{"g1": {"b", "a", ""}, "": {"x"}, "g2": {}})
	want := map[string][]string{"g1": {"a", "b"}}
	if got := r.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
}

func TestOracle(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Grant("g1", "mod")
	o := NewOracle(reg, writableFunc(func(scope string) bool { return scope == "g1" }), []string{"root"})

	tests := []struct {
		scope, user string
		want        bool
	}{
		{"g1", "mod", true},
		{"g2", "mod", false},
		{"g2", "root", true},
		{"g1", "", false},
		{"g1", "rando", false},
	}
	for _, tt := range tests {
		if got := o.IsAuthorizedResetter(tt.scope, tt.user); got != tt.want {
			t.Fatalf("IsAuthorizedResetter(%q,%q) = %v, want %v", tt.scope, tt.user, got, tt.want)
		}
	}

	ctx := context.Background()
	if !o.CanWriteScope(ctx, "g1") || o.CanWriteScope(ctx, "g2") || o.CanWriteScope(ctx, "") {
		t.Fatal("CanWriteScope must follow the probe")
	}

	o.SetOperators(nil)
	if o.IsAuthorizedResetter("g2", "root") {
		t.Fatal("operator list should be replaceable")
	}
}
