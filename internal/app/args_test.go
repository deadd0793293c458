package app

import (
	"slices"
	"testing"
	"time"
)

func TestTokenize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/timer 5m", []string{"/timer", "5m"}},
		{`/timer 5m "deep work"  --dm`, []string{"/timer", "5m", "deep work", "--dm"}},
		{`/timer 5m 'it\'s late'`, []string{"/timer", "5m", "it's late"}},
	}
	for _, tc := range cases {
		if got := tokenize(tc.in); !slices.Equal(got, tc.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()
	a := parseArgs([]string{"25m", "--dm", "reading", "--with", "@1,@2", "--limit=3", "--x"}, "dm")
	if !slices.Equal(a.pos, []string{"25m", "reading"}) {
		t.Fatalf("pos = %q", a.pos)
	}
	if !a.bools["dm"] || !a.bools["x"] {
		t.Fatalf("bools = %v", a.bools)
	}
	if v, _ := a.flag("with"); v != "@1,@2" {
		t.Fatalf("with = %q", v)
	}
	if n, ok := a.intFlag("limit", 10); !ok || n != 3 {
		t.Fatalf("limit = %d, %v", n, ok)
	}
	if n, ok := a.intFlag("missing", 10); !ok || n != 10 {
		t.Fatalf("missing = %d, %v", n, ok)
	}
}

func TestLeadingDuration(t *testing.T) {
	t.Parallel()
	d, rest, ok := leadingDuration([]string{"1h", "30m", "tea"})
	if !ok || d != 90*time.Minute || !slices.Equal(rest, []string{"tea"}) {
		t.Fatalf("got %s %q %v", d, rest, ok)
	}
	if _, _, ok := leadingDuration([]string{"tea", "5m"}); ok {
		t.Fatal("label before duration accepted")
	}
	if _, _, ok := leadingDuration(nil); ok {
		t.Fatal("empty input accepted")
	}
}
