package ledger

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

func entry(user string, d time.Duration, kind Kind, canceled bool, at time.Time) Entry {
	return Entry{SessionID: "s-" + user, UserID: user, Duration: d, Kind: kind, Canceled: canceled, EndedAt: at}
}

func TestAppendSkipsCanceledAndUnknownKinds(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	l := New(0)
	l.Append(entry("a", time.Minute, KindTimer, false, now))
	l.Append(entry("a", time.Minute, KindTimer, true, now))
	l.Append(entry("a", 2*time.Minute, KindPomodoroWork, false, now))
	l.Append(entry("b", time.Hour, "pomodoro_break", false, now))

	if got := l.Total("a"); got != 3*time.Minute {
		t.Fatalf("Total(a) = %v, want 3m", got)
	}
	if got := l.Total("b"); got != 0 {
		t.Fatalf("Total(b) = %v, want 0", got)
	}
	if l.Len() != 4 {
		t.Fatalf("Len = %d, want 4", l.Len())
	}
}

func TestAppendEvictsOldestAndPatchesTotals(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	l := New(3)
	for i := 1; i <= 5; i++ {
		l.Append(entry("a", time.Duration(i)*time.Second, KindTimer, false, now))
	}
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	if got := l.Total("a"); got != 12*time.Second {
		t.Fatalf("Total(a) = %v, want 12s (3+4+5)", got)
	}
	if first := l.Entries()[0].Duration; first != 3*time.Second {
		t.Fatalf("oldest kept = %v, want 3s", first)
	}
}

// The cached projection must always equal a replay of the held entries.
func TestCachedTotalsEqualReplay(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	now := time.Unix(1_700_000_000, 0)
	kinds := []Kind{KindTimer, KindPomodoroWork, "other"}
	l := New(50)
	for i := 0; i < 500; i++ {
		l.Append(entry(
			fmt.Sprintf("u%d", rng.Intn(6)),
			time.Duration(rng.Intn(120))*time.Second,
			kinds[rng.Intn(len(kinds))],
			rng.Intn(4) == 0,
			now.Add(time.Duration(i)*time.Second),
		))
		if i%37 == 0 {
			cached := l.Totals()
			l.RecomputeTotals()
			if !reflect.DeepEqual(cached, l.Totals()) {
				t.Fatalf("after %d appends cached %v != replay %v", i+1, cached, l.Totals())
			}
		}
	}
}

func TestRestoreTrimsAndRecomputes(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	var in []Entry
	for i := 0; i < 10; i++ {
		in = append(in, entry("a", time.Second, KindTimer, false, now))
	}
	l := New(4)
	l.Restore(in)
	if l.Len() != 4 || l.Total("a") != 4*time.Second {
		t.Fatalf("Len=%d Total=%v, want 4 and 4s", l.Len(), l.Total("a"))
	}
	l.Reset()
	if l.Len() != 0 || len(l.Totals()) != 0 {
		t.Fatal("Reset left data behind")
	}
}

func TestAggregateSince(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	l := New(0)
	l.Append(entry("a", time.Minute, KindTimer, false, now.Add(-48*time.Hour)))
	l.Append(entry("a", 2*time.Minute, KindTimer, false, now.Add(-time.Hour)))
	l.Append(entry("b", 5*time.Minute, KindPomodoroWork, false, now))

	got := l.Aggregate(now.Add(-24 * time.Hour))
	want := map[string]time.Duration{"a": 2 * time.Minute, "b": 5 * time.Minute}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Aggregate = %v, want %v", got, want)
	}
	if all := l.Aggregate(time.Time{}); all["a"] != 3*time.Minute {
		t.Fatalf("Aggregate(zero)[a] = %v, want 3m", all["a"])
	}
}

func TestLeaderboard(t *testing.T) {
	t.Parallel()
	totals := map[string]time.Duration{"c": time.Minute, "a": time.Hour, "b": time.Hour, "d": time.Second}
	got := Leaderboard(totals, 3)
	want := []Standing{{"a", time.Hour}, {"b", time.Hour}, {"c", time.Minute}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Leaderboard = %v, want %v", got, want)
	}
	if all := Leaderboard(totals, 0); len(all) != 4 {
		t.Fatalf("Leaderboard(n=0) len = %d, want 4", len(all))
	}
}
