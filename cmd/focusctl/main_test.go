package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"focusbot/internal/ledger"
	"focusbot/internal/storage"
	logx "focusbot/pkg/logx"
)

// run executes focusctl with args. Commands share package-level flags, so
// these tests do not run in parallel.
func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("focusctl %v: %v", args, err)
	}
	return out.String()
}

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timers-data.json")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ended := time.Now().Add(-time.Hour)
	snap := storage.NewSnapshot()
	snap.SetHistory([]ledger.Entry{
		{SessionID: "s1", UserID: "7", Duration: 25 * time.Minute, Kind: ledger.KindPomodoroWork, EndedAt: ended},
		{SessionID: "s2", UserID: "8", Duration: 10 * time.Minute, Kind: ledger.KindTimer, EndedAt: ended},
		{SessionID: "s3", UserID: "8", Duration: 10 * time.Minute, Kind: ledger.KindTimer, EndedAt: ended, Canceled: true},
	}, map[string]time.Duration{"7": time.Minute})
	if err := st.Save(context.Background(), snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestParseCommand(t *testing.T) {
	got := run(t, "parse", "1h", "30m", "with", "@5")
	if !strings.Contains(got, "not a duration") || !strings.Contains(got, "participants: 5") {
		t.Fatalf("output:\n%s", got)
	}
	got = run(t, "parse", "25:00")
	if !strings.Contains(got, "duration:     25m") {
		t.Fatalf("output:\n%s", got)
	}
}

func TestStatsAndRecompute(t *testing.T) {
	path := seedStore(t)

	got := run(t, "--path", path, "stats", "--timeframe", "week")
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "7") || !strings.Contains(lines[1], "10m") {
		t.Fatalf("stats output:\n%s", got)
	}

	got = run(t, "--path", path, "recompute")
	if !strings.Contains(got, "2 totals corrected") {
		t.Fatalf("recompute output:\n%s", got)
	}
	got = run(t, "--path", path, "recompute")
	if !strings.Contains(got, "0 totals corrected") {
		t.Fatalf("second recompute output:\n%s", got)
	}
}
