package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"focusbot/internal/authz"
	"focusbot/internal/delivery"
	"focusbot/internal/session"
	"focusbot/internal/storage"
	logx "focusbot/pkg/logx"
)

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

// fakeClock fires due callbacks in deadline order from Advance, without
// holding its lock while a callback runs.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

type fakeNotifier struct {
	mu      sync.Mutex
	fail    bool
	seq     int
	reqs    []delivery.Request
	reports []string
}

func (n *fakeNotifier) Deliver(_ context.Context, req delivery.Request) delivery.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
	if n.fail {
		return delivery.Result{}
	}
	handle := req.Handle
	if handle == "" {
		n.seq++
		handle = fmt.Sprintf("m%d", n.seq)
	}
	return delivery.Result{Scope: true, Handle: handle}
}

func (n *fakeNotifier) Report(_ context.Context, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, text)
	return true
}

func (n *fakeNotifier) requests() []delivery.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]delivery.Request(nil), n.reqs...)
}

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	e     *Engine
	clock *fakeClock
	n     *fakeNotifier
	reg   *authz.Registry
}

func newHarness(t *testing.T, clk *fakeClock, store storage.Store) *harness {
	t.Helper()
	reg := authz.NewRegistry()
	h := &harness{clock: clk, n: &fakeNotifier{}, reg: reg}
	h.e = New(Config{Location: time.UTC}, Deps{
		Store:    store,
		Notifier: h.n,
		Oracle:   authz.NewOracle(reg, nil, []string{"op"}),
		Registry: reg,
		Clock:    clk,
		Log:      logx.Nop(),
	})
	if err := h.e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.e.Stop(context.Background()) })
	return h
}

func openStore(t *testing.T, path string) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func totalOf(t *testing.T, e *Engine, user string) time.Duration {
	t.Helper()
	rep, err := e.Totals(context.Background(), TotalsQuery{UserID: user})
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	return rep.UserTotal
}

func TestPomodoroEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)

	p, err := h.e.CreatePomodoro(ctx, PomodoroSpec{OwnerID: "u1", ScopeID: "c1", Work: 10 * time.Second, Break: 5 * time.Second, Cycles: 2})
	if err != nil {
		t.Fatalf("CreatePomodoro: %v", err)
	}
	st, err := h.e.Status(ctx, p.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.TotalRemaining != 25*time.Second {
		t.Fatalf("total remaining = %s, want 25s", st.TotalRemaining)
	}

	h.clock.Advance(10 * time.Second)
	st, err = h.e.Status(ctx, p.ID)
	if err != nil {
		t.Fatalf("Status after work: %v", err)
	}
	if st.Session.Pomodoro.Phase != session.PhaseBreak {
		t.Fatalf("phase = %s, want break", st.Session.Pomodoro.Phase)
	}
	if got := totalOf(t, h.e, "u1"); got != 10*time.Second {
		t.Fatalf("total after first work = %s", got)
	}
	ov, _ := h.e.Overview(ctx)
	if ov.Entries != 1 {
		t.Fatalf("entries = %d, want 1", ov.Entries)
	}

	h.clock.Advance(5 * time.Second)
	st, err = h.e.Status(ctx, p.ID)
	if err != nil {
		t.Fatalf("Status after break: %v", err)
	}
	if st.Session.Pomodoro.Phase != session.PhaseWork || st.Session.Pomodoro.CurrentCycle != 1 {
		t.Fatalf("got phase %s cycle %d, want work cycle 1", st.Session.Pomodoro.Phase, st.Session.Pomodoro.CurrentCycle)
	}

	h.clock.Advance(10 * time.Second)
	if _, err := h.e.Status(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Status after completion: err = %v, want ErrNotFound", err)
	}
	if got := totalOf(t, h.e, "u1"); got != 20*time.Second {
		t.Fatalf("total = %s, want 20s", got)
	}
}

func TestNoticesEditTrackedHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)

	p, err := h.e.CreatePomodoro(ctx, PomodoroSpec{OwnerID: "u1", ScopeID: "c1", Work: time.Minute, Break: time.Minute, Cycles: 2})
	if err != nil {
		t.Fatalf("CreatePomodoro: %v", err)
	}
	st, _ := h.e.Status(ctx, p.ID)
	if st.Session.Handle != "m1" {
		t.Fatalf("handle = %q, want m1", st.Session.Handle)
	}
	h.clock.Advance(time.Minute)
	reqs := h.n.requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[1].Handle != "m1" {
		t.Fatalf("break notice handle = %q, want m1", reqs[1].Handle)
	}
	if !strings.Contains(reqs[1].Content, "Break started") {
		t.Fatalf("break notice = %q", reqs[1].Content)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)

	s, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: "u1", ScopeID: "c1", Duration: time.Minute, Participants: []string{"u2"}})
	if err != nil {
		t.Fatalf("CreateTimer: %v", err)
	}
	if _, err := h.e.Cancel(ctx, s.ID, "u1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := h.e.Cancel(ctx, s.ID, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Cancel: err = %v, want ErrNotFound", err)
	}
	ov, _ := h.e.Overview(ctx)
	if ov.Entries != 2 {
		t.Fatalf("entries = %d, want one per participant", ov.Entries)
	}
	if got := totalOf(t, h.e, "u1"); got != 0 {
		t.Fatalf("canceled time credited: %s", got)
	}

	// The disarmed deadline must not credit anything later.
	h.clock.Advance(2 * time.Minute)
	ov, _ = h.e.Overview(ctx)
	if ov.Entries != 2 {
		t.Fatalf("entries after deadline = %d, want 2", ov.Entries)
	}
}

func TestCancelForbiddenLeavesState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)

	s, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: "u1", ScopeID: "c1", Duration: time.Minute})
	if err != nil {
		t.Fatalf("CreateTimer: %v", err)
	}
	if _, err := h.e.Cancel(ctx, s.ID, "u3"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Cancel by stranger: err = %v, want ErrForbidden", err)
	}
	all, _ := h.e.ListAll(ctx)
	ov, _ := h.e.Overview(ctx)
	if len(all) != 1 || ov.Entries != 0 {
		t.Fatalf("state changed: sessions=%d entries=%d", len(all), ov.Entries)
	}

	if _, err := h.e.GrantResetAuthority(ctx, "u1", "c1", "u3"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("grant by non-operator: err = %v", err)
	}
	changed, err := h.e.GrantResetAuthority(ctx, "op", "c1", "u3")
	if err != nil || !changed {
		t.Fatalf("grant by operator: changed=%v err=%v", changed, err)
	}
	if got := h.e.ListResetAuthority("c1"); len(got) != 1 || got[0] != "u3" {
		t.Fatalf("ListResetAuthority = %v", got)
	}
	if _, err := h.e.Cancel(ctx, s.ID, "u3"); err != nil {
		t.Fatalf("Cancel by authorized resetter: %v", err)
	}
	if changed, _ := h.e.RevokeResetAuthority(ctx, "op", "c1", "u3"); !changed {
		t.Fatal("revoke reported no change")
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"zero timer", func() error {
			_, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: "u1", Duration: 0})
			return err
		}, ErrInvalidDuration},
		{"no owner", func() error {
			_, err := h.e.CreateTimer(ctx, TimerSpec{Duration: time.Second})
			return err
		}, ErrMissingOwner},
		{"negative break", func() error {
			_, err := h.e.CreatePomodoro(ctx, PomodoroSpec{OwnerID: "u1", Work: time.Second, Break: -time.Second, Cycles: 1})
			return err
		}, ErrInvalidDuration},
		{"too many cycles", func() error {
			_, err := h.e.CreatePomodoro(ctx, PomodoroSpec{OwnerID: "u1", Work: time.Second, Break: time.Second, Cycles: 101})
			return err
		}, ErrInvalidCycles},
		{"zero cycles", func() error {
			_, err := h.e.CreatePomodoro(ctx, PomodoroSpec{OwnerID: "u1", Work: time.Second, Break: time.Second})
			return err
		}, ErrInvalidCycles},
	}
	for _, tc := range tests {
		if err := tc.run(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
	all, _ := h.e.ListAll(ctx)
	if len(all) != 0 {
		t.Fatalf("rejected specs created %d sessions", len(all))
	}
}

func TestRestartExpiredTimer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "timers-data.json")
	clk := newFakeClock(t0)

	first := newHarness(t, clk, openStore(t, path))
	if _, err := first.e.CreateTimer(ctx, TimerSpec{OwnerID: "u1", ScopeID: "c1", Duration: time.Minute}); err != nil {
		t.Fatalf("CreateTimer: %v", err)
	}
	if err := first.e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	clk.Advance(5 * time.Minute)
	second := newHarness(t, clk, openStore(t, path))
	all, _ := second.e.ListAll(ctx)
	if len(all) != 0 {
		t.Fatalf("expired timer still live: %d", len(all))
	}
	if got := totalOf(t, second.e, "u1"); got != time.Minute {
		t.Fatalf("total = %s, want 1m", got)
	}
	ov, _ := second.e.Overview(ctx)
	if ov.Entries != 1 {
		t.Fatalf("entries = %d, want 1", ov.Entries)
	}
	reqs := second.n.requests()
	if len(reqs) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(reqs))
	}
	if !strings.Contains(reqs[0].Content, "offline") {
		t.Fatalf("notice does not mention downtime: %q", reqs[0].Content)
	}
}

func TestRestartCatchesUpPomodoro(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "timers-data.json")
	clk := newFakeClock(t0)

	first := newHarness(t, clk, openStore(t, path))
	p, err := first.e.CreatePomodoro(ctx, PomodoroSpec{OwnerID: "u1", ScopeID: "c1", Work: 10 * time.Second, Break: 5 * time.Second, Cycles: 3})
	if err != nil {
		t.Fatalf("CreatePomodoro: %v", err)
	}
	if err := first.e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// work@10 break@15 work@25 break@30; the third work phase runs until 40.
	clk.Advance(32 * time.Second)
	second := newHarness(t, clk, openStore(t, path))
	st, err := second.e.Status(ctx, p.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	pm := st.Session.Pomodoro
	if pm.Phase != session.PhaseWork || pm.CurrentCycle != 2 {
		t.Fatalf("got %s cycle %d, want work cycle 2", pm.Phase, pm.CurrentCycle)
	}
	if st.Remaining != 8*time.Second {
		t.Fatalf("remaining = %s, want 8s", st.Remaining)
	}
	if got := totalOf(t, second.e, "u1"); got != 20*time.Second {
		t.Fatalf("total = %s, want 20s", got)
	}
	if reqs := second.n.requests(); len(reqs) != 1 {
		t.Fatalf("catch-up sent %d notices, want 1", len(reqs))
	}

	second.clock.Advance(8 * time.Second)
	if _, err := second.e.Status(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session not completed: %v", err)
	}
	if got := totalOf(t, second.e, "u1"); got != 30*time.Second {
		t.Fatalf("final total = %s, want 30s", got)
	}
}

func TestRestartDropsInvalidSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "timers-data.json")
	clk := newFakeClock(t0)

	snap := storage.NewSnapshot()
	snap.AddSession(&session.Session{
		ID: "bad", Kind: session.KindPomodoro, OwnerID: "u2", Participants: []string{"u2"}, ScopeID: "c1",
		CreatedAt: t0.Add(-time.Hour), Deadline: t0.Add(time.Minute),
		Pomodoro: &session.Pomodoro{Work: time.Minute, Break: time.Minute, TotalCycles: 2, CurrentCycle: 5, Phase: "nap"},
	})
	snap.AddSession(&session.Session{
		ID: "ok", Kind: session.KindTimer, OwnerID: "u1", Participants: []string{"u1"}, ScopeID: "c1",
		CreatedAt: t0.Add(-2 * time.Minute), Deadline: t0.Add(-time.Minute), Duration: time.Minute,
	})
	st := openStore(t, path)
	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	h := newHarness(t, clk, st)
	if all, _ := h.e.ListAll(ctx); len(all) != 0 {
		t.Fatalf("live sessions = %d, want 0", len(all))
	}
	if _, err := h.e.Status(ctx, "bad"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("invalid session restored: %v", err)
	}
	if got := totalOf(t, h.e, "u1"); got != time.Minute {
		t.Fatalf("total(u1) = %s, want 1m", got)
	}
	if got := totalOf(t, h.e, "u2"); got != 0 {
		t.Fatalf("total(u2) = %s, want 0", got)
	}
	if reqs := h.n.requests(); len(reqs) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(reqs))
	}
}

func TestDeliveryFailureStillCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)
	h.n.fail = true

	if _, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: "u1", ScopeID: "c1", Duration: time.Second}); err != nil {
		t.Fatalf("CreateTimer: %v", err)
	}
	h.clock.Advance(time.Second)
	all, _ := h.e.ListAll(ctx)
	if len(all) != 0 {
		t.Fatal("timer not finalized")
	}
	if got := totalOf(t, h.e, "u1"); got != time.Second {
		t.Fatalf("total = %s, want 1s", got)
	}
}

func TestResetAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)

	if _, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: "u1", ScopeID: "c1", Duration: time.Second}); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Second)
	for i := 0; i < 2; i++ {
		if _, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: "u2", ScopeID: "c1", Duration: time.Hour}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := h.e.ResetAll(ctx, "u2", "c1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("reset by regular user: err = %v", err)
	}
	rep, err := h.e.ResetAll(ctx, "op", "c1")
	if err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	if rep.Sessions != 2 || rep.Entries != 1 || !rep.Reported {
		t.Fatalf("report = %+v", rep)
	}
	all, _ := h.e.ListAll(ctx)
	if len(all) != 0 || totalOf(t, h.e, "u1") != 0 {
		t.Fatal("state survived reset")
	}
	h.clock.Advance(2 * time.Hour)
	ov, _ := h.e.Overview(ctx)
	if ov.Entries != 0 {
		t.Fatalf("reset timers fired: entries = %d", ov.Entries)
	}
}

func TestTotalsTimeframes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)

	run := func(user string, d time.Duration) {
		t.Helper()
		if _, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: user, ScopeID: "c1", Duration: d}); err != nil {
			t.Fatal(err)
		}
		h.clock.Advance(d)
	}
	run("u1", time.Hour)
	h.clock.Advance(24 * time.Hour)
	run("u1", 30*time.Minute)
	run("u2", 10*time.Minute)

	tests := []struct {
		frame string
		want  time.Duration
	}{
		{TimeframeAll, 90 * time.Minute},
		{TimeframeWeek, 90 * time.Minute},
		{TimeframeToday, 30 * time.Minute},
	}
	for _, tc := range tests {
		rep, err := h.e.Totals(ctx, TotalsQuery{UserID: "u1", Timeframe: tc.frame})
		if err != nil {
			t.Fatalf("%s: %v", tc.frame, err)
		}
		if rep.UserTotal != tc.want {
			t.Fatalf("%s: total = %s, want %s", tc.frame, rep.UserTotal, tc.want)
		}
		if rep.Users != 2 || rep.Leaderboard[0].UserID != "u1" {
			t.Fatalf("%s: leaderboard = %+v", tc.frame, rep.Leaderboard)
		}
	}
	if _, err := h.e.Totals(ctx, TotalsQuery{Timeframe: "year"}); err == nil {
		t.Fatal("unknown timeframe accepted")
	}
}

func TestParticipants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)

	s, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: "u1", ScopeID: "c1", Duration: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.AddParticipant(ctx, s.ID, "u2", "u2"); err != nil {
		t.Fatalf("self join: %v", err)
	}
	if _, err := h.e.AddParticipant(ctx, s.ID, "u3", "u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("adding others without authority: err = %v", err)
	}
	got, err := h.e.RemoveParticipant(ctx, s.ID, "u1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasParticipant("u1") {
		t.Fatal("owner removed")
	}

	h.clock.Advance(time.Minute)
	rep, _ := h.e.Totals(ctx, TotalsQuery{})
	users := make([]string, 0, len(rep.Leaderboard))
	for _, st := range rep.Leaderboard {
		users = append(users, st.UserID)
	}
	sort.Strings(users)
	if strings.Join(users, ",") != "u1,u2" {
		t.Fatalf("credited users = %v", users)
	}
}

func TestStoppedEngineRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, newFakeClock(t0), nil)
	if err := h.e.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.CreateTimer(ctx, TimerSpec{OwnerID: "u1", Duration: time.Second}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
