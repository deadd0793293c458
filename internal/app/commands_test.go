package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"focusbot/internal/authz"
	"focusbot/internal/engine"
	kit "focusbot/internal/transport"
	logx "focusbot/pkg/logx"
)

type fakeReplier struct {
	mu   sync.Mutex
	sent []string
}

func (r *fakeReplier) Send(_ context.Context, scopeID, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, scopeID+"|"+text)
	return "", nil
}

func (r *fakeReplier) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

type cmdHarness struct {
	eng *engine.Engine
	c   *Commands
	out *fakeReplier
}

func newCmdHarness(t *testing.T) *cmdHarness {
	t.Helper()
	reg := authz.NewRegistry()
	eng := engine.New(engine.Config{Location: time.UTC}, engine.Deps{
		Oracle:   authz.NewOracle(reg, nil, []string{"1"}),
		Registry: reg,
		Log:      logx.Nop(),
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	out := &fakeReplier{}
	return &cmdHarness{eng: eng, c: NewCommands(eng, out, logx.Nop()), out: out}
}

// run executes one message synchronously and returns the replies.
func (h *cmdHarness) run(t *testing.T, from int64, text string, mentions ...int64) []string {
	t.Helper()
	msg := kit.Message{ID: 1, ChatID: -100, ThreadID: 3, FromID: from, Text: text, IsGroup: true, Mentions: mentions}
	cmd, req, ok := h.c.match(msg)
	if !ok {
		t.Fatalf("%q did not match a command", text)
	}
	h.c.handle(context.Background(), cmd, req)
	return h.out.take()
}

func TestTimerCommandCreatesSession(t *testing.T) {
	t.Parallel()
	h := newCmdHarness(t)

	if got := h.run(t, 7, `/timer 1h 30m "tea break" --with @5`, 9); len(got) != 0 {
		t.Fatalf("unexpected replies %q", got)
	}
	list, err := h.eng.ListByOwner(context.Background(), "7")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByOwner = %v, %v", list, err)
	}
	s := list[0]
	if s.Duration != 90*time.Minute || s.Label != "tea break" || s.ScopeID != "-100:3" {
		t.Fatalf("session = %+v", s)
	}
	if strings.Join(s.Participants, ",") != "5,7,9" {
		t.Fatalf("participants = %v", s.Participants)
	}
}

func TestCommandUsageErrors(t *testing.T) {
	t.Parallel()
	h := newCmdHarness(t)
	for _, text := range []string{"/timer soon", "/pomodoro 25m 5m", "/pomodoro 25m 5m x", "/cancel", "/stats forever", "/stats --limit 0"} {
		got := h.run(t, 7, text)
		if len(got) != 1 || !strings.Contains(got[0], "usage: /") {
			t.Fatalf("%q replied %q", text, got)
		}
	}
	got := h.run(t, 7, "/timer 0s")
	if len(got) != 1 || !strings.Contains(got[0], "duration must be positive") {
		t.Fatalf("zero timer replied %q", got)
	}
}

func TestCancelNeedsOwnerOrResetter(t *testing.T) {
	t.Parallel()
	h := newCmdHarness(t)
	h.run(t, 7, "/pomodoro 25m 5m 4 focus")
	list, _ := h.eng.ListByOwner(context.Background(), "7")
	if len(list) != 1 {
		t.Fatalf("pomodoro not created: %v", list)
	}
	id := list[0].ID

	if got := h.run(t, 8, "/cancel "+id); len(got) != 1 || !strings.Contains(got[0], "not allowed") {
		t.Fatalf("stranger cancel replied %q", got)
	}
	if got := h.run(t, 8, "/grant @8"); len(got) != 1 || !strings.Contains(got[0], "not allowed") {
		t.Fatalf("non-operator grant replied %q", got)
	}
	if got := h.run(t, 1, "/grant @8"); len(got) != 1 || !strings.Contains(got[0], "8 may now reset") {
		t.Fatalf("grant replied %q", got)
	}
	if got := h.run(t, 1, "/resetters"); len(got) != 1 || !strings.HasSuffix(got[0], "Reset authority: 8") {
		t.Fatalf("resetters replied %q", got)
	}
	if got := h.run(t, 8, "/cancel "+id); len(got) != 0 {
		t.Fatalf("resetter cancel replied %q", got)
	}
	if got := h.run(t, 7, "/cancel "+id); len(got) != 1 || !strings.Contains(got[0], "no such session") {
		t.Fatalf("second cancel replied %q", got)
	}
}

func TestListJoinLeave(t *testing.T) {
	t.Parallel()
	h := newCmdHarness(t)
	if got := h.run(t, 7, "/list"); len(got) != 1 || !strings.Contains(got[0], "no active sessions") {
		t.Fatalf("empty list replied %q", got)
	}
	h.run(t, 7, "/timer 10m")
	list, _ := h.eng.ListByOwner(context.Background(), "7")
	id := list[0].ID

	if got := h.run(t, 8, "/join "+id); len(got) != 1 || !strings.Contains(got[0], "2 participants") {
		t.Fatalf("join replied %q", got)
	}
	if got := h.run(t, 8, "/list here"); len(got) != 1 || !strings.Contains(got[0], "timer "+id) {
		t.Fatalf("list here replied %q", got)
	}
	if got := h.run(t, 7, "/leave "+id); len(got) != 1 || !strings.Contains(got[0], "owner cannot leave") {
		t.Fatalf("owner leave replied %q", got)
	}
	if got := h.run(t, 8, "/leave "+id); len(got) != 1 || !strings.Contains(got[0], "8 left") {
		t.Fatalf("leave replied %q", got)
	}
	if got := h.run(t, 9, "/status "+id); len(got) != 1 || !strings.Contains(got[0], "left") {
		t.Fatalf("status replied %q", got)
	}
}

func TestStatsAndReset(t *testing.T) {
	t.Parallel()
	h := newCmdHarness(t)
	h.run(t, 7, "/timer 10m")
	if got := h.run(t, 7, "/reset"); len(got) != 1 || !strings.Contains(got[0], "not allowed") {
		t.Fatalf("reset by user replied %q", got)
	}
	if got := h.run(t, 1, "/reset"); len(got) != 1 || !strings.Contains(got[0], "1 sessions canceled") {
		t.Fatalf("reset replied %q", got)
	}
	if got := h.run(t, 7, "/stats today"); len(got) != 1 || got[0] != "-100:3|Focus time (today)\nno entries yet" {
		t.Fatalf("stats replied %q", got)
	}
}

func TestMatchIgnoresNonCommands(t *testing.T) {
	t.Parallel()
	h := newCmdHarness(t)
	for _, text := range []string{"hello", "/unknown", "", "/"} {
		if _, _, ok := h.c.match(kit.Message{ChatID: 1, FromID: 2, Text: text}); ok {
			t.Fatalf("%q matched", text)
		}
	}
	if _, _, ok := h.c.match(kit.Message{ChatID: 1, FromID: 2, Text: "/Timer@focus_bot 5m"}); !ok {
		t.Fatal("addressed command did not match")
	}
}

func TestMenuListsEveryCommand(t *testing.T) {
	t.Parallel()
	h := newCmdHarness(t)
	menu := h.c.Menu()
	if len(menu) != len(h.c.builtin()) || menu[0].Command != "timer" {
		t.Fatalf("menu = %+v", menu)
	}
}
