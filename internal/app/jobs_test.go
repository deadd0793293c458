package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"focusbot/internal/config"
	"focusbot/internal/engine"
	"focusbot/internal/ledger"
	logx "focusbot/pkg/logx"
)

type fakeFlush struct{ n atomic.Int32 }

func (f *fakeFlush) Flush(context.Context) error {
	f.n.Add(1)
	return nil
}

type fakeDigest struct{ rep engine.TotalsReport }

func (f fakeDigest) Totals(context.Context, engine.TotalsQuery) (engine.TotalsReport, error) {
	return f.rep, nil
}

type fakeReporter struct {
	mu   sync.Mutex
	sent []string
}

func (r *fakeReporter) Report(_ context.Context, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return true
}

func TestDigestPostsLeaderboard(t *testing.T) {
	t.Parallel()
	rep := &fakeReporter{}
	p := newPeriodic(&fakeFlush{}, fakeDigest{rep: engine.TotalsReport{
		Timeframe:   engine.TimeframeToday,
		Leaderboard: []ledger.Standing{{UserID: "7", Total: 25 * time.Minute}},
	}}, rep, logx.Nop())

	p.runDigest(context.Background())
	if len(rep.sent) != 1 || rep.sent[0] != "Daily digest\nFocus time (today)\n1. 7 25m" {
		t.Fatalf("reported %q", rep.sent)
	}

	empty := &fakeReporter{}
	newPeriodic(&fakeFlush{}, fakeDigest{}, empty, logx.Nop()).runDigest(context.Background())
	if len(empty.sent) != 0 {
		t.Fatalf("empty digest reported %q", empty.sent)
	}
}

func TestPeriodicSchedulesFlush(t *testing.T) {
	t.Parallel()
	fl := &fakeFlush{}
	p := newPeriodic(fl, fakeDigest{}, &fakeReporter{}, logx.Nop())
	cfg := &config.Config{Engine: config.EngineConfig{Persist: engine.PersistInterval, FlushSchedule: "@every 1s", Timezone: "UTC"}}
	p.start(context.Background(), cfg)
	t.Cleanup(func() { _ = p.stop(context.Background()) })

	deadline := time.Now().Add(5 * time.Second)
	for fl.n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("flush job never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestPeriodicSkipsBadSchedule(t *testing.T) {
	t.Parallel()
	p := newPeriodic(&fakeFlush{}, fakeDigest{}, &fakeReporter{}, logx.Nop())
	p.start(context.Background(), &config.Config{Engine: config.EngineConfig{
		Persist:        engine.PersistInterval,
		FlushSchedule:  "every now and then",
		DigestSchedule: "* * *",
	}})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		t.Fatal("cron started without a valid job")
	}
}
