package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"focusbot/internal/config"
	"focusbot/internal/engine"
	logx "focusbot/pkg/logx"
)

// FlushPort persists pending engine state.
type FlushPort interface {
	Flush(ctx context.Context) error
}

// DigestPort produces and posts the periodic leaderboard.
type DigestPort interface {
	Totals(ctx context.Context, q engine.TotalsQuery) (engine.TotalsReport, error)
}

// Reporter posts to the operator report destination.
type Reporter interface {
	Report(ctx context.Context, text string) bool
}

// periodic owns the cron-driven background jobs: interval flushing of the
// snapshot and the daily digest. apply rebuilds the schedule on reload.
type periodic struct {
	log    logx.Logger
	flush  FlushPort
	digest DigestPort
	report Reporter

	mu     sync.Mutex
	ctx    context.Context
	c      *cron.Cron
	jobTTL time.Duration
}

func newPeriodic(flush FlushPort, digest DigestPort, report Reporter, log logx.Logger) *periodic {
	return &periodic{
		log:    log,
		flush:  flush,
		digest: digest,
		report: report,
		jobTTL: 30 * time.Second,
	}
}

// start binds the jobs to ctx and schedules them from cfg.
func (p *periodic) start(ctx context.Context, cfg *config.Config) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	p.apply(cfg)
}

// apply replaces the running schedule with one built from cfg.
func (p *periodic) apply(cfg *config.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return
	}
	if p.c != nil {
		p.c.Stop()
		p.c = nil
	}

	loc, err := cfg.Engine.Location()
	if err != nil {
		loc = time.Local
	}
	cl := cronLogger{log: p.log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	n := 0
	if strings.TrimSpace(cfg.Engine.Persist) == engine.PersistInterval {
		if p.add(c, "flush", flushSchedule(cfg), p.runFlush) {
			n++
		}
	}
	if expr := strings.TrimSpace(cfg.Engine.DigestSchedule); expr != "" {
		if p.add(c, "digest", expr, p.runDigest) {
			n++
		}
	}
	if n == 0 {
		return
	}
	c.Start()
	p.c = c
}

func (p *periodic) add(c *cron.Cron, name, expr string, fn func(context.Context)) bool {
	sched, err := config.ParseSchedule(expr)
	if err != nil {
		p.log.Warn("bad schedule; job disabled", logx.String("job", name), logx.String("expr", expr), logx.Err(err))
		return false
	}
	ctx := p.ctx
	c.Schedule(sched, cron.FuncJob(func() {
		jctx, cancel := context.WithTimeout(ctx, p.jobTTL)
		defer cancel()
		fn(jctx)
	}))
	p.log.Info("job scheduled", logx.String("job", name), logx.String("expr", expr))
	return true
}

// stop halts the schedule and waits for running jobs, bounded by ctx.
func (p *periodic) stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.ctx = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *periodic) runFlush(ctx context.Context) {
	if err := p.flush.Flush(ctx); err != nil {
		p.log.Warn("interval flush failed", logx.Err(err))
	}
}

func (p *periodic) runDigest(ctx context.Context) {
	rep, err := p.digest.Totals(ctx, engine.TotalsQuery{Timeframe: engine.TimeframeToday})
	if err != nil {
		p.log.Warn("digest failed", logx.Err(err))
		return
	}
	if len(rep.Leaderboard) == 0 {
		p.log.Debug("digest skipped: no entries today")
		return
	}
	if !p.report.Report(ctx, "Daily digest\n"+formatTotals(rep, "")) {
		p.log.Warn("digest not delivered")
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
