package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"focusbot/internal/authz"
	"focusbot/internal/config"
	"focusbot/internal/delivery"
	"focusbot/internal/engine"
	"focusbot/internal/eventbus"
	"focusbot/internal/observability/status"
	rtsup "focusbot/internal/runtime/supervisor"
	"focusbot/internal/storage"
	kit "focusbot/internal/transport"
	telegram "focusbot/internal/transport/telegram/adapter"
	logx "focusbot/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	disp    *delivery.Dispatcher
	reg     *authz.Registry
	oracle  *authz.Oracle
	engine  *engine.Engine
	cmds    *Commands
	jobs    *periodic
	status  *status.Server

	updates chan kit.Message
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
		ReportChat:  strings.TrimSpace(cfg.Telegram.ReportChat),
	}, logSvc.Logger())
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	logSvc.SetOpsSink(ad)

	bus := eventbus.New()

	sc := mapStorageConfig(cfg)
	store, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	} else {
		log.Warn("storage disabled; sessions and history will not survive a restart")
	}

	reg := authz.NewRegistry()
	oracle := authz.NewOracle(reg, ad, ownerIDs(cfg))

	disp := delivery.New(mapDeliveryConfig(cfg), ad, oracle,
		logSvc.Logger().With(logx.String("comp", "delivery")), bus)

	eng := engine.New(mapEngineConfig(cfg), engine.Deps{
		Store:    store,
		Notifier: disp,
		Oracle:   oracle,
		Registry: reg,
		Log:      logSvc.Logger().With(logx.String("comp", "engine")),
		Bus:      bus,
	})

	cmds := NewCommands(eng, ad, logSvc.Logger().With(logx.String("comp", "commands")))
	cmds.SetFallbackDefault(fallbackDefault(cfg))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		disp:    disp,
		reg:     reg,
		oracle:  oracle,
		engine:  eng,
		cmds:    cmds,
		jobs:    newPeriodic(eng, eng, disp, logSvc.Logger().With(logx.String("comp", "jobs"))),
		status:  status.New(logSvc.Logger().With(logx.String("comp", "status"))),
		updates: make(chan kit.Message, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))

	// Restore before polling so no command sees a half-loaded table.
	if err := a.engine.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.cmds.Menu()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	a.jobs.start(a.sup.Context(), a.cfgm.Get())
	a.registerProbes()
	a.status.Apply(a.sup.Context(), mapStatusConfig(a.cfgm.Get()))

	// Debug-level event trail; delivery failures are logged by the dispatcher.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) { sdWatchdog(c, a.log) })
	sdNotify(a.log, daemon.SdNotifyReady)

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range config.RestartRequired(oldCfg, newCfg) {
		a.log.Warn("config change needs a restart to take effect", logx.String("section", s))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.adapter.SetReportChat(strings.TrimSpace(newCfg.Telegram.ReportChat))
	a.oracle.SetOperators(ownerIDs(newCfg))
	a.disp.Apply(mapDeliveryConfig(newCfg))
	a.cmds.SetFallbackDefault(fallbackDefault(newCfg))
	a.jobs.apply(newCfg)
	a.status.Apply(a.sup.Context(), mapStatusConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// registerProbes exposes engine and runtime state on the status endpoint.
func (a *App) registerProbes() {
	a.status.Register("engine", func(ctx context.Context) (any, error) {
		return a.engine.Overview(ctx)
	})
	a.status.Register("runtime", func(context.Context) (any, error) {
		out := map[string]any{
			"app":              a.sup.Snapshot(),
			"eventbus_dropped": eventbus.Dropped(a.bus),
		}
		if sup := a.adapter.Supervisor(); sup != nil {
			out["telegram"] = sup.Snapshot()
		}
		return out, nil
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Stop intake first so no command races the final snapshot.
	step := a.stepper(ctx)
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("jobs", 2*time.Second, a.jobs.stop)
	step("status", 2*time.Second, a.status.Stop)
	a.sup.Cancel()
	step("engine", 5*time.Second, a.engine.Stop)
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// stepper returns a helper that runs one shutdown step with an upper bound
// so one component can't stall the whole stop. It never extends ctx.
func (a *App) stepper(ctx context.Context) func(name string, limit time.Duration, fn func(context.Context) error) {
	return func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}
}
