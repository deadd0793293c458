// Package engine owns live sessions, their deadlines, the ledger and the
// authorization registry, and drives notifications and persistence.
//
// Every mutation runs on one worker goroutine; public methods submit jobs
// and wait for them. Deadline callbacks only enqueue jobs.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"focusbot/internal/authz"
	"focusbot/internal/eventbus"
	"focusbot/internal/ledger"
	"focusbot/internal/runtime/supervisor"
	"focusbot/internal/storage"
	logx "focusbot/pkg/logx"
)

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

type Engine struct {
	cfg      Config
	store    storage.Store
	notifier Notifier
	oracle   PermissionOracle
	registry *authz.Registry
	renderer Renderer
	clock    Clock
	log      logx.Logger
	bus      eventbus.Bus

	state atomic.Int32
	jobs  chan *job
	quit  chan struct{}

	lifeMu sync.Mutex
	sup    *supervisor.Supervisor
	ctx    context.Context // deadline-driven work; set before stateRunning

	// Worker-owned state.
	table  *table
	ledger *ledger.Ledger
	dirty  bool
	verSeq uint64
}

func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		notifier: deps.Notifier,
		oracle:   deps.Oracle,
		registry: deps.Registry,
		renderer: deps.Renderer,
		clock:    deps.Clock,
		log:      log.With(logx.String("comp", "engine")),
		bus:      deps.Bus,
		jobs:     make(chan *job),
		quit:     make(chan struct{}),
		table:    newTable(),
		ledger:   ledger.New(cfg.HistoryCap),
	}
	if e.registry == nil {
		e.registry = authz.NewRegistry()
	}
	if e.renderer == nil {
		e.renderer = TextRenderer{}
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.oracle == nil {
		e.oracle = authz.NewOracle(e.registry, nil, nil)
	}
	return e
}

// Start loads the persisted state, reconciles every session against the
// clock and begins serving operations. The engine outlives ctx; call Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.state.Load() != stateNew {
		e.lifeMu.Unlock()
		return errors.New("engine already started")
	}
	e.sup = supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(e.log))
	e.ctx = e.sup.Context()
	e.sup.Go0("engine.worker", e.loop)
	e.state.Store(stateRunning)
	e.lifeMu.Unlock()

	snap := storage.NewSnapshot()
	if e.store != nil {
		lctx, cancel := context.WithTimeout(ctx, e.cfg.SaveTimeout)
		loaded, err := e.store.Load(lctx)
		cancel()
		if err != nil {
			e.log.Error("snapshot load failed, starting empty", logx.Err(err))
		} else {
			snap = loaded
		}
	}
	return e.restore(ctx, snap)
}

// Stop disarms every deadline, writes a final snapshot and stops the worker.
// Sessions stay persisted and are reconciled by the next Start.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.state.Load() != stateRunning {
		return nil
	}
	_, err := e.exec(ctx, func(tx *txn) error {
		for _, l := range e.table.all() {
			e.disarm(l)
		}
		e.persist()
		return nil
	})
	e.state.Store(stateStopped)
	close(e.quit)
	if serr := e.sup.Stop(ctx); err == nil {
		err = serr
	}
	return err
}

// Flush writes a snapshot if anything changed since the last write.
func (e *Engine) Flush(ctx context.Context) error {
	var perr error
	err := e.do(ctx, func(tx *txn) error {
		if e.dirty {
			perr = e.persist()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return perr
}

// Overview summarizes the live state.
func (e *Engine) Overview(ctx context.Context) (Overview, error) {
	var ov Overview
	err := e.do(ctx, func(tx *txn) error {
		ov.Timers, ov.Pomodoros = e.table.counts()
		ov.Entries = e.ledger.Len()
		ov.Users = len(e.ledger.Totals())
		ov.Dirty = e.dirty
		return nil
	})
	return ov, err
}

// runCtx is the context for work triggered by deadlines. It is canceled by
// Stop.
func (e *Engine) runCtx() context.Context {
	if e.state.Load() == stateNew || e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// persist writes the current state. Worker only.
func (e *Engine) persist() error {
	if e.store == nil {
		e.dirty = false
		return nil
	}
	snap := e.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SaveTimeout)
	defer cancel()
	if err := e.store.Save(ctx, snap); err != nil {
		e.dirty = true
		e.log.Error("snapshot save failed", logx.Err(err))
		return err
	}
	e.dirty = false
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: EventPersisted, Data: len(snap.Timers) + len(snap.Pomodoros)})
	}
	return nil
}

func (e *Engine) snapshot() *storage.Snapshot {
	snap := storage.NewSnapshot()
	for _, l := range e.table.all() {
		snap.AddSession(l.s)
	}
	snap.SetHistory(e.ledger.Entries(), e.ledger.Totals())
	snap.AllowedResetters = e.registry.Snapshot()
	snap.SavedAt = e.clock.Now().UnixMilli()
	return snap
}

func (e *Engine) appendAudit(a storage.AuditEntry) {
	if e.store == nil {
		return
	}
	if a.At.IsZero() {
		a.At = e.clock.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SaveTimeout)
	defer cancel()
	if err := e.store.AppendAudit(ctx, a); err != nil {
		e.log.Warn("audit append failed", logx.String("action", a.Action), logx.Err(err))
	}
}
