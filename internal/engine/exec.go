package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"focusbot/internal/delivery"
	"focusbot/internal/eventbus"
	"focusbot/internal/storage"
	logx "focusbot/pkg/logx"
)

// txn collects the side effects of one job. Deliveries run after the job,
// outside the worker, so slow transports never stall the schedule.
type txn struct {
	dirty  bool
	out    []outbound
	audits []storage.AuditEntry
	events []eventbus.Event
}

type outbound struct {
	sessionID string
	req       delivery.Request
	// track stores the resulting handle on the session if it is still live.
	track bool
}

type job struct {
	fn   func(tx *txn) error
	tx   txn
	err  error
	done chan struct{}
}

// loop is the single execution context: every read and mutation of the
// table, the ledger and the registry happens here.
func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			e.runJob(j)
			close(j.done)
		}
	}
}

func (e *Engine) runJob(j *job) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			j.err = fmt.Errorf("engine job panicked: %v", r)
		}
	}()
	j.err = j.fn(&j.tx)

	for _, a := range j.tx.audits {
		e.appendAudit(a)
	}
	if j.tx.dirty {
		e.dirty = true
		if e.cfg.Persist == PersistImmediate {
			e.persist()
		}
	}
	if e.bus != nil {
		for _, ev := range j.tx.events {
			e.bus.Publish(ev)
		}
	}
}

// do runs fn on the worker and waits for it. Deliveries queued by fn are
// performed on the calling goroutine afterwards. Never call do from inside
// a job.
func (e *Engine) do(ctx context.Context, fn func(tx *txn) error) error {
	tx, err := e.exec(ctx, fn)
	e.dispatch(tx)
	return err
}

// exec runs fn on the worker without performing its deliveries.
func (e *Engine) exec(ctx context.Context, fn func(tx *txn) error) (txn, error) {
	if e.state.Load() != stateRunning {
		return txn{}, ErrStopped
	}
	j := &job{fn: fn, done: make(chan struct{})}
	select {
	case e.jobs <- j:
	case <-e.quit:
		return txn{}, ErrStopped
	case <-ctx.Done():
		return txn{}, ctx.Err()
	}
	// jobs is unbuffered: once received, the job runs to completion.
	<-j.done
	return j.tx, j.err
}

func (e *Engine) dispatch(tx txn) {
	if len(tx.out) == 0 {
		return
	}
	ctx := e.runCtx()
	for _, o := range tx.out {
		res := e.notifier.Deliver(ctx, o.req)
		if !o.track || res.Handle == "" || res.Handle == o.req.Handle {
			continue
		}
		id, old, handle := o.sessionID, o.req.Handle, res.Handle
		if _, err := e.exec(ctx, func(tx *txn) error {
			l := e.table.get(id)
			if l == nil || l.s.Handle != old {
				return nil
			}
			l.s.Handle = handle
			tx.dirty = true
			return nil
		}); err != nil {
			e.log.Debug("handle update skipped", logx.String("id", id), logx.Err(err))
		}
	}
}

func (tx *txn) publish(typ string, data any) {
	tx.events = append(tx.events, eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (tx *txn) audit(a storage.AuditEntry) {
	tx.audits = append(tx.audits, a)
}
