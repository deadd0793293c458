package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"focusbot/internal/eventbus"
	logx "focusbot/pkg/logx"
)

var errNoMessenger = errors.New("no messenger configured")

// Dispatcher implements the tiered delivery protocol:
//
//  1. the session's scope (edit the existing message, else post a new one)
//  2. a direct message to every recipient, when the request allows it
//  3. a single report to operators when nobody saw the content
//
// Failures never propagate to the caller; they are logged and published.
// It is safe for concurrent use.
type Dispatcher struct {
	mu sync.Mutex

	log    logx.Logger
	m      Messenger
	oracle ScopeOracle
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, m Messenger, oracle ScopeOracle, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		log:    log.With(logx.String("comp", "delivery")),
		m:      m,
		oracle: oracle,
		bus:    bus,
	}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	d.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (d *Dispatcher) snapshot() (Config, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.limiter
}

// Deliver runs the protocol for one request.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) Result {
	var res Result

	if req.ScopeID != "" && d.canWrite(ctx, req.ScopeID) {
		handle, err := d.postScope(ctx, req.ScopeID, req.Handle, req.Content)
		if err == nil {
			res.Scope = true
			res.Handle = handle
			d.publish(EventScope, Event{Subject: req.Subject, ScopeID: req.ScopeID, Handle: handle})
		} else {
			d.log.Debug("scope delivery failed", logx.String("scope", req.ScopeID), logx.String("subject", req.Subject), logx.Err(err))
		}
	}

	if !res.Scope && req.AllowFallback {
		sent := 0
		for _, uid := range req.Recipients {
			if err := d.call(ctx, func(c context.Context) error { return d.m.SendDirect(c, uid, req.Content) }); err != nil {
				d.log.Debug("direct delivery failed", logx.String("user", uid), logx.String("subject", req.Subject), logx.Err(err))
				continue
			}
			sent++
		}
		if sent > 0 {
			res.Direct = true
			d.publish(EventDirect, Event{Subject: req.Subject, ScopeID: req.ScopeID, Sent: sent})
		}
	}

	if !res.Delivered() {
		d.publish(EventFailed, Event{Subject: req.Subject, ScopeID: req.ScopeID, Error: "no tier delivered"})
		d.log.Warn("notification undelivered",
			logx.String("scope", req.ScopeID),
			logx.String("subject", req.Subject),
			logx.Bool("fallback", req.AllowFallback),
			logx.Int("recipients", len(req.Recipients)),
		)
		d.Report(ctx, failureReport(req))
	}
	return res
}

// postScope edits the existing message when possible and posts a new one
// otherwise. It returns the handle showing the content.
func (d *Dispatcher) postScope(ctx context.Context, scopeID, handle, text string) (string, error) {
	if handle != "" {
		err := d.call(ctx, func(c context.Context) error { return d.m.Edit(c, handle, text) })
		if err == nil {
			return handle, nil
		}
		d.log.Debug("edit failed, posting new message", logx.String("handle", handle), logx.Err(err))
	}
	var out string
	err := d.call(ctx, func(c context.Context) error {
		h, err := d.m.Send(c, scopeID, text)
		out = h
		return err
	})
	return out, err
}

// Report sends text to the report scope when writable, else to the operator
// by direct message. Errors are swallowed; the result says whether it landed.
func (d *Dispatcher) Report(ctx context.Context, text string) bool {
	cfg, _ := d.snapshot()
	if cfg.ReportScope != "" && d.canWrite(ctx, cfg.ReportScope) {
		err := d.call(ctx, func(c context.Context) error {
			_, err := d.m.Send(c, cfg.ReportScope, text)
			return err
		})
		if err == nil {
			d.publish(EventReport, Event{ScopeID: cfg.ReportScope})
			return true
		}
		d.log.Debug("report to scope failed", logx.String("scope", cfg.ReportScope), logx.Err(err))
	}
	if cfg.OperatorID != "" {
		err := d.call(ctx, func(c context.Context) error { return d.m.SendDirect(c, cfg.OperatorID, text) })
		if err == nil {
			d.publish(EventReport, Event{Sent: 1})
			return true
		}
		d.log.Debug("report to operator failed", logx.String("operator", cfg.OperatorID), logx.Err(err))
	}
	d.publish(EventReport, Event{Error: "report undelivered"})
	return false
}

func (d *Dispatcher) canWrite(ctx context.Context, scopeID string) bool {
	if d.oracle == nil {
		return false
	}
	cfg, _ := d.snapshot()
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	return d.oracle.CanWriteScope(cctx, scopeID)
}

// call waits for a rate token and bounds fn by the call timeout.
func (d *Dispatcher) call(ctx context.Context, fn func(context.Context) error) error {
	if d.m == nil {
		return errNoMessenger
	}
	cfg, lim := d.snapshot()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	return fn(cctx)
}

func (d *Dispatcher) publish(typ string, ev Event) {
	if d.bus == nil {
		return
	}
	now := time.Now()
	ev.At = now
	d.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func failureReport(req Request) string {
	subject := req.Subject
	if subject == "" {
		subject = "notification"
	}
	fallback := "not allowed"
	if req.AllowFallback {
		fallback = "allowed"
	}
	return fmt.Sprintf("Delivery failed for %s (scope %s, DM fallback %s)\nrecipients: %s\n%s",
		subject, orDash(req.ScopeID), fallback, orDash(strings.Join(req.Recipients, ", ")), req.Content)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
