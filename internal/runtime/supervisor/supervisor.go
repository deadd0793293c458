package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "focusbot/pkg/logx"
)

// Supervisor runs named goroutines under one context. Panics become errors,
// the first error is kept for Err, and with WithCancelOnError it also
// cancels every sibling.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool
	wg          sync.WaitGroup
	waitOnce    sync.Once
	done        chan struct{}

	mu       sync.Mutex
	firstErr error
	stats    map[string]*Stats
}

type Option func(*Supervisor)

// Stats describes one named goroutine on the status endpoint.
type Stats struct {
	Name      string    `json:"name"`
	Active    int       `json:"active"`
	Restarts  int       `json:"restarts"`
	Panics    int       `json:"panics"`
	LastErr   string    `json:"last_err,omitempty"`
	LastErrAt time.Time `json:"last_err_at"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first non-nil error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  map[string]*Stats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Snapshot returns per-name stats sorted by name.
func (s *Supervisor) Snapshot() []Stats {
	s.mu.Lock()
	out := make([]Stats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) update(name string, fn func(st *Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	if st == nil {
		st = &Stats{Name: name}
		s.stats[name] = st
	}
	fn(st)
}

// fail records err against name and, for the first one, as the supervisor
// error.
func (s *Supervisor) fail(name string, err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	s.update(name, func(st *Stats) {
		st.LastErr = err.Error()
		st.LastErrAt = time.Now()
	})
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once. Cancellation is not a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(name, func() {
		if err := s.call(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(name, fmt.Errorf("%s: %w", name, err))
		}
	})
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) spawn(name string, body func()) {
	s.wg.Add(1)
	s.update(name, func(st *Stats) { st.Active++ })
	go func() {
		defer s.wg.Done()
		defer s.update(name, func(st *Stats) { st.Active-- })
		body()
	}()
}

// call runs fn, turning a panic into an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.update(name, func(st *Stats) { st.Panics++ })
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// RestartOption configures GoRestart.
type RestartOption func(*backoff)

// WithRestartBackoff sets the delay window between restarts.
func WithRestartBackoff(lo, hi time.Duration) RestartOption {
	return func(b *backoff) {
		if lo > 0 {
			b.lo = lo
		}
		if hi > 0 {
			b.hi = hi
		}
	}
}

// healthyRun is how long a run must last for the backoff to reset.
const healthyRun = 30 * time.Second

// backoff doubles from lo up to hi and resets after a healthy run.
type backoff struct {
	lo, hi time.Duration
	cur    time.Duration
}

func (b *backoff) next(ran time.Duration) time.Duration {
	if b.cur == 0 || ran >= healthyRun {
		b.cur = b.lo
	} else {
		b.cur = min(b.cur*2, b.hi)
	}
	d := b.cur
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(time.Now().UnixNano() % (j + 1))
	}
	return d
}

// GoRestart runs fn and restarts it after an error or panic until the
// context ends. A nil return stops it for good.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	b := &backoff{lo: 250 * time.Millisecond, hi: 30 * time.Second}
	for _, o := range opts {
		o(b)
	}
	b.hi = max(b.hi, b.lo)

	s.spawn(name, func() {
		for {
			started := time.Now()
			err := s.call(name, fn)
			if err == nil || s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			wait := b.next(time.Since(started))
			s.update(name, func(st *Stats) {
				st.Restarts++
				st.LastErr = err.Error()
				st.LastErrAt = time.Now()
			})
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	})
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
