package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanicAndCancels(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("boom", func(ctx context.Context) error { panic("kaput") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if s.Context().Err() == nil {
		t.Fatal("cancel-on-error should cancel the context")
	}
	stats := s.Snapshot()
	if len(stats) != 1 || stats[0].Panics != 1 || stats[0].Active != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartCountsRestarts(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		if runs.Add(1) <= 2 {
			return errors.New("nope")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("restart errors leaked into Err: %v", err)
	}
	stats := s.Snapshot()
	if len(stats) != 1 || stats[0].Restarts != 2 || stats[0].LastErr != "nope" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestBackoffDoublesAndResets(t *testing.T) {
	t.Parallel()
	b := &backoff{lo: 4 * time.Second, hi: 10 * time.Second}
	within := func(d, base time.Duration) bool { return d >= base && d <= base+base/5 }
	for i, want := range []time.Duration{4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second} {
		if got := b.next(time.Second); !within(got, want) {
			t.Fatalf("step %d: %s, want ~%s", i, got, want)
		}
	}
	if got := b.next(time.Minute); !within(got, 4*time.Second) {
		t.Fatalf("after a healthy run: %s, want ~4s", got)
	}
}

func TestStopCancelsLoops(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("loop", func(ctx context.Context) { <-ctx.Done() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
