package eventbus

import "testing"

func TestSubscribePrefixFilter(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(8)
	defer unsubAll()
	sessions, unsubSessions := b.Subscribe(8, "session.")
	defer unsubSessions()

	b.Publish(Event{Type: "session.created"})
	b.Publish(Event{Type: "delivery.failed"})

	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
	if len(sessions) != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", len(sessions))
	}
	if ev := <-sessions; ev.Type != "session.created" || ev.Time.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
}
