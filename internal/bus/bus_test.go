package bus

import (
	"testing"

	"github.com/openclaw/cortex/pkg/types"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New(nil)

	var got1, got2 []string
	b.Subscribe(func(ev types.Event) { got1 = append(got1, ev.Type) })
	b.Subscribe(func(ev types.Event) { got2 = append(got2, ev.Type) })

	b.Broadcast(types.Event{Type: "log_entry"})
	b.Broadcast(types.Event{Type: "heartbeat"})

	if len(got1) != 2 || len(got2) != 2 {
		t.Fatalf("deliveries = %d, %d, want 2 each", len(got1), len(got2))
	}
}

func TestBroadcastWithNoSubscribers(t *testing.T) {
	b := New(nil)
	// Must be a no-op, not a panic or an error.
	b.Broadcast(types.Event{Type: "log_entry"})
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)

	var calls1, calls2 int
	unsub := b.Subscribe(func(types.Event) { calls1++ })
	b.Subscribe(func(types.Event) { calls2++ })

	b.Broadcast(types.Event{Type: "a"})
	unsub()
	b.Broadcast(types.Event{Type: "b"})

	if calls1 != 1 {
		t.Errorf("unsubscribed handler called %d times, want 1", calls1)
	}
	if calls2 != 2 {
		t.Errorf("remaining handler called %d times, want 2", calls2)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New(nil)

	var calls int
	unsub := b.Subscribe(func(types.Event) {})
	b.Subscribe(func(types.Event) { calls++ })

	unsub()
	unsub() // second call must be harmless

	b.Broadcast(types.Event{Type: "a"})
	if calls != 1 {
		t.Errorf("other subscriber called %d times, want 1", calls)
	}
	if b.Subscribers() != 1 {
		t.Errorf("subscribers = %d, want 1", b.Subscribers())
	}
}

func TestSubscribeDuringLifetime(t *testing.T) {
	b := New(nil)

	var calls int
	unsubA := b.Subscribe(func(types.Event) { calls++ })
	unsubA()

	// A later subscriber gets a fresh registration unrelated to the old one.
	b.Subscribe(func(types.Event) { calls += 10 })
	b.Broadcast(types.Event{Type: "a"})

	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}
}
