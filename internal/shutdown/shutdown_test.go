package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openclaw/cortex/internal/logging"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	m := New(Config{Logger: logging.Nop()})

	var order []string
	m.Register("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.Register("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	m.Shutdown()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("order = %v, want [second first]", order)
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done() not closed after Shutdown")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	m := New(Config{Logger: logging.Nop()})

	var calls int
	m.Register("step", func(context.Context) error {
		calls++
		return nil
	})

	m.Shutdown()
	m.Shutdown()

	if calls != 1 {
		t.Errorf("step ran %d times, want 1", calls)
	}
}

func TestShutdownContinuesPastErrors(t *testing.T) {
	m := New(Config{Logger: logging.Nop()})

	var ran bool
	m.Register("survivor", func(context.Context) error {
		ran = true
		return nil
	})
	m.Register("broken", func(context.Context) error {
		return errors.New("boom")
	})

	m.Shutdown()

	if !ran {
		t.Error("later-registered failure should not skip earlier steps")
	}
}

func TestShutdownTimeout(t *testing.T) {
	m := New(Config{Timeout: 50 * time.Millisecond, Logger: logging.Nop()})

	var skipped bool
	m.Register("skipped", func(context.Context) error {
		skipped = true
		return nil
	})
	m.Register("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return ctx.Err()
	})

	start := time.Now()
	m.Shutdown()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("shutdown took %s, want bounded by timeout", elapsed)
	}
	if skipped {
		t.Error("step after timeout should be skipped")
	}
}
