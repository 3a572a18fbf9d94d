package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/openclaw/cortex/internal/bus"
	"github.com/openclaw/cortex/internal/logging"
	"github.com/openclaw/cortex/internal/metrics"
	"github.com/openclaw/cortex/pkg/types"
)

// eventBuffer is the per-connection queue between the synchronous bus
// callback and the connection's writer goroutine. A consumer that cannot
// drain it loses the overflow rather than stalling the broadcaster.
const eventBuffer = 64

// GatewayConfig holds streaming gateway configuration.
type GatewayConfig struct {
	Bus               *bus.Bus
	MaxConnections    int
	HeartbeatInterval time.Duration
	Logger            *logging.Logger
	Metrics           *metrics.Collector
}

// Gateway serves one long-lived SSE response per client, each backed by an
// event bus subscription, under a global connection ceiling. The gateway
// instance owns the live-connection counter.
type Gateway struct {
	bus       *bus.Bus
	max       int64
	heartbeat time.Duration
	active    atomic.Int64
	logger    *logging.Logger
	metrics   *metrics.Collector
}

// NewGateway creates a streaming gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	max := int64(cfg.MaxConnections)
	if max <= 0 {
		max = 20
	}
	return &Gateway{
		bus:       cfg.Bus,
		max:       max,
		heartbeat: heartbeat,
		logger:    logger.WithComponent("sse"),
		metrics:   cfg.Metrics,
	}
}

// Active returns the number of open streaming connections.
func (g *Gateway) Active() int64 {
	return g.active.Load()
}

// tryAcquire claims a connection slot. The compare-and-swap loop keeps the
// accept/reject decision atomic with the counter update, so concurrent
// attempts can never both be admitted past the ceiling.
func (g *Gateway) tryAcquire() bool {
	for {
		n := g.active.Load()
		if n >= g.max {
			return false
		}
		if g.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (g *Gateway) release() {
	g.active.Add(-1)
}

// Handler serves the SSE endpoint. The stream carries one initial
// "connected" event, every subsequent bus broadcast, and periodic
// heartbeats, until the client disconnects.
func (g *Gateway) Handler(w http.ResponseWriter, r *http.Request) {
	if !g.tryAcquire() {
		if g.metrics != nil {
			g.metrics.SSERejected.Inc()
		}
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":          "too many connections",
			"maxConnections": g.max,
		})
		return
	}
	defer g.release()

	if g.metrics != nil {
		g.metrics.SSEActive.Inc()
		defer g.metrics.SSEActive.Dec()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan types.Event, eventBuffer)
	unsubscribe := g.bus.Subscribe(func(ev types.Event) {
		select {
		case events <- ev:
		default:
			// Slow consumer: drop rather than block the broadcaster.
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	if err := g.writeEvent(w, flusher, types.Event{Type: "connected", Timestamp: time.Now().UnixMilli()}); err != nil {
		return
	}

	g.logger.Debug().Int64("active", g.active.Load()).Msg("Stream opened")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			g.logger.Debug().Msg("Stream closed by client")
			return
		case ev := <-events:
			if ev.Timestamp == 0 {
				ev.Timestamp = time.Now().UnixMilli()
			}
			if err := g.writeEvent(w, flusher, ev); err != nil {
				return
			}
		case <-ticker.C:
			ev := types.Event{Type: "heartbeat", Timestamp: time.Now().UnixMilli()}
			if err := g.writeEvent(w, flusher, ev); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	if g.metrics != nil {
		g.metrics.SSEEventsDelivered.Inc()
	}
	return nil
}
