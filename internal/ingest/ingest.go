// Package ingest connects the tailer to the rest of the system: every
// batch of tailed entries is written durably to the log store and each
// entry is broadcast to live subscribers. Any future push-based collector
// can feed the same pipeline with the same batch shape.
package ingest

import (
	"context"
	"time"

	"github.com/openclaw/cortex/internal/bus"
	"github.com/openclaw/cortex/internal/logging"
	"github.com/openclaw/cortex/internal/store"
	"github.com/openclaw/cortex/pkg/types"
)

const insertTimeout = 5 * time.Second

// liveEntry is the payload of a log_entry event.
type liveEntry struct {
	types.ParsedLogEntry
	Source types.LogSource `json:"source"`
}

// Pipeline is the single ingestion sink for tailed content.
type Pipeline struct {
	store  *store.Store
	bus    *bus.Bus
	logger *logging.Logger
}

// New creates an ingestion pipeline.
func New(st *store.Store, b *bus.Bus, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{
		store:  st,
		bus:    b,
		logger: logger.WithComponent("ingest"),
	}
}

// Sink persists a tailed batch and broadcasts its entries. A failed write
// is logged but does not suppress the live broadcast; the durable and
// ephemeral paths are independent.
func (p *Pipeline) Sink(batch []types.TailedEntry) {
	entries := make([]types.LogEntry, 0, len(batch))
	for _, item := range batch {
		entries = append(entries, types.LogEntry{
			TS:        item.Entry.TS,
			Timestamp: item.Entry.Time,
			Level:     item.Entry.Level,
			Source:    item.Source,
			Subsystem: item.Entry.Subsystem,
			Message:   item.Entry.Message,
			Raw:       item.Raw,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := p.store.InsertBatch(ctx, entries); err != nil {
		p.logger.Error().Err(err).Int("entries", len(entries)).Msg("Failed to persist batch")
	}

	for _, item := range batch {
		p.bus.Broadcast(types.Event{
			Type:      "log_entry",
			Data:      liveEntry{ParsedLogEntry: item.Entry, Source: item.Source},
			Timestamp: item.Entry.TS,
		})
	}
}
