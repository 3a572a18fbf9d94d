package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const namespace = "cortex"

// Collector provides a central place for all application metrics.
type Collector struct {
	// Tailer metrics
	TailerLinesRead  *prometheus.CounterVec
	TailerBytesRead  *prometheus.CounterVec
	TailerReadErrors *prometheus.CounterVec
	TailerTruncated  *prometheus.CounterVec

	// Parser metrics
	ParserRejected *prometheus.CounterVec

	// Store metrics
	StoreInserted      prometheus.Counter
	StorePruned        prometheus.Counter
	StoreQueryDuration prometheus.Histogram

	// Bus and streaming metrics
	BusEvents          *prometheus.CounterVec
	SSEActive          prometheus.Gauge
	SSERejected        prometheus.Counter
	SSEEventsDelivered prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		TailerLinesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tailer_lines_read_total",
			Help:      "Total lines read from tailed files",
		}, []string{"source"}),
		TailerBytesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tailer_bytes_read_total",
			Help:      "Total bytes read from tailed files",
		}, []string{"source"}),
		TailerReadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tailer_read_errors_total",
			Help:      "Read passes aborted by I/O errors",
		}, []string{"source"}),
		TailerTruncated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tailer_truncations_total",
			Help:      "Rotation/truncation events detected",
		}, []string{"source"}),
		ParserRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parser_rejected_total",
			Help:      "Lines rejected by a parser",
		}, []string{"source"}),
		StoreInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_inserted_total",
			Help:      "Log entries inserted into the store",
		}),
		StorePruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_pruned_total",
			Help:      "Log entries deleted by retention pruning",
		}),
		StoreQueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Log query latency",
			Buckets:   prometheus.DefBuckets,
		}),
		BusEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_total",
			Help:      "Events broadcast on the event bus",
		}, []string{"type"}),
		SSEActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_active_connections",
			Help:      "Currently open streaming connections",
		}),
		SSERejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sse_rejected_total",
			Help:      "Streaming connections rejected at the ceiling",
		}),
		SSEEventsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sse_events_delivered_total",
			Help:      "Events written to streaming connections",
		}),
		registry: registry,
	}
}

// Registry returns the prometheus registry for HTTP exposure.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
