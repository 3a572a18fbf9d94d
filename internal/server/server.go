// Package server exposes the HTTP surface: the log query endpoint, the
// SSE streaming endpoint, liveness/health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/openclaw/cortex/internal/bus"
	"github.com/openclaw/cortex/internal/health"
	"github.com/openclaw/cortex/internal/logging"
	"github.com/openclaw/cortex/internal/metrics"
	"github.com/openclaw/cortex/internal/store"
	"github.com/openclaw/cortex/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Address           string
	Store             *store.Store
	Bus               *bus.Bus
	MaxConnections    int
	HeartbeatInterval time.Duration
	QueryRateLimit    int // requests/sec on the query endpoint, 0 disables
	MaxPageLimit      int
	HealthChecker     *health.Checker
	MetricsRegistry   *prometheus.Registry
	Logger            *logging.Logger
	Metrics           *metrics.Collector
}

// Server serves the REST and streaming endpoints.
type Server struct {
	httpServer   *http.Server
	handler      http.Handler
	store        *store.Store
	gateway      *Gateway
	limiter      *rate.Limiter
	maxPageLimit int
	logger       *logging.Logger
}

// New creates a new server. Start must be called to begin listening.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		store:        cfg.Store,
		maxPageLimit: cfg.MaxPageLimit,
		logger:       logger.WithComponent("server"),
	}
	if s.maxPageLimit <= 0 {
		s.maxPageLimit = 1000
	}
	if cfg.QueryRateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.QueryRateLimit), cfg.QueryRateLimit*2)
	}

	s.gateway = NewGateway(GatewayConfig{
		Bus:               cfg.Bus,
		MaxConnections:    cfg.MaxConnections,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
		Metrics:           cfg.Metrics,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ping", s.handlePing)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/events", s.gateway.Handler)
	if cfg.HealthChecker != nil {
		mux.HandleFunc("/api/health", cfg.HealthChecker.Handler())
	}
	if cfg.MetricsRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			cfg.MetricsRegistry,
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}
	s.handler = mux

	s.httpServer = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
		// No WriteTimeout: streaming connections are long-lived.
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the route table. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Gateway returns the streaming gateway.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Start starts the server and reports immediate startup errors.
func (s *Server) Start() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("address", s.httpServer.Addr).Msg("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"timestamp": time.Now().UnixMilli(),
	})
}

// handleLogs serves the read-only log query endpoint.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
		return
	}

	params := r.URL.Query()
	query := types.LogQuery{
		Level:  params.Get("level"),
		Source: params.Get("source"),
		Text:   params.Get("q"),
		Page:   positiveInt(params.Get("page"), 1),
		Limit:  positiveInt(params.Get("limit"), store.DefaultLimit),
	}
	if query.Limit > s.maxPageLimit {
		query.Limit = s.maxPageLimit
	}

	resp, err := s.store.Query(r.Context(), query)
	if err != nil {
		s.logger.Error().Err(err).Msg("Log query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// positiveInt parses s as a positive integer, falling back to def.
func positiveInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
