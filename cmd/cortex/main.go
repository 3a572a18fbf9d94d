package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openclaw/cortex/internal/bus"
	"github.com/openclaw/cortex/internal/config"
	"github.com/openclaw/cortex/internal/health"
	"github.com/openclaw/cortex/internal/ingest"
	"github.com/openclaw/cortex/internal/logging"
	"github.com/openclaw/cortex/internal/metrics"
	"github.com/openclaw/cortex/internal/server"
	"github.com/openclaw/cortex/internal/shutdown"
	"github.com/openclaw/cortex/internal/store"
	"github.com/openclaw/cortex/internal/tailer"
)

var (
	configFile = flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg *config.Config
	if *configFile == "" {
		cfg = config.DefaultConfig()
	} else {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logger.Info().
		Str("version", version).
		Str("address", cfg.Server.Address).
		Msg("Starting cortex")

	collector := metrics.NewCollector()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	st, err := store.Open(store.Config{
		Path:       cfg.Store.Path,
		PoolSize:   cfg.Store.PoolSize,
		MaxEntries: cfg.Store.MaxEntries,
		Logger:     logger,
		Metrics:    collector,
	})
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}

	eventBus := bus.New(collector)
	pipeline := ingest.New(st, eventBus, logger)

	tl, err := tailer.New(tailer.Config{
		LogDir:       cfg.Logs.Dir,
		JSONDir:      cfg.Logs.JSONDir,
		PollInterval: cfg.Logs.PollInterval.Std(),
		Sink:         pipeline.Sink,
		Logger:       logger,
		Metrics:      collector,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to create tailer: %w", err)
	}
	if err := tl.Start(); err != nil {
		st.Close()
		return fmt.Errorf("failed to start tailer: %w", err)
	}

	checker := health.NewChecker(5 * time.Second)
	checker.Register("store", st.Ping)
	checker.Register("tailer", func(context.Context) error {
		if !tl.Running() {
			return fmt.Errorf("tailer is not running")
		}
		return nil
	})

	srvCfg := server.Config{
		Address:           cfg.Server.Address,
		Store:             st,
		Bus:               eventBus,
		MaxConnections:    cfg.Server.MaxSSEConnections,
		HeartbeatInterval: cfg.Server.HeartbeatInterval.Std(),
		QueryRateLimit:    cfg.Server.QueryRateLimit,
		MaxPageLimit:      cfg.Server.MaxPageLimit,
		HealthChecker:     checker,
		Logger:            logger,
		Metrics:           collector,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsRegistry = collector.Registry()
	}
	srv := server.New(srvCfg)

	if err := srv.Start(); err != nil {
		tl.Stop()
		st.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}

	mgr := shutdown.New(shutdown.Config{
		Timeout: 30 * time.Second,
		Logger:  logger,
	})
	mgr.Register("store", func(context.Context) error {
		return st.Close()
	})
	mgr.Register("tailer", func(context.Context) error {
		tl.Stop()
		return nil
	})
	mgr.Register("http-server", srv.Stop)

	mgr.WaitForSignal()

	logger.Info().Msg("Cortex stopped")
	return nil
}
