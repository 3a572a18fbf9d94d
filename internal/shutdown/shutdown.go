package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/openclaw/cortex/internal/logging"
)

// Func is a cleanup step executed during shutdown.
type Func func(context.Context) error

// Manager handles graceful shutdown of the application. Registered
// functions run in reverse registration order within a bounded timeout.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedFunc

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	doneCh       chan struct{}
}

type namedFunc struct {
	name string
	fn   Func
}

// Config holds shutdown manager configuration.
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a shutdown manager.
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		logger:     logger.WithComponent("shutdown"),
		timeout:    cfg.Timeout,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Register adds a named cleanup step. Steps run in reverse registration
// order so dependencies shut down after their dependents.
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM arrives, then shuts down.
func (m *Manager) WaitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		m.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		m.Shutdown()
	case <-m.shutdownCh:
	}
}

// Shutdown runs all registered cleanup steps. Idempotent.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		m.run()
		close(m.doneCh)
	})
}

// Done is closed once shutdown has completed.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

func (m *Manager) run() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	funcs := make([]namedFunc, len(m.funcs))
	copy(funcs, m.funcs)
	m.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		step := funcs[i]
		if ctx.Err() != nil {
			m.logger.Warn().Str("component", step.name).Msg("Shutdown timed out before this step")
			continue
		}
		if err := step.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("component", step.name).Msg("Shutdown step failed")
		} else {
			m.logger.Debug().Str("component", step.name).Msg("Shutdown step completed")
		}
	}
	m.logger.Info().Msg("Graceful shutdown completed")
}
