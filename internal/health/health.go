package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check probes one component. A nil error means healthy.
type Check func(ctx context.Context) error

// ComponentHealth is the reported state of a single component.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Checker runs registered component checks on demand.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
}

// NewChecker creates a health checker.
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]Check),
		timeout: timeout,
	}
}

// Register adds a named component check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all checks and returns per-component results plus the
// overall status.
func (c *Checker) Run(ctx context.Context) (Status, map[string]ComponentHealth) {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	overall := StatusHealthy
	results := make(map[string]ComponentHealth, len(checks))
	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check(checkCtx)
		cancel()

		if err != nil {
			overall = StatusUnhealthy
			results[name] = ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		} else {
			results[name] = ComponentHealth{Status: StatusHealthy}
		}
	}
	return overall, results
}

// Handler returns an HTTP handler reporting overall and per-component
// health. Unhealthy responses use 503.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall, components := c.Run(r.Context())

		code := http.StatusOK
		if overall != StatusHealthy {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":     overall,
			"components": components,
			"timestamp":  time.Now().UnixMilli(),
		})
	}
}
