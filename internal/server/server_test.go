package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/cortex/internal/bus"
	"github.com/openclaw/cortex/internal/logging"
	"github.com/openclaw/cortex/internal/store"
	"github.com/openclaw/cortex/pkg/types"
)

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *store.Store, *bus.Bus) {
	t.Helper()

	st, err := store.Open(store.Config{
		Path:       filepath.Join(t.TempDir(), "test.db"),
		PoolSize:   1,
		MaxEntries: 1000,
		Logger:     logging.Nop(),
	})
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := bus.New(nil)
	cfg := Config{
		Store:             st,
		Bus:               b,
		MaxConnections:    4,
		HeartbeatInterval: time.Minute,
		MaxPageLimit:      1000,
		Logger:            logging.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), st, b
}

func seedEntries(t *testing.T, st *store.Store) {
	t.Helper()
	batch := []types.LogEntry{
		{TS: 1000, Timestamp: "2026-02-08T14:00:00Z", Level: types.LevelInfo, Source: types.SourceGatewayLog, Message: "task started"},
		{TS: 2000, Timestamp: "2026-02-08T14:00:01Z", Level: types.LevelError, Source: types.SourceGatewayErr, Message: "request failed"},
	}
	if err := st.InsertBatch(context.Background(), batch); err != nil {
		t.Fatalf("InsertBatch() error: %v", err)
	}
}

func TestHandlePing(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/ping")
	if err != nil {
		t.Fatalf("GET /api/ping error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
}

func TestHandleLogsLevelFilter(t *testing.T) {
	s, st, _ := newTestServer(t, nil)
	seedEntries(t, st)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?level=error")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	var page types.PaginatedResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1", page.Total)
	}
	if page.Data[0].Level != types.LevelError {
		t.Errorf("level = %q, want error", page.Data[0].Level)
	}
}

func TestHandleLogsTextSearch(t *testing.T) {
	s, st, _ := newTestServer(t, nil)
	seedEntries(t, st)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?q=failed")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	var page types.PaginatedResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("total = %d, want 1", page.Total)
	}
}

func TestHandleLogsPaginationDefaults(t *testing.T) {
	s, st, _ := newTestServer(t, func(cfg *Config) { cfg.MaxPageLimit = 10 })
	seedEntries(t, st)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// Junk pagination falls back to defaults; oversized limits are capped.
	resp, err := http.Get(ts.URL + "/api/logs?page=-3&limit=junk")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	var page types.PaginatedResponse
	json.NewDecoder(resp.Body).Decode(&page)
	resp.Body.Close()
	if page.Page != 1 {
		t.Errorf("page = %d, want 1", page.Page)
	}

	resp, err = http.Get(ts.URL + "/api/logs?limit=500")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&page)
	resp.Body.Close()
	if page.Limit != 10 {
		t.Errorf("limit = %d, want capped to 10", page.Limit)
	}
}

func TestHandleLogsMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/logs", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHandleLogsRateLimit(t *testing.T) {
	s, _, _ := newTestServer(t, func(cfg *Config) { cfg.QueryRateLimit = 1 })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/logs")
		if err != nil {
			t.Fatalf("GET error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("expected at least one rate-limited response")
	}
}
