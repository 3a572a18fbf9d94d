package tailer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/cortex/internal/logging"
	"github.com/openclaw/cortex/pkg/types"
)

func newTestTailer(t *testing.T, logDir, jsonDir string) (*Tailer, chan []types.TailedEntry) {
	t.Helper()

	batches := make(chan []types.TailedEntry, 16)
	tl, err := New(Config{
		LogDir:       logDir,
		JSONDir:      jsonDir,
		PollInterval: 50 * time.Millisecond,
		Sink:         func(b []types.TailedEntry) { batches <- b },
		Logger:       logging.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return tl, batches
}

func waitBatch(t *testing.T, batches chan []types.TailedEntry) []types.TailedEntry {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func TestTailerSingleBatchInOrder(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "gateway.err.log")

	tl, batches := newTestTailer(t, dir, filepath.Join(dir, "no-json"))
	if err := tl.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tl.Stop()

	var content string
	for i := 0; i < 5; i++ {
		content += fmt.Sprintf("2026-02-08T14:29:%02dZ message %d\n", i, i)
	}
	if err := os.WriteFile(logFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write log file: %v", err)
	}

	batch := waitBatch(t, batches)
	if len(batch) != 5 {
		t.Fatalf("batch size = %d, want 5", len(batch))
	}
	for i, item := range batch {
		want := fmt.Sprintf("message %d", i)
		if item.Entry.Message != want {
			t.Errorf("batch[%d].Message = %q, want %q", i, item.Entry.Message, want)
		}
		if item.Source != types.SourceGatewayErr {
			t.Errorf("batch[%d].Source = %q, want gateway-err", i, item.Source)
		}
	}
}

func TestTailerSkipsHistoricalContent(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "gateway.err.log")

	// Content present before Start must not be replayed.
	if err := os.WriteFile(logFile, []byte("2026-02-08T10:00:00Z old line\n"), 0o644); err != nil {
		t.Fatalf("failed to write log file: %v", err)
	}

	tl, batches := newTestTailer(t, dir, filepath.Join(dir, "no-json"))
	if err := tl.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tl.Stop()

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	if _, err := f.WriteString("2026-02-08T10:00:01Z new line\n"); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	f.Close()

	batch := waitBatch(t, batches)
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if batch[0].Entry.Message != "new line" {
		t.Errorf("message = %q, want %q", batch[0].Entry.Message, "new line")
	}
}

func TestTailerTruncationRereadsFromStart(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "gateway.err.log")

	tl, batches := newTestTailer(t, dir, filepath.Join(dir, "no-json"))
	if err := tl.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tl.Stop()

	long := "2026-02-08T10:00:00Z first generation line one\n" +
		"2026-02-08T10:00:01Z first generation line two\n"
	if err := os.WriteFile(logFile, []byte(long), 0o644); err != nil {
		t.Fatalf("failed to write log file: %v", err)
	}
	batch := waitBatch(t, batches)
	if len(batch) != 2 {
		t.Fatalf("first batch size = %d, want 2", len(batch))
	}

	// Replace with shorter content, as a rotation would.
	short := "2026-02-08T11:00:00Z rotated\n"
	if err := os.WriteFile(logFile, []byte(short), 0o644); err != nil {
		t.Fatalf("failed to rewrite log file: %v", err)
	}

	batch = waitBatch(t, batches)
	if len(batch) != 1 {
		t.Fatalf("post-rotation batch size = %d, want 1", len(batch))
	}
	if batch[0].Entry.Message != "rotated" {
		t.Errorf("message = %q, want %q (no stale or duplicated lines)", batch[0].Entry.Message, "rotated")
	}
}

func TestTailerDiscoversDatedJSONLog(t *testing.T) {
	logDir := t.TempDir()
	jsonDir := t.TempDir()

	tl, batches := newTestTailer(t, logDir, jsonDir)
	if err := tl.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tl.Stop()

	today := time.Now().Format("2006-01-02")
	jsonFile := filepath.Join(jsonDir, "openclaw-"+today+".log")
	line := `{"type":"log","time":"2026-02-08T14:29:47.758Z","level":"info","subsystem":"agent","message":"born today"}` + "\n"
	if err := os.WriteFile(jsonFile, []byte(line), 0o644); err != nil {
		t.Fatalf("failed to write json log: %v", err)
	}

	batch := waitBatch(t, batches)
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if batch[0].Source != types.SourceJSONLog {
		t.Errorf("source = %q, want json-log", batch[0].Source)
	}
	if batch[0].Entry.Message != "born today" {
		t.Errorf("message = %q", batch[0].Entry.Message)
	}
}

func TestTailerMissingJSONDirIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	tl, _ := newTestTailer(t, dir, filepath.Join(dir, "does", "not", "exist"))
	if err := tl.Start(); err != nil {
		t.Fatalf("Start() with missing JSON dir should succeed, got %v", err)
	}
	tl.Stop()
}

func TestTailerStopIdempotent(t *testing.T) {
	dir := t.TempDir()

	// Stop without Start.
	tl, _ := newTestTailer(t, dir, dir)
	tl.Stop()
	tl.Stop()

	// Stop twice after Start.
	tl2, _ := newTestTailer(t, dir, dir)
	if err := tl2.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	tl2.Stop()
	tl2.Stop()

	if tl2.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestTailerRejectedLinesAreDropped(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "gateway.err.log")

	tl, batches := newTestTailer(t, dir, filepath.Join(dir, "no-json"))
	if err := tl.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tl.Stop()

	content := "garbage without timestamp\n" +
		"2026-02-08T10:00:00Z kept\n" +
		"\n"
	if err := os.WriteFile(logFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write log file: %v", err)
	}

	batch := waitBatch(t, batches)
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1 (malformed lines silently skipped)", len(batch))
	}
	if batch[0].Entry.Message != "kept" {
		t.Errorf("message = %q, want %q", batch[0].Entry.Message, "kept")
	}
}
