// Package tailer incrementally reads newly appended content from the
// runtime's log files and hands parsed batches to a sink.
//
// Change detection is polling-based: every tick the tailer stats each
// tracked file and compares the size against the recorded offset. A size
// below the offset means the file was rotated or truncated and reading
// restarts from byte zero. A size above the offset starts a read pass,
// unless one is already in flight for that file; concurrent growth
// signals are dropped, not queued, so a line is never delivered twice.
package tailer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openclaw/cortex/internal/logging"
	"github.com/openclaw/cortex/internal/metrics"
	"github.com/openclaw/cortex/internal/parser"
	"github.com/openclaw/cortex/pkg/types"
)

// Sink receives one call per completed read pass with every entry the pass
// parsed, in file order. It is the single ingestion boundary between tailed
// content and the store/bus.
type Sink func(batch []types.TailedEntry)

// maxLineBytes bounds a single log line. Longer lines abort the read pass.
const maxLineBytes = 1024 * 1024

type watchedFile struct {
	path    string
	source  types.LogSource
	parse   parser.Func
	offset  atomic.Int64
	reading atomic.Bool
}

// Config holds tailer configuration.
type Config struct {
	LogDir       string // gateway.log and gateway.err.log
	JSONDir      string // date-stamped structured logs; may not exist
	PollInterval time.Duration
	Sink         Sink
	Logger       *logging.Logger
	Metrics      *metrics.Collector
}

// Tailer watches a fixed set of log files plus a dynamically discovered
// date-stamped JSON log, and invokes the sink with batches of parsed
// entries. A Tailer instance exclusively owns all per-file tail state.
type Tailer struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	files map[string]*watchedFile

	watcher *fsnotify.Watcher

	started  bool
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Tailer. Start must be called before any file is read.
func New(cfg Config) (*Tailer, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("tailer: sink is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("tailer: poll interval must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tailer{
		cfg:     cfg,
		logger:  logger.WithComponent("tailer"),
		metrics: cfg.Metrics,
		files:   make(map[string]*watchedFile),
		done:    make(chan struct{}),
	}, nil
}

// Start seeds tail state and begins polling. Files that already exist are
// tailed from their current end so historical content is not replayed;
// files that do not exist yet are tailed from byte zero once they appear.
func (t *Tailer) Start() error {
	t.addFile(filepath.Join(t.cfg.LogDir, "gateway.log"), types.SourceGatewayLog, parser.ParseGatewayLog, true)
	t.addFile(filepath.Join(t.cfg.LogDir, "gateway.err.log"), types.SourceGatewayErr, parser.ParseGatewayErr, true)

	t.discoverJSONLog()
	t.watchJSONDir()

	t.started = true
	t.wg.Add(1)
	go t.pollLoop()

	return nil
}

// Stop halts polling, waits for in-flight read passes, and releases all
// per-file state. Idempotent, and safe to call when Start never ran.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		if t.watcher != nil {
			t.watcher.Close()
		}
	})
	t.wg.Wait()

	t.mu.Lock()
	t.files = make(map[string]*watchedFile)
	t.mu.Unlock()
}

// Running reports whether the tailer has been started and not stopped.
func (t *Tailer) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return t.started
	}
}

// addFile registers a file for tailing. When seedToEnd is set and the file
// exists, the offset starts at the current size; otherwise at zero.
func (t *Tailer) addFile(path string, source types.LogSource, parse parser.Func, seedToEnd bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.files[path]; ok {
		return
	}

	wf := &watchedFile{path: path, source: source, parse: parse}
	if seedToEnd {
		if fi, err := os.Stat(path); err == nil {
			wf.offset.Store(fi.Size())
		}
	}
	t.files[path] = wf

	t.logger.Info().
		Str("path", path).
		Str("source", string(source)).
		Int64("offset", wf.offset.Load()).
		Msg("Tracking file")
}

// discoverJSONLog scans the JSON log directory for today's file. A missing
// directory is not an error; tailing proceeds without it.
func (t *Tailer) discoverJSONLog() {
	entries, err := os.ReadDir(t.cfg.JSONDir)
	if err != nil {
		t.logger.Debug().Err(err).Str("dir", t.cfg.JSONDir).Msg("JSON log directory unavailable")
		return
	}
	today := time.Now().Format("2006-01-02")
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.Contains(e.Name(), today) && strings.HasSuffix(e.Name(), ".log") {
			t.addFile(filepath.Join(t.cfg.JSONDir, e.Name()), types.SourceJSONLog, parser.ParseJSONLog, true)
			return
		}
	}
}

// watchJSONDir follows directory create events so a JSON log that appears
// after startup (the usual case just past midnight) is picked up without
// rescanning. The file is tracked from byte zero since all of its content
// is new.
func (t *Tailer) watchJSONDir() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn().Err(err).Msg("File watcher unavailable, relying on startup scan only")
		return
	}
	if err := watcher.Add(t.cfg.JSONDir); err != nil {
		watcher.Close()
		t.logger.Debug().Err(err).Str("dir", t.cfg.JSONDir).Msg("Not watching JSON log directory")
		return
	}
	t.watcher = watcher

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create == 0 {
					continue
				}
				name := filepath.Base(event.Name)
				today := time.Now().Format("2006-01-02")
				if strings.Contains(name, today) && strings.HasSuffix(name, ".log") {
					t.addFile(event.Name, types.SourceJSONLog, parser.ParseJSONLog, false)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Tailer) pollLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.pollAll()
		case <-t.done:
			return
		}
	}
}

func (t *Tailer) pollAll() {
	t.mu.Lock()
	snapshot := make([]*watchedFile, 0, len(t.files))
	for _, wf := range t.files {
		snapshot = append(snapshot, wf)
	}
	t.mu.Unlock()

	for _, wf := range snapshot {
		t.poll(wf)
	}
}

// poll compares the file's current size against the recorded offset and
// starts a read pass when there is new content and no pass is in flight.
func (t *Tailer) poll(wf *watchedFile) {
	fi, err := os.Stat(wf.path)
	if err != nil {
		// Missing or unreadable file: try again next tick.
		return
	}

	size := fi.Size()
	offset := wf.offset.Load()

	if size < offset {
		// Rotation or truncation: previous content is gone.
		wf.offset.Store(0)
		offset = 0
		if t.metrics != nil {
			t.metrics.TailerTruncated.WithLabelValues(string(wf.source)).Inc()
		}
		t.logger.Info().Str("path", wf.path).Msg("Truncation detected, rereading from start")
	}

	if size > offset && wf.reading.CompareAndSwap(false, true) {
		t.wg.Add(1)
		go t.readPass(wf)
	}
}

// readPass streams the delta byte range, parses each line, and invokes the
// sink exactly once with the accumulated batch. On I/O errors the offset is
// left unchanged so the next pass retries the same range.
func (t *Tailer) readPass(wf *watchedFile) {
	defer t.wg.Done()
	defer wf.reading.Store(false)

	file, err := os.Open(wf.path)
	if err != nil {
		t.readFailed(wf, err)
		return
	}
	defer file.Close()

	start := wf.offset.Load()
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		t.readFailed(wf, err)
		return
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var batch []types.TailedEntry
	var lines, bytes int64
	for scanner.Scan() {
		line := scanner.Text()
		lines++
		bytes += int64(len(line)) + 1
		entry, ok := wf.parse(line)
		if !ok {
			if t.metrics != nil && strings.TrimSpace(line) != "" {
				t.metrics.ParserRejected.WithLabelValues(string(wf.source)).Inc()
			}
			continue
		}
		batch = append(batch, types.TailedEntry{Entry: entry, Source: wf.source, Raw: line})
	}
	if err := scanner.Err(); err != nil {
		t.readFailed(wf, err)
		return
	}

	// The offset becomes the size observed now, not the accumulated byte
	// count, so writer activity during the pass does not desync us.
	fi, err := file.Stat()
	if err != nil {
		t.readFailed(wf, err)
		return
	}
	wf.offset.Store(fi.Size())

	if t.metrics != nil {
		t.metrics.TailerLinesRead.WithLabelValues(string(wf.source)).Add(float64(lines))
		t.metrics.TailerBytesRead.WithLabelValues(string(wf.source)).Add(float64(bytes))
	}

	if len(batch) > 0 {
		t.cfg.Sink(batch)
	}
}

func (t *Tailer) readFailed(wf *watchedFile, err error) {
	if t.metrics != nil {
		t.metrics.TailerReadErrors.WithLabelValues(string(wf.source)).Inc()
	}
	t.logger.Debug().Err(err).Str("path", wf.path).Msg("Read pass aborted")
}
