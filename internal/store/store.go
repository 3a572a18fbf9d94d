// Package store persists log entries in SQLite with an FTS5 full-text
// index over the message body, and enforces a row-count retention cap.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/openclaw/cortex/internal/logging"
	"github.com/openclaw/cortex/internal/metrics"
	"github.com/openclaw/cortex/pkg/types"
)

// DefaultLimit is the page size used when the query specifies none.
const DefaultLimit = 100

// Config holds the parameters for opening a log store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Tests point this at a file under
	// t.TempDir().
	Path string

	// PoolSize is the number of connections in the pool. Defaults to 4.
	PoolSize int

	// MaxEntries caps the number of retained rows. Batch inserts prune
	// the oldest rows beyond the cap inside the insert transaction.
	MaxEntries int

	Logger  *logging.Logger
	Metrics *metrics.Collector
}

// Store is the durable log table plus its full-text index. It exclusively
// owns persisted rows: entries are created by insert, never mutated, and
// destroyed only by retention pruning.
type Store struct {
	pool       *sqlitex.Pool
	maxEntries int
	logger     *logging.Logger
	metrics    *metrics.Collector
}

// Open opens the database, applies standard pragmas to every connection,
// and runs any pending migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("store: MaxEntries must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("store")

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	s := &Store{
		pool:       pool,
		maxEntries: cfg.MaxEntries,
		logger:     logger,
		metrics:    cfg.Metrics,
	}

	if err := s.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Str("path", cfg.Path).Int("pool_size", poolSize).Msg("Store opened")
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// prepareConnection applies standard pragmas. WAL keeps readers and the
// single writer from blocking each other; NORMAL sync survives process
// crashes, which is enough for a rebuildable log mirror.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

// Insert stores a single entry. Retention pruning only happens on batch
// inserts, which is where tailed volume arrives.
func (s *Store) Insert(ctx context.Context, entry types.LogEntry) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	defer s.pool.Put(conn)

	if err := insertEntry(conn, entry); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.StoreInserted.Inc()
	}
	return nil
}

// InsertBatch stores all entries and prunes rows beyond the retention cap
// in one transaction: either every entry becomes visible together with the
// prune applied, or nothing changes.
func (s *Store) InsertBatch(ctx context.Context, entries []types.LogEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: insert batch: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, entry := range entries {
		if err = insertEntry(conn, entry); err != nil {
			return err
		}
	}

	// Oldest-first pruning by id: keep the cap's worth of newest rows.
	err = sqlitex.Execute(conn,
		"DELETE FROM logs WHERE id NOT IN (SELECT id FROM logs ORDER BY id DESC LIMIT ?)",
		&sqlitex.ExecOptions{Args: []any{s.maxEntries}})
	if err != nil {
		return fmt.Errorf("store: prune: %w", err)
	}

	if s.metrics != nil {
		s.metrics.StoreInserted.Add(float64(len(entries)))
		if pruned := conn.Changes(); pruned > 0 {
			s.metrics.StorePruned.Add(float64(pruned))
		}
	}
	return nil
}

func insertEntry(conn *sqlite.Conn, entry types.LogEntry) error {
	var raw any
	if entry.Raw != "" {
		raw = entry.Raw
	}

	var metadata any
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("store: marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	err := sqlitex.Execute(conn, `
		INSERT INTO logs (ts, timestamp, level, source, subsystem, message, raw, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			entry.TS,
			entry.Timestamp,
			string(entry.Level),
			string(entry.Source),
			entry.Subsystem,
			entry.Message,
			raw,
			metadata,
			time.Now().UTC().Format(time.RFC3339),
		}})
	if err != nil {
		return fmt.Errorf("store: insert entry: %w", err)
	}
	return nil
}

// ftsDisallowed matches every character outside the full-text allow-list.
// Stripping these removes all operators the FTS5 query language recognizes
// (NOT, +, prefix *, NEAR, grouping, column filters, phrase quoting), so
// user input can never be interpreted as query syntax.
var ftsDisallowed = regexp.MustCompile(`[^a-zA-Z0-9\s._/]+`)

// sanitizeText reduces caller-supplied search text to the allow-list and
// collapses the result to single spaces. An empty result disables the text
// filter.
func sanitizeText(text string) string {
	cleaned := ftsDisallowed.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

// Query returns entries matching the filters, newest first, with the total
// count ignoring pagination. Unknown level or source values are ignored
// rather than erroring.
func (s *Store) Query(ctx context.Context, q types.LogQuery) (*types.PaginatedResponse, error) {
	if s.metrics != nil {
		start := time.Now()
		defer func() {
			s.metrics.StoreQueryDuration.Observe(time.Since(start).Seconds())
		}()
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	offset := (page - 1) * limit

	var conds []string
	var args []any
	join := ""

	if types.ValidLevel(q.Level) {
		conds = append(conds, "logs.level = ?")
		args = append(args, q.Level)
	}
	if types.ValidSource(q.Source) {
		conds = append(conds, "logs.source = ?")
		args = append(args, q.Source)
	}
	if text := sanitizeText(q.Text); text != "" {
		join = " JOIN logs_fts ON logs_fts.rowid = logs.id"
		conds = append(conds, "logs_fts MATCH ?")
		// Literal prefix-match phrase: the sanitized text is one quoted
		// phrase with the final token treated as a prefix.
		args = append(args, `"`+text+`"*`)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer s.pool.Put(conn)

	var total int
	err = sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM logs"+join+where,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: count query: %w", err)
	}

	data := make([]types.LogEntry, 0, limit)
	err = sqlitex.Execute(conn, `
		SELECT logs.id, logs.ts, logs.timestamp, logs.level, logs.source,
		       logs.subsystem, logs.message, logs.raw, logs.metadata, logs.created_at
		FROM logs`+join+where+`
		ORDER BY logs.ts DESC, logs.id DESC
		LIMIT ? OFFSET ?`,
		&sqlitex.ExecOptions{
			Args: append(append([]any{}, args...), limit, offset),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = append(data, readEntry(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: data query: %w", err)
	}

	return &types.PaginatedResponse{
		Data:    data,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: offset+len(data) < total,
	}, nil
}

// readEntry maps one result row to a LogEntry. A corrupt metadata payload
// degrades to no metadata instead of failing the row.
func readEntry(stmt *sqlite.Stmt) types.LogEntry {
	entry := types.LogEntry{
		ID:        stmt.ColumnInt64(0),
		TS:        stmt.ColumnInt64(1),
		Timestamp: stmt.ColumnText(2),
		Level:     types.LogLevel(stmt.ColumnText(3)),
		Source:    types.LogSource(stmt.ColumnText(4)),
		Subsystem: stmt.ColumnText(5),
		Message:   stmt.ColumnText(6),
		Raw:       stmt.ColumnText(7),
		CreatedAt: stmt.ColumnText(9),
	}
	if raw := stmt.ColumnText(8); raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			entry.Metadata = meta
		}
	}
	return entry
}
