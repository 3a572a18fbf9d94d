package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// migration is one named schema step, applied once and recorded in the
// migrations table by name.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "0001_create_logs",
		sql: `
			CREATE TABLE logs (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				ts         INTEGER NOT NULL,
				timestamp  TEXT NOT NULL,
				level      TEXT NOT NULL,
				source     TEXT NOT NULL,
				subsystem  TEXT,
				message    TEXT NOT NULL,
				raw        TEXT,
				metadata   TEXT,
				created_at TEXT NOT NULL
			);
			CREATE INDEX idx_logs_ts ON logs(ts DESC, id DESC);
			CREATE INDEX idx_logs_level ON logs(level, ts);
			CREATE INDEX idx_logs_source ON logs(source, ts);
		`,
	},
	{
		name: "0002_create_logs_fts",
		sql: `
			CREATE VIRTUAL TABLE logs_fts USING fts5(
				message,
				content='logs',
				content_rowid='id'
			);
			CREATE TRIGGER logs_fts_insert AFTER INSERT ON logs BEGIN
				INSERT INTO logs_fts(rowid, message) VALUES (new.id, new.message);
			END;
			CREATE TRIGGER logs_fts_delete AFTER DELETE ON logs BEGIN
				INSERT INTO logs_fts(logs_fts, rowid, message)
				VALUES ('delete', old.id, old.message);
			END;
		`,
	},
}

// migrate applies pending migrations in order, each inside the same
// transaction as the row that records it.
func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.ExecuteTransient(conn, `
		CREATE TABLE IF NOT EXISTS migrations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL UNIQUE,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`, nil)
	if err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	err = sqlitex.ExecuteTransient(conn, "SELECT name FROM migrations", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			applied[stmt.ColumnText(0)] = true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		if err := s.applyMigration(conn, m); err != nil {
			return err
		}
		s.logger.Info().Str("migration", m.name).Msg("Applied migration")
	}
	return nil
}

func (s *Store) applyMigration(conn *sqlite.Conn, m migration) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: migration %s: begin: %w", m.name, err)
	}
	defer endTransaction(&err)

	if err = sqlitex.ExecuteScript(conn, m.sql, nil); err != nil {
		return fmt.Errorf("store: migration %s: %w", m.name, err)
	}
	err = sqlitex.Execute(conn, "INSERT INTO migrations (name) VALUES (?)",
		&sqlitex.ExecOptions{Args: []any{m.name}})
	if err != nil {
		return fmt.Errorf("store: migration %s: record: %w", m.name, err)
	}
	return nil
}
