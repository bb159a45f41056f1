// ABOUTME: SQLite-backed audit log of gateway calls using modernc.org/sqlite
// ABOUTME: Records method, endpoint, outcome and duration per call

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zammad-mcp/mcp-zammad/internal/gateway"
)

// Log implements gateway.Recorder on a SQLite database.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Entry is one audited gateway call as read back from the log.
type Entry struct {
	ID         string
	Endpoint   string
	Method     string
	ErrorCode  int
	DurationMS int64
	CreatedAt  time.Time
}

// Open creates or opens an audit log at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Log{
		db:     db,
		logger: logger.With("component", "audit"),
	}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	l.logger.Info("audit log initialized", "path", path)
	return l, nil
}

func (l *Log) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			method TEXT NOT NULL,
			error_code INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_calls_created_at ON calls(created_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record inserts one call record.
func (l *Log) Record(ctx context.Context, entry gateway.CallRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO calls (id, endpoint, method, error_code, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Endpoint, entry.Method, entry.ErrorCode,
		entry.Duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, endpoint, method, error_code, duration_ms, created_at
		 FROM calls ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Endpoint, &e.Method, &e.ErrorCode, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
