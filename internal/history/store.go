// store.go records every function of every session cycle in an on-disk SQLite
// database so past runs can be listed.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created under the state directory.
const FileName = "history.db"

const (
	createTableStmt = `
CREATE TABLE IF NOT EXISTS cycles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recorded_at TEXT NOT NULL,
    session TEXT NOT NULL,
    stack TEXT NOT NULL,
    cycle INTEGER NOT NULL,
    function TEXT NOT NULL,
    image TEXT,
    port INTEGER,
    status TEXT NOT NULL,
    error TEXT
);`
	createIndexesStmt = `
CREATE INDEX IF NOT EXISTS idx_cycles_session ON cycles(session, cycle);
CREATE INDEX IF NOT EXISTS idx_cycles_recorded ON cycles(recorded_at);`
	insertStmt = `INSERT INTO cycles(recorded_at, session, stack, cycle, function, image, port, status, error) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`
	recentStmt = `SELECT recorded_at, session, stack, cycle, function, COALESCE(image, ''), COALESCE(port, 0), status, COALESCE(error, '')
FROM cycles ORDER BY id DESC LIMIT ?`
)

// Status values recorded per function.
const (
	StatusRunning     = "running"
	StatusBuildFailed = "build-failed"
	StatusRunFailed   = "run-failed"
)

// Entry is one function outcome within a cycle.
type Entry struct {
	RecordedAt time.Time
	Session    string
	Stack      string
	Cycle      int
	Function   string
	Image      string
	Port       int
	Status     string
	Error      string
}

// Store persists cycle entries.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Path returns the database path under stateDir.
func Path(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("history path cannot be empty")
	}
	dir := filepath.Dir(p)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure cycles table: %w", err)
	}
	if _, err := db.ExecContext(ctx, createIndexesStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure cycle indexes: %w", err)
	}
	stmt, err := db.PrepareContext(ctx, insertStmt)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert statement: %w", err)
	}
	return &Store{db: db, insert: stmt}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.insert != nil {
		err = errors.Join(err, s.insert.Close())
	}
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}

// Record stores entries in one transaction. A nil store records nothing.
func (s *Store) Record(ctx context.Context, entries ...Entry) error {
	if s == nil || len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	stmt := tx.StmtContext(ctx, s.insert)
	for _, e := range entries {
		recorded := e.RecordedAt
		if recorded.IsZero() {
			recorded = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			recorded.UTC().Format(time.RFC3339Nano),
			e.Session,
			e.Stack,
			e.Cycle,
			e.Function,
			e.Image,
			e.Port,
			e.Status,
			e.Error,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", e.Function, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, recentStmt, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			recorded string
		)
		if err := rows.Scan(&recorded, &e.Session, &e.Stack, &e.Cycle, &e.Function, &e.Image, &e.Port, &e.Status, &e.Error); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, recorded); err == nil {
			e.RecordedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
