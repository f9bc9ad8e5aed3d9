// Package sqlite persists the snapshot as a one-row JSON document in an
// SQLite database, standing in for a managed document store.
//
// Unlike the file and gist adapters, this backend enforces optimistic
// concurrency: each Save asserts the document version observed by the last
// Load, and a stale version yields storage.ErrConflict so the coordinator
// can rerun its read-transform-write cycle.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/linkdeck/snapshot"
	"github.com/hazyhaar/linkdeck/storage"
	_ "modernc.org/sqlite"
)

const (
	defaultDocName = "links"
	maxBusyRetries = 3
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store is an SQLite-backed storage.Backend.
type Store struct {
	db   *sql.DB
	name string

	mu      sync.Mutex
	version int64 // document version observed by the last Load
}

// Option customises Open behaviour.
type Option func(*config)

type config struct {
	busyTimeout int
	docName     string
	mkdirAll    bool
}

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithDocName sets the document row name. Default: "links".
func WithDocName(name string) Option { return func(c *config) { c.docName = name } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// Open opens (and if needed creates) the database at path with WAL and
// busy-timeout pragmas applied, and ensures the documents table exists.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{busyTimeout: 10_000, docName: defaultDocName}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Store{db: db, name: cfg.docName}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Load reads and decodes the document row, remembering its version for the
// next Save. A missing row is ErrNotFound; undecodable body is ErrCorrupt.
func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, error) {
	var body string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT body, version FROM documents WHERE name = ?`, s.name,
	).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, fmt.Errorf("sqlite: document %q: %w", s.name, storage.ErrNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("sqlite: load: %w: %w", storage.ErrUnavailable, err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("sqlite: decode document %q: %w: %w", s.name, storage.ErrCorrupt, err)
	}
	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
	return snap, nil
}

// Save writes the document, asserting the version observed by the last
// Load. SQLITE_BUSY is retried in-adapter with 100/200/300ms backoff; a
// version mismatch is ErrConflict.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("sqlite: encode: %w", err)
	}
	s.mu.Lock()
	expected := s.version
	s.mu.Unlock()

	for i := 0; i < maxBusyRetries; i++ {
		err = s.saveOnce(ctx, string(data), expected)
		if err == nil {
			s.mu.Lock()
			s.version = expected + 1
			s.mu.Unlock()
			return nil
		}
		if !isBusy(err) || i == maxBusyRetries-1 {
			break
		}
		if serr := sleepCtx(ctx, time.Duration(100*(i+1))*time.Millisecond); serr != nil {
			return fmt.Errorf("sqlite: context cancelled during busy retry: %w", serr)
		}
	}
	return err
}

func (s *Store) saveOnce(ctx context.Context, body string, expected int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w: %w", storage.ErrUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ?, version = version + 1, updated_at = ?
		 WHERE name = ? AND version = ?`,
		body, now, s.name, expected)
	if err != nil {
		return fmt.Errorf("sqlite: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		// Either the row does not exist yet, or another writer bumped the
		// version since our Load.
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM documents WHERE name = ?`, s.name).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (name, body, version, updated_at) VALUES (?,?,?,?)`,
				s.name, body, expected+1, now); err != nil {
				return fmt.Errorf("sqlite: insert: %w", err)
			}
		case err != nil:
			return fmt.Errorf("sqlite: version check: %w: %w", storage.ErrUnavailable, err)
		default:
			return fmt.Errorf("sqlite: document %q at version %d, expected %d: %w",
				s.name, current, expected, storage.ErrConflict)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// isBusy reports whether err indicates an SQLITE_BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
