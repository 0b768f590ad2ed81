// Package localstore provides the SQLite-backed local slot store.
//
// The store holds one row per tracked key, each row a complete JSON
// replacement value for that slot. It is the single local source of truth:
// local writes always commit here before any remote propagation is scheduled,
// and remote snapshots are mirrored back in as whole values.
//
// Writes go through Put, which tags each write with an Origin and fires
// registered hooks after the row has committed. The sync engine registers a
// hook to intercept user-originated writes; mirror-originated writes carry
// OriginMirror so the interceptor can tell them apart and the mirroring loop
// converges instead of bouncing.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jlucero/espejo/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Origin tags who performed a slot write.
type Origin int

const (
	// OriginUser marks a write made by the local application.
	OriginUser Origin = iota

	// OriginMirror marks a write made by the sync engine while mirroring a
	// remote snapshot (or persisting engine-assigned ids). Mirror writes
	// never re-enter the outbound sync path.
	OriginMirror
)

// String returns a human-readable representation of the origin.
func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginMirror:
		return "mirror"
	default:
		return "unknown"
	}
}

// Hook observes slot writes. Hooks run synchronously after the local write
// has committed; they must not fail the write.
type Hook func(key schema.TrackedKey, value []byte, origin Origin)

// Store wraps the local SQLite database holding the tracked slots.
type Store struct {
	conn *sql.DB
	path string

	mu    sync.Mutex
	hooks []Hook
}

// Open creates or opens the slot database at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		conn: conn,
		path: path,
	}

	// WAL mode for concurrent reads during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// InitSchema creates the slots table if it doesn't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS slots (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// OnWrite registers a hook invoked after every committed slot write.
func (s *Store) OnWrite(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Get reads the current value of a slot. The second return value reports
// whether the slot has ever been written.
func (s *Store) Get(key schema.TrackedKey) ([]byte, bool, error) {
	return s.GetContext(context.Background(), key)
}

// GetContext reads a slot value with context support.
func (s *Store) GetContext(ctx context.Context, key schema.TrackedKey) ([]byte, bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM slots WHERE key = ?", string(key)).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read slot %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// Put writes a complete replacement value for a slot and fires write hooks.
//
// The local write always completes first; hooks run after commit and cannot
// fail it. Remote availability never blocks this path.
func (s *Store) Put(key schema.TrackedKey, value []byte, origin Origin) error {
	return s.PutContext(context.Background(), key, value, origin)
}

// PutContext writes a slot value with context support.
func (s *Store) PutContext(ctx context.Context, key schema.TrackedKey, value []byte, origin Origin) error {
	if !key.Valid() {
		return fmt.Errorf("unknown tracked key: %s", key)
	}

	query := `
	INSERT INTO slots (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.conn.ExecContext(ctx, query, string(key), string(value), now); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}

	// Hooks run outside the store mutex so a hook may call back into the
	// store (mirror writes do).
	s.mu.Lock()
	hooks := make([]Hook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, h := range hooks {
		h(key, value, origin)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}
