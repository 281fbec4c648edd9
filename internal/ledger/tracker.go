// Package ledger implements the durable processed-message ledger that keeps
// message handling idempotent across restarts and across processes.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotInitialized is returned when the tracker is used before Initialize
// succeeded or after Close.
var ErrNotInitialized = errors.New("ledger: not initialized")

// InitError reports that the ledger storage could not be opened or prepared.
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("ledger: initialize %q: %v", e.Path, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Tracker records which (message, store) pairs have been claimed for
// processing.
type Tracker struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewTracker creates a tracker backed by a SQLite file at path. Nothing is
// opened until Initialize is called.
func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

// Path returns the configured storage location.
func (t *Tracker) Path() string { return t.path }

// Initialize opens the database and applies the schema. Calling it again
// after success is a no-op.
func (t *Tracker) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.db != nil {
		return nil
	}
	if strings.TrimSpace(t.path) == "" {
		return &InitError{Path: t.path, Err: errors.New("empty path")}
	}
	if dir := filepath.Dir(t.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &InitError{Path: t.path, Err: err}
		}
	}

	db, err := sql.Open("sqlite", "file:"+t.path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return &InitError{Path: t.path, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &InitError{Path: t.path, Err: err}
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return &InitError{Path: t.path, Err: fmt.Errorf("apply schema: %w", err)}
	}

	t.db = db
	return nil
}

// Initialized reports whether Initialize succeeded and Close was not called.
func (t *Tracker) Initialized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.db != nil
}

func (t *Tracker) handle() (*sql.DB, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.db == nil {
		return nil, ErrNotInitialized
	}
	return t.db, nil
}

// IsProcessed reports whether the message was already claimed in storeID.
func (t *Tracker) IsProcessed(ctx context.Context, messageID, storeID string) (bool, error) {
	db, err := t.handle()
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_messages WHERE message_id = ? AND store_id = ?`,
		messageID, storeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ledger: lookup %s/%s: %w", storeID, messageID, err)
	}
	return n > 0, nil
}

// MarkProcessed claims the message. It returns true only for the call that
// inserted the row; every other caller, in this process or another one,
// gets false.
func (t *Tracker) MarkProcessed(ctx context.Context, messageID, storeID string) (bool, error) {
	db, err := t.handle()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, store_id, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, store_id) DO NOTHING`,
		messageID, storeID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("ledger: mark %s/%s: %w", storeID, messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: mark %s/%s: rows affected: %w", storeID, messageID, err)
	}
	return n == 1, nil
}

// ProcessedCount returns the number of claimed messages for storeID, or the
// total across all stores when storeID is empty.
func (t *Tracker) ProcessedCount(ctx context.Context, storeID string) (int, error) {
	db, err := t.handle()
	if err != nil {
		return 0, err
	}
	query := `SELECT COUNT(1) FROM processed_messages`
	args := []any{}
	if storeID != "" {
		query += ` WHERE store_id = ?`
		args = append(args, storeID)
	}
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}

// Close releases the database handle. Safe to call more than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}
