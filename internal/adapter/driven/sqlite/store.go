package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Store = (*Store)(nil)

// Store implements driven.Store with a single process-wide session lock.
// The local store is small and transactions are short, so one coarse lock
// is the deliberate trade-off over fine-grained locking.
type Store struct {
	db *DB
	mu sync.Mutex
}

// NewStore creates a Store backed by the given DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Update runs fn inside one write transaction under the session lock.
// The transaction commits when fn returns nil and rolls back otherwise,
// so no caller ever observes a partially written entity graph.
func (st *Store) Update(ctx context.Context, fn func(driven.Session) error) error {
	return st.run(ctx, st.db.Writer, false, fn)
}

// View runs fn inside a read-only transaction under the same session lock.
func (st *Store) View(ctx context.Context, fn func(driven.Session) error) error {
	return st.run(ctx, st.db.Reader, true, fn)
}

func (st *Store) run(ctx context.Context, conn *sql.DB, readOnly bool, fn func(driven.Session) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}

	s := &session{ctx: ctx, tx: tx}

	if err := fn(s); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback session after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}

	return nil
}

// Vacuum compacts the database file. VACUUM cannot run inside a
// transaction, so it executes directly on the writer connection.
func (st *Store) Vacuum(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := st.db.Writer.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}

	return nil
}

// session implements driven.Session over one open transaction.
type session struct {
	ctx context.Context
	tx  *sql.Tx
}

var _ driven.Session = (*session)(nil)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// parseTime tries the datetime formats SQLite hands back.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
