// Package sqlite implements columnar.Executor over an embedded SQLite
// database. Mutations are staged and applied by an explicit MergePending
// pass, mirroring the out-of-band way the production store applies
// row-removal mutations during background merges.
//
// The embedded engine backs local development and the integration tests;
// it is not a substitute for the production store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scrub-io/scrub/internal/columnar"
)

type pendingMutation struct {
	table     string
	predicate string
	args      map[string]any
}

// Store implements columnar.Executor over database/sql with the embedded
// SQLite driver.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	pending []pendingMutation
}

// Open opens (or creates) a database at path. Use ":memory:" for an
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The embedded engine serializes writes; a single connection avoids
	// table-lock errors under concurrent pipeline invocations.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for schema setup and test fixtures.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ExecuteMutation stages a row-removal mutation. The rows stay visible to
// queries until MergePending applies the staged deletes, so callers observe
// the same accepted-but-not-yet-applied window the production store has.
func (s *Store) ExecuteMutation(_ context.Context, table string, predicate string, args map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, pendingMutation{
		table:     table,
		predicate: predicate,
		args:      args,
	})
	return nil
}

// MergePending applies all staged mutations in acceptance order. On failure
// the unapplied remainder stays staged for the next merge.
func (s *Store) MergePending(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, m := range pending {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", m.table, m.predicate)
		if _, err := s.db.ExecContext(ctx, stmt, namedArgs(m.args)...); err != nil {
			s.mu.Lock()
			s.pending = append(pending[i:], s.pending...)
			s.mu.Unlock()
			return fmt.Errorf("apply mutation on %s: %w", m.table, err)
		}
	}
	return nil
}

// PendingCount returns the number of staged, unapplied mutations.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ExecuteQuery runs a read-only query. A max-execution-time option is
// enforced via context deadline and surfaces as columnar.ErrTimeout.
func (s *Store) ExecuteQuery(ctx context.Context, query string, args map[string]any, opts ...columnar.QueryOption) ([]columnar.Row, error) {
	if maxExecutionTime := columnar.ApplyQueryOptions(opts); maxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxExecutionTime)
		defer cancel()
	}

	rows, err := s.db.QueryContext(ctx, query, namedArgs(args)...)
	if err != nil {
		return nil, mapQueryError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []columnar.Row
	for rows.Next() {
		values := make(columnar.Row, len(cols))
		scanTargets := make([]any, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, mapQueryError(err)
	}
	return out, nil
}

func mapQueryError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", columnar.ErrTimeout, err)
	}
	return err
}

// namedArgs converts a ":name"-keyed argument map to database/sql named
// arguments. Time values are bound as epoch milliseconds; timestamp columns
// in the embedded schema are INTEGER milliseconds.
func namedArgs(args map[string]any) []any {
	out := make([]any, 0, len(args))
	for k, v := range args {
		if t, ok := v.(time.Time); ok {
			v = t.UnixMilli()
		}
		out = append(out, sql.Named(k, v))
	}
	return out
}
