// Package postgres implements requeststore.Store over Postgres using pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrub-io/scrub/internal/deletion"
)

// Store implements requeststore.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect creates a pool from dsn and wraps it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect request store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the deletion_requests table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS deletion_requests (
			id                 uuid PRIMARY KEY,
			deletion_type      text NOT NULL,
			team_id            bigint NOT NULL,
			group_type_index   smallint,
			key                text NOT NULL DEFAULT '',
			created_at         timestamptz NOT NULL DEFAULT now(),
			delete_verified_at timestamptz
		);
		CREATE INDEX IF NOT EXISTS deletion_requests_unverified_idx
			ON deletion_requests (created_at)
			WHERE delete_verified_at IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("ensure deletion_requests schema: %w", err)
	}
	return nil
}

// Enqueue inserts a new deletion request. Product flows own enqueueing;
// this exists for tooling and tests.
func (s *Store) Enqueue(ctx context.Context, r deletion.Request) (deletion.Request, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO deletion_requests (id, deletion_type, team_id, group_type_index, key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, string(r.Type), r.TeamID, r.GroupTypeIndex, r.Key, r.CreatedAt)
	if err != nil {
		return deletion.Request{}, fmt.Errorf("enqueue deletion request: %w", err)
	}
	return r, nil
}

func (s *Store) ListUnverified(ctx context.Context) ([]deletion.Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, deletion_type, team_id, group_type_index, key, created_at
		FROM deletion_requests
		WHERE delete_verified_at IS NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list unverified requests: %w", err)
	}
	defer rows.Close()

	var out []deletion.Request
	for rows.Next() {
		var r deletion.Request
		var typ string
		if err := rows.Scan(&r.ID, &typ, &r.TeamID, &r.GroupTypeIndex, &r.Key, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deletion request: %w", err)
		}
		r.Type = deletion.Type(typ)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unverified requests: %w", err)
	}
	return out, nil
}

// MarkVerified sets delete_verified_at for ids that are still unverified.
// The null guard keeps the transition set-once under concurrent verifiers.
func (s *Store) MarkVerified(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE deletion_requests
		SET delete_verified_at = $2
		WHERE id = ANY($1) AND delete_verified_at IS NULL
	`, ids, at)
	if err != nil {
		return fmt.Errorf("mark requests verified: %w", err)
	}
	return nil
}

func (s *Store) CountUnverified(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM deletion_requests WHERE delete_verified_at IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unverified requests: %w", err)
	}
	return count, nil
}
