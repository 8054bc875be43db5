// Package requeststore defines the Store interface for the relational store
// persisting deletion requests. The default implementation uses Postgres.
//
// The pipeline only ever reads requests and sets delete_verified_at; it
// never deletes rows. Retention of verified requests belongs to the owner
// of the store.
package requeststore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scrub-io/scrub/internal/deletion"
)

// Store is the persisted queue of deletion requests. It satisfies both the
// coordinator's RequestStore dependency and the metrics backlog provider.
type Store interface {
	// ListUnverified returns every request with delete_verified_at unset,
	// fully populated.
	ListUnverified(ctx context.Context) ([]deletion.Request, error)

	// MarkVerified sets delete_verified_at to at for the given ids.
	// Already-verified requests are left untouched: the transition is
	// strictly null to set.
	MarkVerified(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// CountUnverified returns the number of requests with
	// delete_verified_at unset.
	CountUnverified(ctx context.Context) (int, error)
}
