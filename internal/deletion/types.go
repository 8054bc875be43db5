// Package deletion implements the asynchronous deletion-and-verification
// pipeline: turning deletion requests into idempotent bulk mutations against
// the columnar store, and independently confirming that the rows are gone
// before a request is ever marked complete.
package deletion

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by the deletion pipeline.
var (
	// ErrMalformedKey is returned when a request key cannot be parsed into
	// the shape its deletion type expects. Fatal for that single request
	// only; the rest of the batch proceeds.
	ErrMalformedKey = errors.New("deletion: malformed request key")

	// ErrNoProcessor is returned when a request group has no registered
	// processor for its deletion type.
	ErrNoProcessor = errors.New("deletion: no processor registered for type")
)

// Type identifies the family of a deletion request.
type Type string

const (
	// TypeTeam removes every row belonging to a tenant.
	TypeTeam Type = "team"
	// TypePerson removes rows for one person within a tenant.
	TypePerson Type = "person"
	// TypeGroup removes rows for one group key within a tenant, on the
	// dimension selected by the request's group type index.
	TypeGroup Type = "group"
	// TypeCohortFull removes all membership rows for a cohort.
	TypeCohortFull Type = "cohort_full"
	// TypeCohortStale removes membership rows from superseded cohort
	// recalculation versions.
	TypeCohortStale Type = "cohort_stale"
	// TypeCustom removes rows matched by a caller-supplied predicate.
	// Only constructible by trusted internal call paths; the key is
	// interpolated into the query verbatim.
	TypeCustom Type = "custom"
)

// Valid reports whether t is a known deletion type.
func (t Type) Valid() bool {
	switch t {
	case TypeTeam, TypePerson, TypeGroup, TypeCohortFull, TypeCohortStale, TypeCustom:
		return true
	default:
		return false
	}
}

// Request is a persisted deletion request. The pipeline reads requests and
// sets DeleteVerifiedAt exactly once; it never deletes them.
//
// Key interpretation depends on Type:
//
//	TypeTeam:        unused
//	TypePerson:      person identifier
//	TypeGroup:       group key
//	TypeCohortFull:  "<cohort_id>_<ignored>"
//	TypeCohortStale: "<cohort_id>_<version>"
//	TypeCustom:      raw boolean expression (trusted callers only)
type Request struct {
	ID     uuid.UUID
	Type   Type
	TeamID int64

	// GroupTypeIndex selects the group dimension (0-4). Set only for
	// TypeGroup requests.
	GroupTypeIndex *int

	Key string

	// CreatedAt bounds the scan window for person and group requests:
	// rows written after it are new, legitimate data and must survive.
	CreatedAt time.Time

	// DeleteVerifiedAt is set once, by the verification pass, when a
	// confirming scan finds zero residual rows. Nil means pending or
	// issued-but-unconfirmed; the pipeline does not track which.
	DeleteVerifiedAt *time.Time
}

// GroupKey partitions requests into batches processed and verified together
// via one combined predicate.
type GroupKey struct {
	Type Type
	// GroupTypeIndex is -1 for every type except TypeGroup.
	GroupTypeIndex int
}

// GroupKey returns the batch key for this request.
func (r Request) GroupKey() GroupKey {
	idx := -1
	if r.Type == TypeGroup && r.GroupTypeIndex != nil {
		idx = *r.GroupTypeIndex
	}
	return GroupKey{Type: r.Type, GroupTypeIndex: idx}
}

// GroupRequests partitions requests by (type, group type index).
func GroupRequests(requests []Request) map[GroupKey][]Request {
	groups := make(map[GroupKey][]Request)
	for _, r := range requests {
		key := r.GroupKey()
		groups[key] = append(groups[key], r)
	}
	return groups
}
