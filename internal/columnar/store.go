// Package columnar defines the Executor interface and related types for
// issuing bulk row-removal mutations and verification queries against the
// columnar analytical store.
//
// Mutations are assumed to be applied eventually and out-of-band by the
// store's own merge machinery; an error-free ExecuteMutation call means the
// mutation was accepted, never that the rows are gone. Verification reads
// are the only source of truth for completion.
package columnar

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by Executor operations.
var (
	// ErrTimeout is returned when the store exceeds its execution time limit.
	// For bulk mutations this is an expected outcome: the mutation is
	// still in flight and a later verification pass settles the result.
	ErrTimeout = errors.New("columnar: execution timed out")

	// ErrUnavailable is returned when the store cannot be reached.
	ErrUnavailable = errors.New("columnar: store unavailable")
)

// Row is a single result row. Column values keep the driver's native types;
// use AsInt64 and AsString to canonicalize before comparing.
type Row []any

// QueryOption configures an ExecuteQuery call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	maxExecutionTime time.Duration
}

// WithMaxExecutionTime caps the execution time of a single query.
// Queries exceeding the cap fail with ErrTimeout.
func WithMaxExecutionTime(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.maxExecutionTime = d
	}
}

// ApplyQueryOptions resolves a set of QueryOptions. Exported for use by
// Executor implementations.
func ApplyQueryOptions(opts []QueryOption) (maxExecutionTime time.Duration) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.maxExecutionTime
}

// Executor is the parameterized-query execution boundary to the columnar
// store. Predicates and queries use named arguments in ":name" form.
type Executor interface {
	// ExecuteMutation applies a row-removal mutation to table, scoped by
	// predicate. The mutation is accepted synchronously but applied
	// eventually; callers must not treat a nil error as completion.
	ExecuteMutation(ctx context.Context, table string, predicate string, args map[string]any) error

	// ExecuteQuery runs a read-only query and returns all result rows.
	ExecuteQuery(ctx context.Context, query string, args map[string]any, opts ...QueryOption) ([]Row, error)
}
