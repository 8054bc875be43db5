package deletion

import (
	"context"
	"errors"
	"fmt"

	"github.com/scrub-io/scrub/internal/columnar"
	"github.com/scrub-io/scrub/internal/logging"
	"github.com/scrub-io/scrub/internal/metrics"
)

// Processor handles one deletion-type family. Process issues the bulk
// mutations for a group; VerifyGroup re-checks the store and returns the
// subset of requests whose rows are confirmed absent.
//
// Both operations are idempotent and may be re-run against the same group:
// re-issuing a predicate mutation deletes an empty set, and verification
// only reads.
type Processor interface {
	Process(ctx context.Context, requests []Request) error
	VerifyGroup(ctx context.Context, requests []Request) ([]Request, error)
}

// fragmentDecorator lets a processor extend a request's predicate fragment,
// e.g. with the creation-time scan boundary. It may add named arguments
// using the request's index.
type fragmentDecorator func(r Request, idx int, fragment string, args map[string]any) string

// builtPredicate is the combined predicate for a batch. Requests whose keys
// failed to parse are excluded; contributing holds the rest in fragment
// order.
type builtPredicate struct {
	predicate    string
	args         map[string]any
	contributing []Request
}

func (b builtPredicate) empty() bool {
	return len(b.contributing) == 0
}

// buildGroupPredicate builds the OR-combined predicate for a batch of
// compatible requests. Malformed keys are logged, counted, and skipped
// without aborting the batch.
func buildGroupPredicate(requests []Request, logger *logging.Logger, m *metrics.PipelineMetrics, decorate fragmentDecorator) builtPredicate {
	built := builtPredicate{args: make(map[string]any, len(requests)*2)}

	var fragments []string
	for _, r := range requests {
		idx := len(built.contributing)
		fragment, args, err := Condition(r, idx)
		if err != nil {
			logger.Warnf("skipping request with malformed key", map[string]any{
				"requestId":    r.ID.String(),
				"deletionType": string(r.Type),
				"error":        err.Error(),
			})
			m.RecordMalformedKey()
			continue
		}
		if decorate != nil {
			fragment = decorate(r, idx, fragment, args)
		}
		mergeArgs(built.args, args)
		fragments = append(fragments, fragment)
		built.contributing = append(built.contributing, r)
	}

	if len(fragments) > 0 {
		built.predicate = CombineFragments(fragments)
	}
	return built
}

// issueMutation runs one bulk mutation and tolerates store timeouts: the
// mutation is eventual on the callee side, so a timeout only means the next
// verification pass will not confirm yet. Other failures propagate.
func issueMutation(ctx context.Context, exec columnar.Executor, logger *logging.Logger, m *metrics.PipelineMetrics, table, predicate string, args map[string]any) error {
	err := exec.ExecuteMutation(ctx, table, predicate, args)
	if err == nil {
		m.RecordMutationIssued(table)
		return nil
	}
	if errors.Is(err, columnar.ErrTimeout) {
		logger.Warnf("bulk mutation timed out, still in flight", map[string]any{
			"table": table,
			"error": err.Error(),
		})
		m.RecordMutationTimeout(table)
		return nil
	}
	return fmt.Errorf("mutation on %s: %w", table, err)
}
