package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrub-io/scrub/internal/logging"
	"github.com/scrub-io/scrub/internal/metrics"
)

// RequestStore is the persisted queue of deletion requests.
type RequestStore interface {
	// ListUnverified returns every request with delete_verified_at unset.
	ListUnverified(ctx context.Context) ([]Request, error)

	// MarkVerified sets delete_verified_at for the given request ids.
	// The transition is null to set only; already-verified requests are
	// left untouched, so concurrent verifiers converge on the same state.
	MarkVerified(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// CoordinatorConfig configures the batch coordinator.
type CoordinatorConfig struct {
	// MarkBatchSize is the chunk size for batched delete_verified_at
	// updates. Default: 500
	MarkBatchSize int
}

// Coordinator groups pending requests by (deletion type, group type index)
// and dispatches each group to its processor. Processing and verification
// are independent passes on independent cadences; overlapping invocations
// of either are safe because mutations are idempotent and marking is a
// set-once transition grounded in what verification observed, never in
// what a mutation reported.
type Coordinator struct {
	store      RequestStore
	processors map[Type]Processor
	logger     *logging.Logger
	metrics    *metrics.PipelineMetrics
	config     CoordinatorConfig

	now func() time.Time
}

// NewCoordinator creates a Coordinator. The processor map is keyed by
// deletion type; the coordinator itself never branches on type.
func NewCoordinator(store RequestStore, processors map[Type]Processor, logger *logging.Logger, m *metrics.PipelineMetrics, config CoordinatorConfig) *Coordinator {
	if config.MarkBatchSize <= 0 {
		config.MarkBatchSize = 500
	}
	return &Coordinator{
		store:      store,
		processors: processors,
		logger:     logger,
		metrics:    m,
		config:     config,
		now:        time.Now,
	}
}

// RunProcess loads all unverified requests and issues bulk mutations for
// each group. A failure in one group never blocks the others; per-group
// errors are aggregated into the returned error.
func (c *Coordinator) RunProcess(ctx context.Context) error {
	logger := logging.ContextLogger(ctx, c.logger)

	requests, err := c.store.ListUnverified(ctx)
	if err != nil {
		return fmt.Errorf("list unverified requests: %w", err)
	}
	if len(requests) == 0 {
		logger.Debug("no unverified requests to process")
		return nil
	}

	groups := GroupRequests(requests)
	logger.Infof("processing deletion request groups", map[string]any{
		"requests": len(requests),
		"groups":   len(groups),
	})

	var errs []error
	for key, group := range groups {
		processor, ok := c.processors[key.Type]
		if !ok {
			errs = append(errs, fmt.Errorf("%w %q", ErrNoProcessor, key.Type))
			continue
		}
		if err := processor.Process(ctx, group); err != nil {
			logger.Errorf("group processing failed", map[string]any{
				"deletionType":   string(key.Type),
				"groupTypeIndex": key.GroupTypeIndex,
				"requests":       len(group),
				"error":          err.Error(),
			})
			c.metrics.RecordGroupFailure(string(key.Type))
			errs = append(errs, fmt.Errorf("group %s/%d: %w", key.Type, key.GroupTypeIndex, err))
			continue
		}
		c.metrics.RecordProcessed(string(key.Type), len(group))
	}

	return errors.Join(errs...)
}

// RunVerify loads all unverified requests, re-checks each group against the
// store, and marks confirmed requests in batched updates. Only requests
// whose residual scan came back clean are marked; issuing a mutation is
// never grounds for completion.
func (c *Coordinator) RunVerify(ctx context.Context) error {
	logger := logging.ContextLogger(ctx, c.logger)

	requests, err := c.store.ListUnverified(ctx)
	if err != nil {
		return fmt.Errorf("list unverified requests: %w", err)
	}
	if len(requests) == 0 {
		logger.Debug("no unverified requests to verify")
		return nil
	}

	groups := GroupRequests(requests)

	var verifiedIDs []uuid.UUID
	var errs []error
	for key, group := range groups {
		processor, ok := c.processors[key.Type]
		if !ok {
			errs = append(errs, fmt.Errorf("%w %q", ErrNoProcessor, key.Type))
			continue
		}

		verified, err := processor.VerifyGroup(ctx, group)
		if err != nil {
			logger.Errorf("group verification failed", map[string]any{
				"deletionType":   string(key.Type),
				"groupTypeIndex": key.GroupTypeIndex,
				"requests":       len(group),
				"error":          err.Error(),
			})
			c.metrics.RecordGroupFailure(string(key.Type))
			errs = append(errs, fmt.Errorf("group %s/%d: %w", key.Type, key.GroupTypeIndex, err))
		}
		// Requests confirmed before a partial failure still count.
		for _, r := range verified {
			verifiedIDs = append(verifiedIDs, r.ID)
		}
		if len(verified) > 0 {
			c.metrics.RecordVerified(string(key.Type), len(verified))
		}
	}

	if len(verifiedIDs) > 0 {
		if err := c.markVerified(ctx, verifiedIDs); err != nil {
			errs = append(errs, err)
		} else {
			logger.Infof("marked requests verified", map[string]any{"count": len(verifiedIDs)})
		}
	}

	return errors.Join(errs...)
}

// markVerified persists delete_verified_at in chunks of MarkBatchSize.
func (c *Coordinator) markVerified(ctx context.Context, ids []uuid.UUID) error {
	at := c.now().UTC()
	for start := 0; start < len(ids); start += c.config.MarkBatchSize {
		end := min(start+c.config.MarkBatchSize, len(ids))
		if err := c.store.MarkVerified(ctx, ids[start:end], at); err != nil {
			return fmt.Errorf("mark verified (%d requests): %w", end-start, err)
		}
	}
	return nil
}
