package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrub-io/scrub/internal/columnar"
	"github.com/scrub-io/scrub/internal/logging"
	"github.com/scrub-io/scrub/internal/metrics"
)

// CustomProcessorConfig configures the custom-predicate processor.
type CustomProcessorConfig struct {
	// EventsTable is the fact table custom predicates run against.
	// Default: "events"
	EventsTable string

	// VerifyTimeout caps a single verification scan. Arbitrary predicates
	// can be expensive; a scan that exceeds the cap leaves the request
	// pending instead of failing the batch.
	// Default: 30s
	VerifyTimeout time.Duration
}

// CustomProcessor handles requests carrying a raw caller-supplied predicate.
//
// Requests are processed individually, never OR-batched: each predicate is
// its own audit unit and must stay isolated from its neighbors. Every
// mutation and scan is additionally scoped by team_id.
//
// Trust boundary: the raw key is interpolated into the query verbatim.
// Requests of this type must only ever be constructible by internal,
// trusted call paths; the enqueue boundary owns that enforcement.
type CustomProcessor struct {
	exec    columnar.Executor
	logger  *logging.Logger
	metrics *metrics.PipelineMetrics
	config  CustomProcessorConfig
}

// NewCustomProcessor creates a processor for custom-predicate requests.
func NewCustomProcessor(exec columnar.Executor, logger *logging.Logger, m *metrics.PipelineMetrics, config CustomProcessorConfig) *CustomProcessor {
	if config.EventsTable == "" {
		config.EventsTable = "events"
	}
	if config.VerifyTimeout <= 0 {
		config.VerifyTimeout = 30 * time.Second
	}
	return &CustomProcessor{
		exec:    exec,
		logger:  logger,
		metrics: m,
		config:  config,
	}
}

// Process issues one mutation per request. A failure on one request does not
// stop the rest of the batch.
func (p *CustomProcessor) Process(ctx context.Context, requests []Request) error {
	var errs []error
	for i, r := range requests {
		fragment, args, err := Condition(r, i)
		if err != nil {
			p.logger.Warnf("skipping request with malformed key", map[string]any{
				"requestId": r.ID.String(),
				"error":     err.Error(),
			})
			p.metrics.RecordMalformedKey()
			continue
		}
		if err := issueMutation(ctx, p.exec, p.logger, p.metrics, p.config.EventsTable, fragment, args); err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

// VerifyGroup runs one existence check per request under the configured
// execution-time ceiling. A request verifies iff the count is exactly zero.
// A scan timeout is logged and leaves that request pending; it is not the
// request's own failure.
func (p *CustomProcessor) VerifyGroup(ctx context.Context, requests []Request) ([]Request, error) {
	var verified []Request
	var errs []error

	for i, r := range requests {
		fragment, args, err := Condition(r, i)
		if err != nil {
			continue
		}

		query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", p.config.EventsTable, fragment)
		rows, err := p.exec.ExecuteQuery(ctx, query, args, columnar.WithMaxExecutionTime(p.config.VerifyTimeout))
		if err != nil {
			if errors.Is(err, columnar.ErrTimeout) {
				p.logger.Warnf("custom verification scan exceeded execution ceiling, leaving request pending", map[string]any{
					"requestId": r.ID.String(),
					"ceiling":   p.config.VerifyTimeout.String(),
				})
				p.metrics.RecordVerificationTimeout()
				continue
			}
			errs = append(errs, fmt.Errorf("request %s: verification scan: %w", r.ID, err))
			continue
		}

		if len(rows) == 0 || len(rows[0]) == 0 {
			errs = append(errs, fmt.Errorf("request %s: verification scan returned no count", r.ID))
			continue
		}
		count, ok := columnar.AsInt64(rows[0][0])
		if !ok {
			errs = append(errs, fmt.Errorf("request %s: verification scan returned non-numeric count", r.ID))
			continue
		}
		if count == 0 {
			verified = append(verified, r)
		}
	}

	return verified, errors.Join(errs...)
}
