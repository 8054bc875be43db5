package deletion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/scrub-io/scrub/internal/columnar"
	"github.com/scrub-io/scrub/internal/logging"
	"github.com/scrub-io/scrub/internal/metrics"
)

// eventTimestampColumn is the ingestion-time column on the fact table used
// to bound person and group scans to rows written before the request.
const eventTimestampColumn = "_timestamp"

// EventsProcessorConfig configures the fact-table processor.
type EventsProcessorConfig struct {
	// EventsTable is the primary fact table.
	// Default: "events"
	EventsTable string

	// SatelliteTables is the fixed, ordered list of tenant-scoped tables
	// additionally swept on a tenant-wide deletion. Satellite deletion is
	// unconditional per tenant, so no per-table column selection is needed.
	SatelliteTables []string
}

// EventsProcessor handles team, person, and group deletions against the
// fact table. Tenant-wide batches additionally sweep the satellite tables.
type EventsProcessor struct {
	exec    columnar.Executor
	logger  *logging.Logger
	metrics *metrics.PipelineMetrics
	config  EventsProcessorConfig
}

// NewEventsProcessor creates a processor for team, person, and group
// deletion requests.
func NewEventsProcessor(exec columnar.Executor, logger *logging.Logger, m *metrics.PipelineMetrics, config EventsProcessorConfig) *EventsProcessor {
	if config.EventsTable == "" {
		config.EventsTable = "events"
	}
	return &EventsProcessor{
		exec:    exec,
		logger:  logger,
		metrics: m,
		config:  config,
	}
}

// decorate bounds person and group fragments to rows written before the
// request was created. Rows written afterwards are new, legitimate data:
// the mutation must not remove them and verification must not wait on them.
// Tenant-wide removal is absolute and carries no bound.
func (p *EventsProcessor) decorate(r Request, idx int, fragment string, args map[string]any) string {
	if r.Type != TypePerson && r.Type != TypeGroup {
		return fragment
	}
	arg := argName("created_at", idx)
	args[arg] = r.CreatedAt
	return fmt.Sprintf("%s AND %s < :%s", fragment, eventTimestampColumn, arg)
}

// Process issues one bulk mutation against the fact table for the whole
// batch, and, when the batch contains tenant-wide requests, one mutation per
// satellite table restricted to that subset.
func (p *EventsProcessor) Process(ctx context.Context, requests []Request) error {
	built := buildGroupPredicate(requests, p.logger, p.metrics, p.decorate)
	if built.empty() {
		return nil
	}

	var errs []error
	if err := issueMutation(ctx, p.exec, p.logger, p.metrics, p.config.EventsTable, built.predicate, built.args); err != nil {
		errs = append(errs, err)
	}

	var teamRequests []Request
	for _, r := range built.contributing {
		if r.Type == TypeTeam {
			teamRequests = append(teamRequests, r)
		}
	}
	if len(teamRequests) > 0 {
		// Rebuilt so argument indexes stay dense for the subset.
		teamPredicate := buildGroupPredicate(teamRequests, p.logger, p.metrics, nil)
		for _, table := range p.config.SatelliteTables {
			if err := issueMutation(ctx, p.exec, p.logger, p.metrics, table, teamPredicate.predicate, teamPredicate.args); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// VerifyGroup scans the fact table for residual rows under the combined
// predicate and returns the requests whose tuple is absent from the result.
// Satellite tables are not re-checked: their deletion is unconditional and
// tenant-level, not predicate-dependent.
func (p *EventsProcessor) VerifyGroup(ctx context.Context, requests []Request) ([]Request, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	built := buildGroupPredicate(requests, p.logger, p.metrics, p.decorate)
	if built.empty() {
		return nil, nil
	}

	typ := built.contributing[0].GroupKey().Type
	columns, err := p.verificationColumns(built.contributing[0])
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s", strings.Join(columns, ", "), p.config.EventsTable, built.predicate)
	rows, err := p.exec.ExecuteQuery(ctx, query, built.args)
	if err != nil {
		return nil, fmt.Errorf("verification scan on %s: %w", p.config.EventsTable, err)
	}

	residual := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		teamID, ok := columnar.AsInt64(row[0])
		if !ok {
			continue
		}
		key := strconv.FormatInt(teamID, 10)
		if typ != TypeTeam && len(row) > 1 {
			key += "\x00" + columnar.AsString(row[1])
		}
		residual[key] = struct{}{}
	}

	var verified []Request
	for _, r := range built.contributing {
		key := strconv.FormatInt(r.TeamID, 10)
		if typ != TypeTeam {
			key += "\x00" + r.Key
		}
		if _, stillPresent := residual[key]; !stillPresent {
			verified = append(verified, r)
		}
	}
	return verified, nil
}

func (p *EventsProcessor) verificationColumns(r Request) ([]string, error) {
	switch r.Type {
	case TypeTeam:
		return []string{"team_id"}, nil
	case TypePerson:
		return []string{"team_id", "person_id"}, nil
	case TypeGroup:
		if r.GroupTypeIndex == nil {
			return nil, fmt.Errorf("%w: group request %s has no group type index", ErrMalformedKey, r.ID)
		}
		return []string{"team_id", GroupColumn(*r.GroupTypeIndex)}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrNoProcessor, r.Type)
	}
}
