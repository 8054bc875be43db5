package deletion

import (
	"context"
	"fmt"
	"strconv"

	"github.com/scrub-io/scrub/internal/columnar"
	"github.com/scrub-io/scrub/internal/logging"
	"github.com/scrub-io/scrub/internal/metrics"
)

// CohortProcessorConfig configures the cohort membership processor.
type CohortProcessorConfig struct {
	// CohortTable is the cohort membership table.
	// Default: "cohort_memberships"
	CohortTable string
}

// CohortProcessor handles full and stale cohort membership deletions.
// It only ever touches the membership table.
type CohortProcessor struct {
	exec    columnar.Executor
	logger  *logging.Logger
	metrics *metrics.PipelineMetrics
	config  CohortProcessorConfig
}

// NewCohortProcessor creates a processor for cohort membership deletions.
func NewCohortProcessor(exec columnar.Executor, logger *logging.Logger, m *metrics.PipelineMetrics, config CohortProcessorConfig) *CohortProcessor {
	if config.CohortTable == "" {
		config.CohortTable = "cohort_memberships"
	}
	return &CohortProcessor{
		exec:    exec,
		logger:  logger,
		metrics: m,
		config:  config,
	}
}

// Process issues one bulk mutation against the membership table for the
// whole batch. Stale requests carry the version boundary in their predicate,
// so superseded snapshot rows go and current ones stay.
func (p *CohortProcessor) Process(ctx context.Context, requests []Request) error {
	built := buildGroupPredicate(requests, p.logger, p.metrics, nil)
	if built.empty() {
		return nil
	}
	return issueMutation(ctx, p.exec, p.logger, p.metrics, p.config.CohortTable, built.predicate, built.args)
}

// VerifyGroup selects the distinct (team_id, cohort_id) pairs still matching
// the combined predicate. Version is deliberately ignored in the projection:
// the predicate already restricts stale requests to rows below their target
// version, so newer snapshot rows never block verification.
func (p *CohortProcessor) VerifyGroup(ctx context.Context, requests []Request) ([]Request, error) {
	built := buildGroupPredicate(requests, p.logger, p.metrics, nil)
	if built.empty() {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT DISTINCT team_id, cohort_id FROM %s WHERE %s", p.config.CohortTable, built.predicate)
	rows, err := p.exec.ExecuteQuery(ctx, query, built.args)
	if err != nil {
		return nil, fmt.Errorf("verification scan on %s: %w", p.config.CohortTable, err)
	}

	residual := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		teamID, ok := columnar.AsInt64(row[0])
		if !ok || len(row) < 2 {
			continue
		}
		cohortID, ok := columnar.AsInt64(row[1])
		if !ok {
			continue
		}
		residual[cohortTuple(teamID, cohortID)] = struct{}{}
	}

	var verified []Request
	for _, r := range built.contributing {
		cohortID, _, err := ParseCohortKey(r.Key)
		if err != nil {
			continue
		}
		if _, stillPresent := residual[cohortTuple(r.TeamID, cohortID)]; !stillPresent {
			verified = append(verified, r)
		}
	}
	return verified, nil
}

func cohortTuple(teamID, cohortID int64) string {
	return strconv.FormatInt(teamID, 10) + "\x00" + strconv.FormatInt(cohortID, 10)
}
