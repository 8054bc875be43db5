package deletion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scrub-io/scrub/internal/columnar"
	"github.com/scrub-io/scrub/internal/logging"
	"github.com/scrub-io/scrub/internal/metrics"
)

func newTestMetrics() *metrics.PipelineMetrics {
	return metrics.NewPipelineMetricsWithRegistry(prometheus.NewRegistry())
}

func TestEventsProcessor_Process_CombinesPredicates(t *testing.T) {
	exec := columnar.NewMockExecutor()
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{})
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	requests := []Request{
		{ID: uuid.New(), Type: TypePerson, TeamID: 7, Key: "u1", CreatedAt: created},
		{ID: uuid.New(), Type: TypePerson, TeamID: 7, Key: "u2", CreatedAt: created},
	}

	if err := p.Process(context.Background(), requests); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	mutations := exec.Mutations()
	if len(mutations) != 1 {
		t.Fatalf("expected 1 mutation, got %d", len(mutations))
	}
	m := mutations[0]
	if m.Table != "events" {
		t.Errorf("expected mutation on events, got %s", m.Table)
	}
	if !strings.Contains(m.Predicate, ") OR (") {
		t.Errorf("expected OR-combined predicate, got %q", m.Predicate)
	}
	if !strings.Contains(m.Predicate, "_timestamp < :created_at_0") {
		t.Errorf("person predicate must carry the creation-time bound, got %q", m.Predicate)
	}
	if m.Args["created_at_0"] != created {
		t.Errorf("expected created_at arg, got %v", m.Args["created_at_0"])
	}
}

func TestEventsProcessor_Process_TeamSweepsSatelliteTables(t *testing.T) {
	exec := columnar.NewMockExecutor()
	satellites := []string{"persons", "person_distinct_ids"}
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{
		SatelliteTables: satellites,
	})

	requests := []Request{
		{ID: uuid.New(), Type: TypeTeam, TeamID: 3},
		{ID: uuid.New(), Type: TypeTeam, TeamID: 4},
	}

	if err := p.Process(context.Background(), requests); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	mutations := exec.Mutations()
	if len(mutations) != 1+len(satellites) {
		t.Fatalf("expected fact table plus satellite mutations, got %d", len(mutations))
	}
	// Satellite order is fixed.
	if mutations[1].Table != "persons" || mutations[2].Table != "person_distinct_ids" {
		t.Errorf("satellite tables out of order: %s, %s", mutations[1].Table, mutations[2].Table)
	}
	for _, m := range mutations {
		if strings.Contains(m.Predicate, "_timestamp") {
			t.Errorf("tenant-wide predicate must not be time-bounded: %q", m.Predicate)
		}
	}
}

func TestEventsProcessor_Process_TeamSubsetOnlyOnSatellites(t *testing.T) {
	exec := columnar.NewMockExecutor()
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{
		SatelliteTables: []string{"persons"},
	})

	// Mixed batches reach the processor only when a caller bypasses the
	// coordinator's grouping; the satellite sweep still restricts itself
	// to the tenant-wide subset.
	requests := []Request{
		{ID: uuid.New(), Type: TypeTeam, TeamID: 3},
		{ID: uuid.New(), Type: TypePerson, TeamID: 9, Key: "px", CreatedAt: time.Now()},
	}

	if err := p.Process(context.Background(), requests); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	satMutations := exec.MutationsFor("persons")
	if len(satMutations) != 1 {
		t.Fatalf("expected 1 satellite mutation, got %d", len(satMutations))
	}
	if strings.Contains(satMutations[0].Predicate, "person_id") {
		t.Errorf("satellite sweep must only carry tenant-wide conditions, got %q", satMutations[0].Predicate)
	}
	if satMutations[0].Args["team_id_0"] != int64(3) {
		t.Errorf("expected team 3 in satellite args, got %v", satMutations[0].Args)
	}
}

func TestEventsProcessor_Process_ToleratesStoreTimeout(t *testing.T) {
	exec := columnar.NewMockExecutor()
	exec.FailAllMutations(columnar.ErrTimeout)
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{})

	requests := []Request{{ID: uuid.New(), Type: TypeTeam, TeamID: 1}}
	if err := p.Process(context.Background(), requests); err != nil {
		t.Fatalf("store timeout on a bulk mutation must not fail the group: %v", err)
	}
}

func TestEventsProcessor_Process_PropagatesStoreErrors(t *testing.T) {
	exec := columnar.NewMockExecutor()
	storeErr := errors.New("store exploded")
	exec.FailAllMutations(storeErr)
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{})

	requests := []Request{{ID: uuid.New(), Type: TypePerson, TeamID: 1, Key: "p", CreatedAt: time.Now()}}
	if err := p.Process(context.Background(), requests); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestEventsProcessor_Process_SkipsMalformedGroupRequest(t *testing.T) {
	exec := columnar.NewMockExecutor()
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{})

	requests := []Request{
		{ID: uuid.New(), Type: TypeGroup, TeamID: 1, Key: "no-index"},
		{ID: uuid.New(), Type: TypeGroup, TeamID: 1, GroupTypeIndex: intPtr(0), Key: "ok", CreatedAt: time.Now()},
	}

	if err := p.Process(context.Background(), requests); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	mutations := exec.Mutations()
	if len(mutations) != 1 {
		t.Fatalf("expected 1 mutation, got %d", len(mutations))
	}
	if strings.Contains(mutations[0].Predicate, "OR") {
		t.Errorf("malformed request must not contribute a fragment: %q", mutations[0].Predicate)
	}
}

func TestEventsProcessor_VerifyGroup_PersonTupleAbsence(t *testing.T) {
	exec := columnar.NewMockExecutor()
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{})
	created := time.Now()

	gone := Request{ID: uuid.New(), Type: TypePerson, TeamID: 7, Key: "u1", CreatedAt: created}
	present := Request{ID: uuid.New(), Type: TypePerson, TeamID: 7, Key: "u2", CreatedAt: created}

	// u2 still has residual rows.
	exec.EnqueueResult([]columnar.Row{{int64(7), "u2"}})

	verified, err := p.VerifyGroup(context.Background(), []Request{gone, present})
	if err != nil {
		t.Fatalf("VerifyGroup failed: %v", err)
	}
	if len(verified) != 1 || verified[0].ID != gone.ID {
		t.Fatalf("expected only the absent tuple verified, got %v", verified)
	}

	queries := exec.Queries()
	if len(queries) != 1 {
		t.Fatalf("expected 1 verification query, got %d", len(queries))
	}
	if !strings.HasPrefix(queries[0].Query, "SELECT DISTINCT team_id, person_id FROM events WHERE ") {
		t.Errorf("unexpected verification query %q", queries[0].Query)
	}
	if !strings.Contains(queries[0].Query, "_timestamp < :created_at_0") {
		t.Errorf("verification must respect the creation-time boundary, got %q", queries[0].Query)
	}
}

func TestEventsProcessor_VerifyGroup_TeamChecksFactTableOnly(t *testing.T) {
	exec := columnar.NewMockExecutor()
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{
		SatelliteTables: []string{"persons"},
	})

	r := Request{ID: uuid.New(), Type: TypeTeam, TeamID: 3}
	exec.EnqueueResult(nil)

	verified, err := p.VerifyGroup(context.Background(), []Request{r})
	if err != nil {
		t.Fatalf("VerifyGroup failed: %v", err)
	}
	if len(verified) != 1 {
		t.Fatalf("expected the team request verified, got %v", verified)
	}

	queries := exec.Queries()
	if len(queries) != 1 {
		t.Fatalf("satellite tables must not be re-checked, got %d queries", len(queries))
	}
	if !strings.HasPrefix(queries[0].Query, "SELECT DISTINCT team_id FROM events") {
		t.Errorf("unexpected verification query %q", queries[0].Query)
	}
}

func TestEventsProcessor_VerifyGroup_TenantIsolation(t *testing.T) {
	exec := columnar.NewMockExecutor()
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{})
	created := time.Now()

	// Same person key exists under team 2; only team 1's request is in
	// the batch, so team 2's residual row must not block it.
	r := Request{ID: uuid.New(), Type: TypePerson, TeamID: 1, Key: "p1", CreatedAt: created}
	exec.EnqueueResult([]columnar.Row{{int64(2), "p1"}})

	verified, err := p.VerifyGroup(context.Background(), []Request{r})
	if err != nil {
		t.Fatalf("VerifyGroup failed: %v", err)
	}
	if len(verified) != 1 || verified[0].ID != r.ID {
		t.Fatalf("a different tenant's rows must not block verification, got %v", verified)
	}
}

func TestEventsProcessor_VerifyGroup_ScanErrorAbortsGroup(t *testing.T) {
	exec := columnar.NewMockExecutor()
	p := NewEventsProcessor(exec, logging.Nop(), newTestMetrics(), EventsProcessorConfig{})

	scanErr := errors.New("connection refused")
	exec.EnqueueError(scanErr)

	r := Request{ID: uuid.New(), Type: TypeTeam, TeamID: 3}
	if _, err := p.VerifyGroup(context.Background(), []Request{r}); !errors.Is(err, scanErr) {
		t.Fatalf("expected scan error to propagate, got %v", err)
	}
}
