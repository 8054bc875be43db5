package integration

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scrub-io/scrub/internal/columnar/sqlite"
	"github.com/scrub-io/scrub/internal/deletion"
	"github.com/scrub-io/scrub/internal/logging"
	"github.com/scrub-io/scrub/internal/metrics"
	"github.com/scrub-io/scrub/internal/requeststore"
)

const eventsSchema = `
	CREATE TABLE events (
		team_id INTEGER NOT NULL,
		person_id TEXT,
		group_0_key TEXT,
		_timestamp INTEGER NOT NULL
	);
	CREATE TABLE person_distinct_ids (team_id INTEGER NOT NULL, distinct_id TEXT);
	CREATE TABLE persons (team_id INTEGER NOT NULL, id TEXT);
	CREATE TABLE cohort_memberships (
		team_id INTEGER NOT NULL,
		cohort_id INTEGER NOT NULL,
		person_id TEXT,
		version INTEGER NOT NULL
	);
`

type harness struct {
	store       *sqlite.Store
	requests    *requeststore.MockStore
	coordinator *deletion.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.DB().Exec(eventsSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	requests := requeststore.NewMockStore()
	logger := logging.Nop()
	m := metrics.NewPipelineMetricsWithRegistry(prometheus.NewRegistry())

	events := deletion.NewEventsProcessor(store, logger, m, deletion.EventsProcessorConfig{
		SatelliteTables: []string{"person_distinct_ids", "persons"},
	})
	cohorts := deletion.NewCohortProcessor(store, logger, m, deletion.CohortProcessorConfig{})
	custom := deletion.NewCustomProcessor(store, logger, m, deletion.CustomProcessorConfig{})

	coordinator := deletion.NewCoordinator(requests, map[deletion.Type]deletion.Processor{
		deletion.TypeTeam:        events,
		deletion.TypePerson:      events,
		deletion.TypeGroup:       events,
		deletion.TypeCohortFull:  cohorts,
		deletion.TypeCohortStale: cohorts,
		deletion.TypeCustom:      custom,
	}, logger, m, deletion.CoordinatorConfig{})

	return &harness{store: store, requests: requests, coordinator: coordinator}
}

func (h *harness) insertEvent(t *testing.T, teamID int64, personID string, ts time.Time) {
	t.Helper()
	_, err := h.store.DB().Exec(
		"INSERT INTO events (team_id, person_id, _timestamp) VALUES (?, ?, ?)",
		teamID, personID, ts.UnixMilli(),
	)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func (h *harness) insertMembership(t *testing.T, teamID, cohortID int64, personID string, version int64) {
	t.Helper()
	_, err := h.store.DB().Exec(
		"INSERT INTO cohort_memberships (team_id, cohort_id, person_id, version) VALUES (?, ?, ?, ?)",
		teamID, cohortID, personID, version,
	)
	if err != nil {
		t.Fatalf("insert membership: %v", err)
	}
}

func (h *harness) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := h.store.DB().QueryRow("SELECT count(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func (h *harness) verifiedAt(t *testing.T, r deletion.Request) *time.Time {
	t.Helper()
	got, ok := h.requests.Get(r.ID)
	if !ok {
		t.Fatalf("request %s disappeared", r.ID)
	}
	return got.DeleteVerifiedAt
}

// TestPersonDeletionLifecycle walks a person deletion through the full
// pipeline: mutation issued, store merge delayed, verification held back
// until the merge lands, and rows written after the request left untouched.
func TestPersonDeletionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	requestedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		h.insertEvent(t, 7, "u42", requestedAt.Add(-time.Duration(i+1)*time.Hour))
	}
	// Written after the request: new, legitimate data.
	h.insertEvent(t, 7, "u42", requestedAt.Add(time.Hour))

	r := h.requests.Add(deletion.Request{
		Type: deletion.TypePerson, TeamID: 7, Key: "u42", CreatedAt: requestedAt,
	})

	if err := h.coordinator.RunProcess(ctx); err != nil {
		t.Fatalf("RunProcess failed: %v", err)
	}
	// The store accepted the mutation but has not applied it.
	if got := h.countRows(t, "events"); got != 4 {
		t.Fatalf("rows must survive until the store merges, got %d", got)
	}

	if err := h.coordinator.RunVerify(ctx); err != nil {
		t.Fatalf("RunVerify failed: %v", err)
	}
	if h.verifiedAt(t, r) != nil {
		t.Fatalf("verification must not pass while residual rows exist")
	}

	if err := h.store.MergePending(ctx); err != nil {
		t.Fatalf("MergePending failed: %v", err)
	}
	if got := h.countRows(t, "events"); got != 1 {
		t.Fatalf("merge must remove only pre-request rows, got %d", got)
	}

	if err := h.coordinator.RunVerify(ctx); err != nil {
		t.Fatalf("RunVerify failed: %v", err)
	}
	if h.verifiedAt(t, r) == nil {
		t.Fatalf("post-request rows must not block verification")
	}
}

// TestTeamDeletionSweepsSatellites verifies a tenant-wide request removes
// rows from the fact table and every satellite table, for that tenant only.
func TestTeamDeletionSweepsSatellites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.insertEvent(t, 3, "a", time.Now())
	h.insertEvent(t, 4, "b", time.Now())
	for _, stmt := range []string{
		"INSERT INTO person_distinct_ids (team_id, distinct_id) VALUES (3, 'a'), (4, 'b')",
		"INSERT INTO persons (team_id, id) VALUES (3, 'a'), (4, 'b')",
	} {
		if _, err := h.store.DB().Exec(stmt); err != nil {
			t.Fatalf("seed satellite: %v", err)
		}
	}

	r := h.requests.Add(deletion.Request{Type: deletion.TypeTeam, TeamID: 3})

	if err := h.coordinator.RunProcess(ctx); err != nil {
		t.Fatalf("RunProcess failed: %v", err)
	}
	if err := h.store.MergePending(ctx); err != nil {
		t.Fatalf("MergePending failed: %v", err)
	}

	for _, table := range []string{"events", "person_distinct_ids", "persons"} {
		if got := h.countRows(t, table); got != 1 {
			t.Errorf("%s: expected only team 4's row to survive, got %d rows", table, got)
		}
	}

	if err := h.coordinator.RunVerify(ctx); err != nil {
		t.Fatalf("RunVerify failed: %v", err)
	}
	if h.verifiedAt(t, r) == nil {
		t.Fatalf("team request should verify once the fact table is clean")
	}
}

// TestStaleCohortKeepsCurrentVersion verifies the version boundary: stale
// snapshot rows go, rows at or above the target version stay, and the
// surviving rows never block verification.
func TestStaleCohortKeepsCurrentVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.insertMembership(t, 5, 12, "p1", 7)
	h.insertMembership(t, 5, 12, "p1", 8)
	h.insertMembership(t, 5, 12, "p1", 9)

	r := h.requests.Add(deletion.Request{Type: deletion.TypeCohortStale, TeamID: 5, Key: "12_9"})

	if err := h.coordinator.RunProcess(ctx); err != nil {
		t.Fatalf("RunProcess failed: %v", err)
	}
	if err := h.store.MergePending(ctx); err != nil {
		t.Fatalf("MergePending failed: %v", err)
	}
	if got := h.countRows(t, "cohort_memberships"); got != 1 {
		t.Fatalf("only the current snapshot must survive, got %d rows", got)
	}

	if err := h.coordinator.RunVerify(ctx); err != nil {
		t.Fatalf("RunVerify failed: %v", err)
	}
	if h.verifiedAt(t, r) == nil {
		t.Fatalf("the surviving current version must not block verification")
	}
}

// TestTenantIsolation verifies a deletion for one tenant never touches an
// identical key under another tenant.
func TestTenantIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := time.Now()
	h.insertEvent(t, 1, "shared", created.Add(-time.Hour))
	h.insertEvent(t, 2, "shared", created.Add(-time.Hour))

	r := h.requests.Add(deletion.Request{
		Type: deletion.TypePerson, TeamID: 1, Key: "shared", CreatedAt: created,
	})

	if err := h.coordinator.RunProcess(ctx); err != nil {
		t.Fatalf("RunProcess failed: %v", err)
	}
	if err := h.store.MergePending(ctx); err != nil {
		t.Fatalf("MergePending failed: %v", err)
	}

	var survivors int
	if err := h.store.DB().QueryRow("SELECT count(*) FROM events WHERE team_id = 2").Scan(&survivors); err != nil {
		t.Fatalf("count survivors: %v", err)
	}
	if survivors != 1 {
		t.Fatalf("team 2's rows must be untouched, got %d", survivors)
	}

	if err := h.coordinator.RunVerify(ctx); err != nil {
		t.Fatalf("RunVerify failed: %v", err)
	}
	if h.verifiedAt(t, r) == nil {
		t.Fatalf("another tenant's identical key must not block verification")
	}
}

// TestRepeatedPassesAreIdempotent verifies overlapping or repeated pipeline
// passes converge on the same state: a second process pass re-issues the
// same predicate harmlessly and a verified stamp is never overwritten.
func TestRepeatedPassesAreIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := time.Now()
	h.insertEvent(t, 1, "p", created.Add(-time.Hour))

	r := h.requests.Add(deletion.Request{
		Type: deletion.TypePerson, TeamID: 1, Key: "p", CreatedAt: created,
	})

	if err := h.coordinator.RunProcess(ctx); err != nil {
		t.Fatalf("first RunProcess failed: %v", err)
	}
	if err := h.coordinator.RunProcess(ctx); err != nil {
		t.Fatalf("second RunProcess failed: %v", err)
	}
	if err := h.store.MergePending(ctx); err != nil {
		t.Fatalf("MergePending failed: %v", err)
	}

	if err := h.coordinator.RunVerify(ctx); err != nil {
		t.Fatalf("RunVerify failed: %v", err)
	}
	first := h.verifiedAt(t, r)
	if first == nil {
		t.Fatalf("request should be verified")
	}

	if err := h.coordinator.RunVerify(ctx); err != nil {
		t.Fatalf("repeat RunVerify failed: %v", err)
	}
	if second := h.verifiedAt(t, r); !first.Equal(*second) {
		t.Fatalf("delete_verified_at must be set once: %v vs %v", first, second)
	}
}

// TestCustomPredicateLifecycle verifies a raw-predicate request deletes
// exactly the matching rows and verifies via the count scan.
func TestCustomPredicateLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.insertEvent(t, 1, "keep", time.Now())
	h.insertEvent(t, 1, "drop", time.Now())

	r := h.requests.Add(deletion.Request{
		Type: deletion.TypeCustom, TeamID: 1, Key: "person_id = 'drop'",
	})

	if err := h.coordinator.RunProcess(ctx); err != nil {
		t.Fatalf("RunProcess failed: %v", err)
	}
	if err := h.store.MergePending(ctx); err != nil {
		t.Fatalf("MergePending failed: %v", err)
	}
	if got := h.countRows(t, "events"); got != 1 {
		t.Fatalf("only matching rows must go, got %d", got)
	}

	if err := h.coordinator.RunVerify(ctx); err != nil {
		t.Fatalf("RunVerify failed: %v", err)
	}
	if h.verifiedAt(t, r) == nil {
		t.Fatalf("custom request should verify once its predicate matches nothing")
	}
}
