package columnar

import (
	"context"
	"sync"
)

// Mutation records a single ExecuteMutation call against the mock.
type Mutation struct {
	Table     string
	Predicate string
	Args      map[string]any
}

// QueryCall records a single ExecuteQuery call against the mock.
type QueryCall struct {
	Query string
	Args  map[string]any
}

type queuedResponse struct {
	rows []Row
	err  error
}

// MockExecutor implements Executor for testing.
// It records mutations and serves scripted query responses in FIFO order.
// It is exported so that tests in other packages can use it.
type MockExecutor struct {
	mu          sync.Mutex
	mutations   []Mutation
	queries     []QueryCall
	responses   []queuedResponse
	mutErrs     map[string]error
	mutationErr error
}

// NewMockExecutor creates a new MockExecutor for testing.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		mutErrs: map[string]error{},
	}
}

func (m *MockExecutor) ExecuteMutation(_ context.Context, table string, predicate string, args map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.mutErrs[table]; ok {
		return err
	}
	if m.mutationErr != nil {
		return m.mutationErr
	}
	m.mutations = append(m.mutations, Mutation{Table: table, Predicate: predicate, Args: args})
	return nil
}

func (m *MockExecutor) ExecuteQuery(_ context.Context, query string, args map[string]any, _ ...QueryOption) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, QueryCall{Query: query, Args: args})

	if len(m.responses) == 0 {
		return nil, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp.rows, resp.err
}

// EnqueueResult scripts the result rows for the next query.
func (m *MockExecutor) EnqueueResult(rows []Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, queuedResponse{rows: rows})
}

// EnqueueError scripts a failure for the next query.
func (m *MockExecutor) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, queuedResponse{err: err})
}

// FailMutationsOn makes every mutation against table return err.
func (m *MockExecutor) FailMutationsOn(table string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutErrs[table] = err
}

// FailAllMutations makes every mutation return err.
func (m *MockExecutor) FailAllMutations(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutationErr = err
}

// Mutations returns a copy of the recorded mutations.
func (m *MockExecutor) Mutations() []Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Mutation, len(m.mutations))
	copy(out, m.mutations)
	return out
}

// MutationsFor returns the recorded mutations against a single table.
func (m *MockExecutor) MutationsFor(table string) []Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Mutation
	for _, mut := range m.mutations {
		if mut.Table == table {
			out = append(out, mut)
		}
	}
	return out
}

// Queries returns a copy of the recorded query calls.
func (m *MockExecutor) Queries() []QueryCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueryCall, len(m.queries))
	copy(out, m.queries)
	return out
}
