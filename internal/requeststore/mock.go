package requeststore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrub-io/scrub/internal/deletion"
)

// MockStore implements Store in memory for testing.
// It is exported so that tests in other packages can use it.
type MockStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]deletion.Request
	order    []uuid.UUID
	listErr  error
	markErr  error
}

// NewMockStore creates a new MockStore for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		requests: make(map[uuid.UUID]deletion.Request),
	}
}

// Add inserts a request, assigning an id if unset.
func (m *MockStore) Add(r deletion.Request) deletion.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if _, exists := m.requests[r.ID]; !exists {
		m.order = append(m.order, r.ID)
	}
	m.requests[r.ID] = r
	return r
}

// Get returns a request by id.
func (m *MockStore) Get(id uuid.UUID) (deletion.Request, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	return r, ok
}

// FailList makes ListUnverified and CountUnverified return err.
func (m *MockStore) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailMark makes MarkVerified return err.
func (m *MockStore) FailMark(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markErr = err
}

func (m *MockStore) ListUnverified(_ context.Context) ([]deletion.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []deletion.Request
	for _, id := range m.order {
		r := m.requests[id]
		if r.DeleteVerifiedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockStore) MarkVerified(_ context.Context, ids []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.markErr != nil {
		return m.markErr
	}

	for _, id := range ids {
		r, ok := m.requests[id]
		if !ok || r.DeleteVerifiedAt != nil {
			continue
		}
		stamp := at
		r.DeleteVerifiedAt = &stamp
		m.requests[id] = r
	}
	return nil
}

func (m *MockStore) CountUnverified(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return 0, m.listErr
	}

	count := 0
	for _, r := range m.requests {
		if r.DeleteVerifiedAt == nil {
			count++
		}
	}
	return count, nil
}
