package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps lock records in process memory. Suitable for
// single-instance deployments and tests; multi-instance deployments
// use the Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory lock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Acquire implements Store with a mutex as the atomic check-and-set.
func (m *MemoryStore) Acquire(_ context.Context, rec Record) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[rec.OwnerID]
	reclaimed := false
	if ok {
		if !existing.Expired(m.now()) {
			return &existing, false, nil
		}
		reclaimed = true
	}

	m.records[rec.OwnerID] = rec
	return nil, reclaimed, nil
}

// Release implements Store. Absent, expired or foreign records are
// left alone without error.
func (m *MemoryStore) Release(_ context.Context, ownerID, operationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[ownerID]
	if !ok || existing.OperationID != operationID {
		return nil
	}
	delete(m.records, ownerID)
	return nil
}

// Get implements Store. Expired records read as absent.
func (m *MemoryStore) Get(_ context.Context, ownerID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[ownerID]
	if !ok || existing.Expired(m.now()) {
		return nil, nil
	}
	return &existing, nil
}
