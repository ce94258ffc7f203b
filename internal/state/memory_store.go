package state

import (
	"context"
	"sync"
)

// MemoryBackingStore is an in-memory BackingStore for tests and single-node
// deployments without a database.
type MemoryBackingStore struct {
	mu     sync.RWMutex
	states map[string]*EntityState
}

// NewMemoryBackingStore creates an in-memory backing store.
func NewMemoryBackingStore() *MemoryBackingStore {
	return &MemoryBackingStore{states: make(map[string]*EntityState)}
}

func (m *MemoryBackingStore) Load(ctx context.Context, entityID string) (*EntityState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[entityID]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (m *MemoryBackingStore) Save(ctx context.Context, entityID string, state *EntityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[entityID] = state.Clone()
	return nil
}
