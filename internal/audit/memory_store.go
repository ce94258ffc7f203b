package audit

import (
	"context"
	"sync"

	"github.com/settlr/fraud-service/internal/decision"
	"github.com/settlr/fraud-service/internal/rules"
)

// MemoryStore is an in-memory Store for tests and database-less deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*decision.Decision
	byEntity map[string][]*decision.Decision
}

// NewMemoryStore creates an in-memory decision store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*decision.Decision),
		byEntity: make(map[string][]*decision.Decision),
	}
}

func (s *MemoryStore) Record(ctx context.Context, dec *decision.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneDecision(dec)
	s.byID[cp.ID] = cp
	s.byEntity[cp.EntityID] = append(s.byEntity[cp.EntityID], cp)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*decision.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dec, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneDecision(dec), nil
}

func (s *MemoryStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]*decision.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byEntity[entityID]
	if len(all) == 0 {
		return nil, nil
	}

	start := len(all) - limit
	if limit <= 0 || start < 0 {
		start = 0
	}

	// Most recent first.
	result := make([]*decision.Decision, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, cloneDecision(all[i]))
	}
	return result, nil
}

func cloneDecision(dec *decision.Decision) *decision.Decision {
	cp := *dec
	cp.Score.Contributions = append([]rules.Contribution(nil), dec.Score.Contributions...)
	cp.Score.Flags = append([]string(nil), dec.Score.Flags...)
	return &cp
}
