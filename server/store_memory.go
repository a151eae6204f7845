package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/waveline-labs/chatflow/flow"
)

// MemoryStore is an in-memory FlowStore for tests and the default serve
// mode when no SQLite path is given. Flows are returned in creation order.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[string]flow.Flow
	order []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string]flow.Flow)}
}

func (s *MemoryStore) List(_ context.Context) ([]flow.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]flow.Flow, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.flows[id])
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (flow.Flow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[id]
	return f, ok, nil
}

func (s *MemoryStore) Create(_ context.Context, f flow.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[f.ID]; exists {
		return fmt.Errorf("%w: %s", ErrFlowExists, f.ID)
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	s.flows[f.ID] = f
	s.order = append(s.order, f.ID)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, f flow.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.flows[f.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, f.ID)
	}
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now().UTC()
	s.flows[f.ID] = f
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	delete(s.flows, id)
	for i, fid := range s.order {
		if fid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

var _ FlowStore = (*MemoryStore)(nil)
