package repository

import (
	"context"
	"sync"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
)

// MemoryResultStore keeps runner results in process. Used for dry runs and the simulator.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string][]*models.RunnerResult
}

var _ domrepo.ResultStore = (*MemoryResultStore)(nil)

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[string][]*models.RunnerResult)}
}

func (s *MemoryResultStore) Init(context.Context) error   { return nil }
func (s *MemoryResultStore) Health(context.Context) error { return nil }
func (s *MemoryResultStore) Close() error                 { return nil }

func (s *MemoryResultStore) SaveRunner(_ context.Context, r *models.RunnerResult) error {
	s.mu.Lock()
	s.results[r.MarketID] = append(s.results[r.MarketID], r)
	s.mu.Unlock()
	return nil
}

// Market returns the results saved for a market, in save order.
func (s *MemoryResultStore) Market(marketID string) []*models.RunnerResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RunnerResult, len(s.results[marketID]))
	copy(out, s.results[marketID])
	return out
}
