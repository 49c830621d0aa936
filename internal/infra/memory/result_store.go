package memory

import (
	"context"
	"sync"

	"skillquiz-service/internal/domain"
)

// ResultStore keeps saved results in memory when no database is configured.
type ResultStore struct {
	mu      sync.RWMutex
	results []domain.SkillResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{}
}

func (s *ResultStore) SaveSkillResult(_ context.Context, result domain.SkillResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.WeakAreas = append([]string(nil), result.WeakAreas...)
	s.results = append(s.results, result)
	return nil
}

// ForUser returns the saved results of one user, oldest first.
func (s *ResultStore) ForUser(userID string) []domain.SkillResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SkillResult
	for _, r := range s.results {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}
