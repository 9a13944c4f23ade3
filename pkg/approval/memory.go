package approval

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and single-node setups.
// The mutex makes every transition a single serializable operation.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory approval store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Create implements Store
func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *rec
	return &clone, nil
}

// Transition implements Store
func (s *MemoryStore) Transition(_ context.Context, id string, to Status, decidedAt time.Time, errorMessage string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending {
		return nil, ErrAlreadyDecided
	}

	rec.Status = to
	rec.DecidedAt = &decidedAt
	if errorMessage != "" {
		rec.ErrorMessage = errorMessage
	}

	clone := *rec
	return &clone, nil
}

// SetResult implements Store
func (s *MemoryStore) SetResult(_ context.Context, id string, result interface{}, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}

	rec.Result = result
	rec.ErrorMessage = errorMessage
	return nil
}

// ListPending implements Store
func (s *MemoryStore) ListPending(_ context.Context, userID string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := []*Record{}
	for _, rec := range s.records {
		if rec.UserID == userID && rec.Status == StatusPending {
			clone := *rec
			pending = append(pending, &clone)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})

	return pending, nil
}

// ExpireOverdue implements Store
func (s *MemoryStore) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, rec := range s.records {
		if rec.Overdue(now) {
			rec.Status = StatusExpired
			decidedAt := now
			rec.DecidedAt = &decidedAt
			expired++
		}
	}

	return expired, nil
}
