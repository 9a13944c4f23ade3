package autonomy

import (
	"context"
	"sync"
)

// Store persists per-user autonomy settings. Implementations must return the
// merged-with-defaults settings from Get and must re-validate merged results
// before persisting updates.
type Store interface {
	// Get returns the user's settings, creating defaults on first use.
	Get(ctx context.Context, userID string) (*Settings, error)

	// Update applies a partial update, validates the merged result, persists
	// it, and returns the new settings.
	Update(ctx context.Context, userID string, patch Patch) (*Settings, error)

	// Reset replaces the given section (or the whole settings when section is
	// SectionAll) with the named preset's values. An empty preset name means
	// the default preset.
	Reset(ctx context.Context, userID string, preset string, section Section) (*Settings, error)
}

// MemoryStore is an in-process Store used in tests and single-node setups
type MemoryStore struct {
	mu       sync.Mutex
	settings map[string]*Settings
}

// NewMemoryStore creates an empty in-memory settings store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings: make(map[string]*Settings),
	}
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, userID string) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.settings[userID]
	if !ok {
		current = DefaultSettings()
		s.settings[userID] = current
	}

	return current.Clone(), nil
}

// Update implements Store
func (s *MemoryStore) Update(_ context.Context, userID string, patch Patch) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.settings[userID]
	if !ok {
		current = DefaultSettings()
	}

	merged := patch.Apply(current)
	if err := Validate(merged); err != nil {
		return nil, err
	}

	s.settings[userID] = merged
	return merged.Clone(), nil
}

// Reset implements Store
func (s *MemoryStore) Reset(_ context.Context, userID string, preset string, section Section) (*Settings, error) {
	target, err := Preset(preset)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.settings[userID]
	if !ok {
		current = DefaultSettings()
	}

	merged, err := ResetSection(current, target, section)
	if err != nil {
		return nil, err
	}

	s.settings[userID] = merged
	return merged.Clone(), nil
}
