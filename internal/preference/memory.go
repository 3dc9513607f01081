package preference

import (
	"context"
	"sync"

	"github.com/wolfeidau/tenancy/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store using in-memory storage.
type MemoryStore struct {
	mu sync.RWMutex

	prefs map[string]*models.Preference // principal_id -> Preference
}

// NewMemoryStore creates a new in-memory preference store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prefs: make(map[string]*models.Preference),
	}
}

// Get returns a copy of the stored preference.
func (s *MemoryStore) Get(ctx context.Context, principalID string) (*models.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pref, ok := s.prefs[principalID]
	if !ok {
		return &models.Preference{}, nil
	}

	return clonePreference(pref), nil
}

// Save stores a copy of pref.
func (s *MemoryStore) Save(ctx context.Context, principalID string, pref *models.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs[principalID] = clonePreference(pref)
	return nil
}

// Delete removes the principal's preference.
func (s *MemoryStore) Delete(ctx context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.prefs, principalID)
	return nil
}
