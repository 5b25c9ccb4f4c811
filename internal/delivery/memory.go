package delivery

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	status  string
	expires time.Time
}

// MemoryStore keeps delivery keys in process memory.
type MemoryStore struct {
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		retention: retention,
		now:       time.Now,
		entries:   make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{status: StatusInProgress, expires: now.Add(InProgressExpiry)}
	return true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{status: StatusCompleted, expires: s.now().Add(s.retention)}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of remembered keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}
