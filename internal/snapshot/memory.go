package snapshot

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in a map.
type MemoryStore struct {
	records map[string]Record
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryStore: creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	stored := *copyRecord(*rec)
	stored.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = stored
	return nil
}

func (s *MemoryStore) SetCollaboration(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}
	rec.CollaborationEnabled = enabled
	rec.UpdatedAt = s.now().UTC()
	s.records[id] = rec
	return nil
}

// Len: returns the number of stored snapshots
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func copyRecord(rec Record) *Record {
	c := rec
	if rec.Content != nil {
		c.Content = append([]byte(nil), rec.Content...)
	}
	return &c
}
