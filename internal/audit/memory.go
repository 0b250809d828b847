package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps audit entries in process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Log appends an entry.
func (s *MemoryStore) Log(ctx context.Context, entry Entry) error {
	_ = ctx
	prepare(&entry)
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// List returns entries newest first plus the total matching count.
func (s *MemoryStore) List(ctx context.Context, q Query) ([]Entry, int, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if q.ApartmentID != "" && e.ApartmentID != q.ApartmentID {
			continue
		}
		if q.ResourceType != "" && e.ResourceType != q.ResourceType {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	if q.Offset >= total {
		return []Entry{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return matched[q.Offset:end], total, nil
}
