package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps history in process memory, ordered by timestamp.
// Used by tests and by deployments that accept losing history on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []HistoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Appends are fire-and-forget and may land out of order; keep the slice
	// sorted so ordering is the timestamp, not arrival.
	i := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].Timestamp.After(rec.Timestamp)
	})
	s.records = append(s.records, HistoryRecord{})
	copy(s.records[i+1:], s.records[i:])
	s.records[i] = rec
	return nil
}

func (s *MemoryStore) Query(_ context.Context, since time.Time) ([]HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.records), func(i int) bool {
		return !s.records[i].Timestamp.Before(since)
	})
	out := make([]HistoryRecord, len(s.records)-i)
	copy(out, s.records[i:])
	return out, nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.records), func(i int) bool {
		return !s.records[i].Timestamp.Before(before)
	})
	s.records = append([]HistoryRecord(nil), s.records[i:]...)
	return int64(i), nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ HistoryStore = (*MemoryStore)(nil)
