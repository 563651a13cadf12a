package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in a map. Nothing survives the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]ModelRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]ModelRecord)}
}

func (s *MemoryStore) Save(_ context.Context, rec ModelRecord) error {
	if err := validateID(rec.ID); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[rec.ID] = cloneRecord(rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (ModelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return ModelRecord{}, ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]ModelRecord, error) {
	s.mu.RLock()
	out := make([]ModelRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, cloneRecord(r))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ ConfigStore = (*MemoryStore)(nil)
