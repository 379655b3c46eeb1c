package status

import (
	"context"
	"maps"
	"sync"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/event"
)

// MemoryStore is an in-process Store for tests and single-process setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]event.Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]event.Record), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, rec event.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, found := s.records[rec.EventID]
	if err := checkPut(existing, found); err != nil {
		return err
	}
	s.records[rec.EventID] = rec
	return nil
}

func (s *MemoryStore) Update(_ context.Context, eventID string, patch event.Patch) (event.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.records[eventID]
	if !found {
		rec = event.Record{EventID: eventID}
	}
	if err := rec.Apply(patch, s.now()); err != nil {
		return rec, err
	}
	s.records[eventID] = rec
	return rec, nil
}

func (s *MemoryStore) Get(_ context.Context, eventID string) (event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[eventID]
	if !ok {
		return event.Record{}, ErrNotFound.WithContext("event_id", eventID)
	}
	return rec, nil
}

// Snapshot returns a copy of all records.
func (s *MemoryStore) Snapshot() map[string]event.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.records)
}
