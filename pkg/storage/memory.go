package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory RecordStore. It backs tests and small
// single-process deployments; data does not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record // resource type -> id -> record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]*Record),
	}
}

// Get retrieves a record by type and id
func (s *MemoryStore) Get(ctx context.Context, resourceType, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, ok := s.records[resourceType]
	if !ok {
		return nil, ErrNotFound
	}
	record, ok := byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// List returns records of a type matching the filter, ordered by creation time
func (s *MemoryStore) List(ctx context.Context, resourceType string, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0)
	for _, record := range s.records[resourceType] {
		if filter.Matches(record) {
			records = append(records, record.Clone())
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Create stores a new record, failing if the id already exists
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[record.Type]
	if !ok {
		byID = make(map[string]*Record)
		s.records[record.Type] = byID
	}
	if _, exists := byID[record.ID]; exists {
		return fmt.Errorf("record %s/%s already exists", record.Type, record.ID)
	}

	now := time.Now().UTC()
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now
	byID[record.ID] = record.Clone()
	return nil
}

// Update replaces a record's data if the caller holds the current version
func (s *MemoryStore) Update(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[record.Type]
	if !ok {
		return ErrNotFound
	}
	current, ok := byID[record.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != record.Version {
		return ErrVersionConflict
	}

	record.Version++
	record.CreatedAt = current.CreatedAt
	record.UpdatedAt = time.Now().UTC()
	byID[record.ID] = record.Clone()
	return nil
}

// Delete removes a record by type and id
func (s *MemoryStore) Delete(ctx context.Context, resourceType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[resourceType]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byID[id]; !ok {
		return ErrNotFound
	}
	delete(byID, id)
	return nil
}

// DeleteWhere removes every record of the type matching the filter
func (s *MemoryStore) DeleteWhere(ctx context.Context, resourceType string, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, record := range s.records[resourceType] {
		if filter.Matches(record) {
			delete(s.records[resourceType], id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
