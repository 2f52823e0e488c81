package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned when an optimistic version check fails.
// Callers are expected to refetch and retry the whole guarded operation.
var ErrVersionConflict = errors.New("record version conflict")

// Record is a stored resource instance. Data carries the resource's fields;
// the engine decides what each actor may see or change.
type Record struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Version   int64                  `json:"version"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Clone returns a deep copy so callers can never mutate stored state in place
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	data := make(map[string]interface{}, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}
	clone := *r
	clone.Data = data
	return &clone
}

// Filter is a conjunctive set of field equality conditions applied to
// Record.Data. An empty filter matches everything.
type Filter map[string]interface{}

// Matches reports whether the record satisfies every condition
func (f Filter) Matches(r *Record) bool {
	for field, want := range f {
		if r.Data[field] != want {
			return false
		}
	}
	return true
}

// RecordStore is the storage interface the engine writes through. Update is
// version-checked: implementations must reject writes whose Version does not
// match the stored record, returning ErrVersionConflict.
type RecordStore interface {
	Get(ctx context.Context, resourceType, id string) (*Record, error)
	List(ctx context.Context, resourceType string, filter Filter) ([]*Record, error)
	Create(ctx context.Context, record *Record) error
	Update(ctx context.Context, record *Record) error
	Delete(ctx context.Context, resourceType, id string) error

	// DeleteWhere removes every record of the type matching the filter and
	// returns the number removed. Used by erasure cascades.
	DeleteWhere(ctx context.Context, resourceType string, filter Filter) (int64, error)

	Close() error
}
