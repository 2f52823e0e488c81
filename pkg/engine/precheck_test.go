package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridata/fieldgate/pkg/actor"
	"github.com/veridata/fieldgate/pkg/storage"
)

// cannedStore serves a fixed List result so tests control record timestamps.
type cannedStore struct {
	storage.RecordStore
	records []*storage.Record
}

func (s *cannedStore) List(ctx context.Context, resourceType string, filter storage.Filter) ([]*storage.Record, error) {
	matched := make([]*storage.Record, 0, len(s.records))
	for _, record := range s.records {
		if filter.Matches(record) {
			matched = append(matched, record)
		}
	}
	return matched, nil
}

func TestDuplicateSubmissionCheck(t *testing.T) {
	anon := actor.Anonymous()
	data := map[string]interface{}{
		"email":     "prospect@example.com",
		"course_id": "course-1",
	}

	lead := func(createdAt time.Time) *storage.Record {
		return &storage.Record{
			ID:   "lead-1",
			Type: "lead",
			Data: map[string]interface{}{
				"email":     "prospect@example.com",
				"course_id": "course-1",
			},
			CreatedAt: createdAt,
		}
	}

	t.Run("recent duplicate rejected", func(t *testing.T) {
		store := &cannedStore{records: []*storage.Record{lead(time.Now().UTC().Add(-time.Hour))}}
		check := DuplicateSubmissionCheck(store, "lead", []string{"email", "course_id"}, 24*time.Hour)

		err := check(context.Background(), anon, data)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("stale duplicate admitted", func(t *testing.T) {
		store := &cannedStore{records: []*storage.Record{lead(time.Now().UTC().Add(-48 * time.Hour))}}
		check := DuplicateSubmissionCheck(store, "lead", []string{"email", "course_id"}, 24*time.Hour)

		assert.NoError(t, check(context.Background(), anon, data))
	})

	t.Run("different course admitted", func(t *testing.T) {
		store := &cannedStore{records: []*storage.Record{lead(time.Now().UTC())}}
		check := DuplicateSubmissionCheck(store, "lead", []string{"email", "course_id"}, 24*time.Hour)

		other := map[string]interface{}{
			"email":     "prospect@example.com",
			"course_id": "course-2",
		}
		assert.NoError(t, check(context.Background(), anon, other))
	})

	t.Run("missing key field skips the check", func(t *testing.T) {
		store := &cannedStore{records: []*storage.Record{lead(time.Now().UTC())}}
		check := DuplicateSubmissionCheck(store, "lead", []string{"email", "course_id"}, 24*time.Hour)

		assert.NoError(t, check(context.Background(), anon, map[string]interface{}{"email": "prospect@example.com"}))
	})
}
