package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/veridata/fieldgate/pkg/actor"
	"github.com/veridata/fieldgate/pkg/storage"
)

// DuplicateSubmissionCheck rejects a new record when another record with the
// same values for the key fields was created inside the window. Used to
// throttle repeated lead submissions for the same email and course.
func DuplicateSubmissionCheck(store storage.RecordStore, resourceType string, keyFields []string, window time.Duration) PreCreateCheck {
	return func(ctx context.Context, a actor.Actor, data map[string]interface{}) error {
		filter := make(storage.Filter, len(keyFields))
		for _, field := range keyFields {
			value, ok := data[field]
			if !ok {
				// A missing key field means there is nothing to dedupe on.
				return nil
			}
			filter[field] = value
		}

		existing, err := store.List(ctx, resourceType, filter)
		if err != nil {
			return fmt.Errorf("duplicate check for %s: %w", resourceType, err)
		}

		cutoff := time.Now().UTC().Add(-window)
		for _, record := range existing {
			if record.CreatedAt.After(cutoff) {
				return &ValidationError{Detail: "duplicate submission"}
			}
		}
		return nil
	}
}
