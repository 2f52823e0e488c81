package audit

import (
	"context"
	"fmt"
	"strings"
)

// MultiWriter fans an append out to several sinks. Each sink keeps its own
// chain, so every writer receives its own copy of the entry; the first
// writer's copy reports back Seq and chain hashes to the caller.
type MultiWriter struct {
	writers []Writer

	// FailFast stops at the first failing sink. When false, every sink is
	// attempted and the errors are joined.
	FailFast bool
}

// NewMultiWriter creates a writer that appends to all the given writers
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Append delivers the entry to every sink
func (m *MultiWriter) Append(ctx context.Context, entry *Entry) error {
	if len(m.writers) == 0 {
		return nil
	}
	if entry.OperationID == "" {
		// All sinks must share one idempotency key.
		entry.OperationID = NewOperationID()
	}

	var errs []string
	for i, writer := range m.writers {
		copied := *entry
		copied.Fields = append([]string(nil), entry.Fields...)
		copied.Restored = append([]RestoredField(nil), entry.Restored...)

		if err := writer.Append(ctx, &copied); err != nil {
			if m.FailFast {
				return fmt.Errorf("audit writer %d failed: %w", i, err)
			}
			errs = append(errs, fmt.Sprintf("writer %d: %v", i, err))
			continue
		}
		if i == 0 {
			*entry = copied
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("audit append failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Close closes every sink, returning the first error encountered
func (m *MultiWriter) Close() error {
	var firstErr error
	for _, writer := range m.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
