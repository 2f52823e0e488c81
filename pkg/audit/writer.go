package audit

import (
	"context"
	"time"
)

// Writer is the append-only sink the engine records operations through.
// Append is idempotent on Entry.OperationID: a retried append of an already
// recorded operation succeeds without creating a second entry.
type Writer interface {
	Append(ctx context.Context, entry *Entry) error
	Close() error
}

// Searcher is the query surface over a persisted audit trail
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, error)
	GetStats(ctx context.Context, start, end *time.Time) (*Stats, error)
	VerifyChain(ctx context.Context) (*ChainReport, error)
}

// nopWriter discards entries. Used when auditing is disabled in tests.
type nopWriter struct{}

// NewNopWriter returns a Writer that drops every entry
func NewNopWriter() Writer {
	return &nopWriter{}
}

func (w *nopWriter) Append(ctx context.Context, entry *Entry) error { return nil }
func (w *nopWriter) Close() error                                   { return nil }
