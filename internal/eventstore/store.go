// Package eventstore persists job lifecycle events and rebuilds job history from them.
package eventstore

import (
	"context"
	"time"
)

// Store is an append-only log of job events. Implementations assign Seq
// on Append; reads return events oldest first.
type Store interface {
	Append(ctx context.Context, jobID, eventType string, payload []byte, metadata map[string]string) error
	GetByJobID(ctx context.Context, jobID string) ([]Event, error)
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// ListJobIDs returns up to limit job ids, newest job first.
	ListJobIDs(ctx context.Context, limit int) ([]string, error)
	// DeleteBefore drops every job whose last event is older than cutoff and
	// reports how many jobs were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
