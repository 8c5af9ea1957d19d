// Package coldstore persists the durable lifetime snapshot of the
// observable catalog. Two implementations exist: S3 for production and
// the local filesystem for development and tests.
package coldstore

import (
	"context"
	"time"

	"obscatalog/pkg/models"
)

// Archive is the long-retention snapshot store. Snapshots are replaced
// wholesale; a reader must never observe a partially written snapshot.
type Archive interface {
	// LoadSnapshot returns the published snapshot, or an empty one
	// when none exists yet.
	LoadSnapshot(ctx context.Context) (models.Snapshot, error)

	// SaveSnapshot publishes a full replacement snapshot.
	SaveSnapshot(ctx context.Context, snap models.Snapshot) error

	Gate
}

// Gate is the daily idempotency check for reconciliation. The default
// implementations use marker objects next to the snapshot; a
// multi-instance deployment can substitute a real distributed lock.
type Gate interface {
	HasMarker(ctx context.Context, day string) (bool, error)
	WriteMarker(ctx context.Context, day string) error
}

// DayKey renders the marker key for a point in time, in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
