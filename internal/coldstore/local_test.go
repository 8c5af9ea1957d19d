package coldstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"obscatalog/pkg/models"
)

func TestLocalArchiveSnapshotRoundTrip(t *testing.T) {
	archive, err := NewLocalArchive(t.TempDir())
	require.NoError(t, err)
	archive.now = func() time.Time { return time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	empty, err := archive.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, empty, "missing snapshot must read as empty")

	ent := models.EntityID{Type: models.IndicatorIP, Value: "1.2.3.4"}
	snap := models.Snapshot{
		ent.Key(): {
			Entity:            ent,
			LifetimeFirstSeen: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			LifetimeLastSeen:  time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
			LifetimeHitCount:  42,
			DaysSeen:          181,
		},
	}
	require.NoError(t, archive.SaveSnapshot(ctx, snap))

	got, err := archive.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(42), got[ent.Key()].LifetimeHitCount)

	// The dated mirror is written alongside the published snapshot.
	_, err = os.Stat(filepath.Join(archive.basePath, "date=2024-07-01", "master.json"))
	require.NoError(t, err)
}

func TestLocalArchiveMarkers(t *testing.T) {
	archive, err := NewLocalArchive(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	day := DayKey(time.Date(2024, 7, 1, 23, 30, 0, 0, time.UTC))

	has, err := archive.HasMarker(ctx, day)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, archive.WriteMarker(ctx, day))

	has, err = archive.HasMarker(ctx, day)
	require.NoError(t, err)
	require.True(t, has)

	// Neighbouring days are unaffected.
	has, err = archive.HasMarker(ctx, "2024-07-02")
	require.NoError(t, err)
	require.False(t, has)
}

func TestDayKeyIsUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	// 23:30 EST on Jan 1 is already Jan 2 in UTC.
	require.Equal(t, "2024-01-02", DayKey(time.Date(2024, 1, 1, 23, 30, 0, 0, est)))
}
