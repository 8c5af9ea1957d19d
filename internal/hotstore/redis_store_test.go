package hotstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"obscatalog/pkg/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	store := NewStoreWithClient(client, Config{
		KeyPrefix: "test:hot",
		Retention: 90 * 24 * time.Hour,
	})
	t.Cleanup(func() { store.Close() })
	return store, mini
}

func testObservable(value string, first, last time.Time, hits int64) models.Observable {
	return models.Observable{
		Entity:    models.EntityID{Type: models.IndicatorIP, Value: value},
		FirstSeen: first,
		LastSeen:  last,
		HitCount:  hits,
		SrcIPs:    []string{"10.0.0.1"},
	}
}

func TestMergeCreatesThenAccumulates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.Merge(ctx, testObservable("1.2.3.4", t0, t0.Add(time.Hour), 100))
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if first.HitCount != 100 {
		t.Fatalf("hit count = %d", first.HitCount)
	}

	obs := testObservable("1.2.3.4", t0.Add(24*time.Hour), t0.Add(25*time.Hour), 50)
	obs.SrcIPs = []string{"10.0.0.1", "10.0.0.2"}
	second, err := store.Merge(ctx, obs)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if second.HitCount != 150 {
		t.Fatalf("hit count after second merge = %d, want 150", second.HitCount)
	}
	if !second.FirstSeen.Equal(t0) {
		t.Fatalf("first seen = %v, want %v", second.FirstSeen, t0)
	}
	if second.UniqueSrcIPs != 2 {
		t.Fatalf("unique src ips = %d", second.UniqueSrcIPs)
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("TTL was not refreshed: %v <= %v", second.ExpiresAt, first.ExpiresAt)
	}

	got, err := store.Get(ctx, "ip#1.2.3.4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.HitCount != 150 {
		t.Fatalf("stored record = %+v", got)
	}
}

func TestGetAbsentIsNotAnError(t *testing.T) {
	store, _ := newTestStore(t)
	got, err := store.Get(context.Background(), "ip#9.9.9.9")
	if err != nil {
		t.Fatalf("Get absent: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil record, got %+v", got)
	}
}

func TestMergeAfterExpiryStartsFresh(t *testing.T) {
	store, mini := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if _, err := store.Merge(ctx, testObservable("1.2.3.4", t0, t0, 500)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	// The store drops expired records silently.
	mini.FastForward(91 * 24 * time.Hour)

	rec, err := store.Merge(ctx, testObservable("1.2.3.4", t0.Add(100*24*time.Hour), t0.Add(100*24*time.Hour), 7))
	if err != nil {
		t.Fatalf("merge after expiry: %v", err)
	}
	if rec.HitCount != 7 {
		t.Fatalf("restarted record should not carry expired history, hit count = %d", rec.HitCount)
	}
}

func TestScanAllVisitsEveryRecord(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	values := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	for _, v := range values {
		if _, err := store.Merge(ctx, testObservable(v, t0, t0, 1)); err != nil {
			t.Fatalf("merge %s: %v", v, err)
		}
	}

	seen := map[string]bool{}
	err := store.ScanAll(ctx, func(rec models.HotRecord) error {
		seen[rec.Entity.Value] = true
		return nil
	})
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	for _, v := range values {
		if !seen[v] {
			t.Fatalf("scan missed %s (saw %v)", v, seen)
		}
	}
}
