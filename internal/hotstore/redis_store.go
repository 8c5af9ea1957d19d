// Package hotstore persists cumulative short-retention records in
// Redis. Every merge slides the record's TTL forward; the store drops
// expired records on its own with no notification, and callers treat
// absence as a normal state.
package hotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"obscatalog/internal/errs"
	"obscatalog/internal/merge"
	"obscatalog/pkg/models"
)

// Config configures Redis access for the hot store.
type Config struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	Retention  time.Duration
	ScanBatch  int64
	OpTimeout  time.Duration
	MaxRetries int
}

// Store manages hot-record reads, merges, and full scans.
type Store struct {
	client     *redis.Client
	prefix     string
	retention  time.Duration
	scanBatch  int64
	opTimeout  time.Duration
	maxRetries int
	now        func() time.Time
}

// NewStore constructs a Redis-backed hot store and verifies
// connectivity.
func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis hot store: %w", err)
	}

	return NewStoreWithClient(client, cfg), nil
}

// NewStoreWithClient wraps an existing client; tests use it against
// miniredis.
func NewStoreWithClient(client *redis.Client, cfg Config) *Store {
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "obscatalog:hot"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.ScanBatch <= 0 {
		cfg.ScanBatch = 500
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Store{
		client:     client,
		prefix:     strings.TrimSpace(cfg.KeyPrefix),
		retention:  cfg.Retention,
		scanBatch:  cfg.ScanBatch,
		opTimeout:  cfg.OpTimeout,
		maxRetries: cfg.MaxRetries,
		now:        time.Now,
	}
}

func (s *Store) recordKey(entityKey string) string {
	return s.prefix + ":rec:" + entityKey
}

// Get reads the record for an entity key. Absence is not an error: the
// record may never have existed or may have expired.
func (s *Store) Get(ctx context.Context, entityKey string) (*models.HotRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.recordKey(entityKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StorageUnavailable("read hot record "+entityKey, err)
	}
	var rec models.HotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errs.StorageUnavailable("decode hot record "+entityKey, err)
	}
	return &rec, nil
}

// Put upserts a record with its TTL derived from ExpiresAt.
func (s *Store) Put(ctx context.Context, rec models.HotRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	raw, err := json.Marshal(rec)
	if err != nil {
		return errs.StorageUnavailable("encode hot record "+rec.Entity.Key(), err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, s.recordKey(rec.Entity.Key()), raw, ttl).Err(); err != nil {
		return errs.StorageUnavailable("write hot record "+rec.Entity.Key(), err)
	}
	return nil
}

// Merge folds an observable into the stored record for its entity.
// The read-modify-write runs under WATCH so overlapping runs merging
// the same entity never lose updates; a conflicting write restarts the
// transaction.
func (s *Store) Merge(ctx context.Context, obs models.Observable) (models.HotRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	key := s.recordKey(obs.Entity.Key())
	var merged models.HotRecord

	txn := func(tx *redis.Tx) error {
		var existing *models.HotRecord
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			// New entity, or the prior record expired.
		case err != nil:
			return err
		default:
			var rec models.HotRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			existing = &rec
		}

		merged = merge.ApplyToHot(existing, obs, s.now().UTC(), s.retention)
		payload, err := json.Marshal(merged)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, time.Until(merged.ExpiresAt))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return models.HotRecord{}, errs.StorageUnavailable("merge hot record "+obs.Entity.Key(), err)
	}
	return models.HotRecord{}, errs.StorageUnavailable("merge hot record "+obs.Entity.Key(),
		fmt.Errorf("transaction contention after %d attempts", s.maxRetries))
}

// ScanAll enumerates every live record, paging with SCAN so the full
// set is never held in Redis-side memory at once. fn is called once
// per record; returning an error stops the scan.
func (s *Store) ScanAll(ctx context.Context, fn func(models.HotRecord) error) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":rec:*", s.scanBatch).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			// Expired between SCAN and GET.
			continue
		}
		if err != nil {
			return errs.StorageUnavailable("scan hot store", err)
		}
		var rec models.HotRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return errs.StorageUnavailable("decode hot record during scan", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return errs.StorageUnavailable("scan hot store", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
