// Package extract turns upstream summary-index rows into one
// aggregated Observable per entity.
package extract

import (
	"context"
	"strconv"
	"time"

	"obscatalog/internal/errs"
	"obscatalog/internal/logger"
	"obscatalog/internal/merge"
	"obscatalog/internal/source/splunk"
	"obscatalog/pkg/models"
)

// RowSource is a lazy, finite, non-restartable row sequence.
type RowSource interface {
	Next(ctx context.Context) (splunk.Row, bool, error)
}

// Result carries the extraction batch and its bookkeeping.
type Result struct {
	Observables []models.Observable
	RowsRead    int
	Skipped     int
}

// Extractor folds pre-aggregated rows into per-entity observables.
// The summary index emits many small sub-window increments per entity
// (15-minute granularity); without this second-stage fold every run
// would push redundant partial updates downstream.
type Extractor struct {
	now func() time.Time
}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract drains the source and returns one Observable per entity.
// Rows that cannot be classified are logged and skipped; a source
// failure aborts with SourceUnavailable (retries belong to the
// scheduler, not here).
func (e *Extractor) Extract(ctx context.Context, src RowSource) (Result, error) {
	byEntity := make(map[string]models.Observable)
	order := make([]string, 0, 64)
	res := Result{}

	for {
		row, ok, err := src.Next(ctx)
		if err != nil {
			return Result{}, errs.SourceUnavailable("read upstream rows", err)
		}
		if !ok {
			break
		}
		res.RowsRead++

		obs, err := e.observableFromRow(row)
		if err != nil {
			res.Skipped++
			logger.Warnf("Skipping unclassifiable row: %v", err)
			continue
		}

		key := obs.Entity.Key()
		if prev, seen := byEntity[key]; seen {
			byEntity[key] = merge.CombineObservables(prev, obs)
		} else {
			byEntity[key] = obs
			order = append(order, key)
		}
	}

	res.Observables = make([]models.Observable, 0, len(order))
	for _, key := range order {
		res.Observables = append(res.Observables, byEntity[key])
	}
	return res, nil
}

func (e *Extractor) observableFromRow(row splunk.Row) (models.Observable, error) {
	value := row.Field("indicator")
	if value == "" {
		return models.Observable{}, errs.MalformedObservable("row has no indicator value")
	}

	var indicatorType models.IndicatorType
	if explicit := models.IndicatorType(row.Field("indicator_type")); explicit != "" {
		indicatorType = explicit
		if !models.ValidIndicatorType(indicatorType) {
			indicatorType = models.IndicatorOther
		}
	} else {
		inferred, ok := models.ClassifyIndicator(value)
		if !ok {
			return models.Observable{}, errs.MalformedObservable("indicator " + value + " matches no known shape")
		}
		indicatorType = inferred
	}

	now := e.now().UTC()
	firstSeen := parseTimestamp(row.Field("first_seen"))
	lastSeen := parseTimestamp(row.Field("last_seen"))
	switch {
	case firstSeen.IsZero() && lastSeen.IsZero():
		firstSeen, lastSeen = now, now
	case firstSeen.IsZero():
		firstSeen = lastSeen
	case lastSeen.IsZero():
		lastSeen = firstSeen
	}
	if lastSeen.Before(firstSeen) {
		firstSeen, lastSeen = lastSeen, firstSeen
	}

	hits, err := strconv.ParseInt(row.Field("total_hits"), 10, 64)
	if err != nil || hits < 1 {
		// A row always represents at least one underlying event.
		hits = 1
	}

	obs := models.Observable{
		Entity:      models.EntityID{Type: indicatorType, Value: value},
		FirstSeen:   firstSeen,
		LastSeen:    lastSeen,
		HitCount:    hits,
		SrcIPs:      merge.UnionSets(row.MultiField("src_ips"), nil),
		DestIPs:     merge.UnionSets(row.MultiField("dest_ips"), nil),
		Users:       merge.UnionSets(row.MultiField("users"), nil),
		SourceTypes: merge.UnionSets(row.MultiField("sourcetypes"), nil),
		Actions:     merge.UnionSets(row.MultiField("actions"), nil),
	}
	obs.UniqueSrcIPs = len(obs.SrcIPs)
	obs.UniqueDestIPs = len(obs.DestIPs)
	return obs, nil
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	// Summary rows sometimes carry epoch seconds.
	if sec, err := strconv.ParseFloat(raw, 64); err == nil && sec > 0 {
		return time.Unix(int64(sec), 0).UTC()
	}
	return time.Time{}
}
