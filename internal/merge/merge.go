// Package merge holds the pure accumulation functions behind the
// export pipeline. The pipeline is a four-level reduce: upstream
// pre-aggregation, extractor fold, hot-store accumulation, and the
// daily gap-aware cold reconciliation. Each level is a pure
// (old state, increment) -> new state function so the semantics are
// testable without any I/O.
package merge

import (
	"math"
	"sort"
	"time"

	"obscatalog/pkg/models"
)

// UnionSets merges two string sets, deduplicating and sorting for a
// deterministic stored representation.
func UnionSets(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok && s != "" {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok && s != "" {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func minTime(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// DaysBetween returns the fractional day span between two timestamps,
// rounded to two decimals the way the catalog has always stored it.
func DaysBetween(first, last time.Time) float64 {
	if first.IsZero() || last.IsZero() || last.Before(first) {
		return 0
	}
	days := last.Sub(first).Seconds() / 86400
	return math.Round(days*100) / 100
}

// CombineObservables folds two observables for the same entity into
// one (the extractor's second-stage aggregation). Hit counts add
// because upstream rows are disjoint sub-window aggregates.
func CombineObservables(a, b models.Observable) models.Observable {
	out := models.Observable{
		Entity:      a.Entity,
		FirstSeen:   minTime(a.FirstSeen, b.FirstSeen),
		LastSeen:    maxTime(a.LastSeen, b.LastSeen),
		HitCount:    a.HitCount + b.HitCount,
		SrcIPs:      UnionSets(a.SrcIPs, b.SrcIPs),
		DestIPs:     UnionSets(a.DestIPs, b.DestIPs),
		Users:       UnionSets(a.Users, b.Users),
		SourceTypes: UnionSets(a.SourceTypes, b.SourceTypes),
		Actions:     UnionSets(a.Actions, b.Actions),
	}
	out.UniqueSrcIPs = len(out.SrcIPs)
	out.UniqueDestIPs = len(out.DestIPs)
	return out
}

// ApplyToHot merges an observable into an existing hot record, or
// creates a fresh one when existing is nil (new entity, or the prior
// record expired out of the store). Hit counts are strictly additive
// across runs because the extractor already deduplicated within its
// window. Every merge slides the TTL forward.
func ApplyToHot(existing *models.HotRecord, obs models.Observable, now time.Time, retention time.Duration) models.HotRecord {
	rec := models.HotRecord{
		Entity:          obs.Entity,
		FirstSeen:       obs.FirstSeen,
		LastSeen:        obs.LastSeen,
		HitCount:        obs.HitCount,
		SrcIPs:          UnionSets(obs.SrcIPs, nil),
		DestIPs:         UnionSets(obs.DestIPs, nil),
		Users:           UnionSets(obs.Users, nil),
		SourceTypes:     UnionSets(obs.SourceTypes, nil),
		Actions:         UnionSets(obs.Actions, nil),
		ExpiresAt:       now.Add(retention),
		ExportTimestamp: now,
	}
	if existing != nil {
		rec.FirstSeen = minTime(existing.FirstSeen, obs.FirstSeen)
		rec.LastSeen = maxTime(existing.LastSeen, obs.LastSeen)
		rec.HitCount = existing.HitCount + obs.HitCount
		rec.SrcIPs = UnionSets(existing.SrcIPs, obs.SrcIPs)
		rec.DestIPs = UnionSets(existing.DestIPs, obs.DestIPs)
		rec.Users = UnionSets(existing.Users, obs.Users)
		rec.SourceTypes = UnionSets(existing.SourceTypes, obs.SourceTypes)
		rec.Actions = UnionSets(existing.Actions, obs.Actions)
	}
	rec.UniqueSrcIPs = len(rec.SrcIPs)
	rec.UniqueDestIPs = len(rec.DestIPs)
	return rec
}

// ColdFromHot creates a lifetime record for an entity the archive has
// never seen: the hot record's cumulative fields become the lifetime
// fields.
func ColdFromHot(hot models.HotRecord, now time.Time) models.ColdRecord {
	rec := models.ColdRecord{
		Entity:            hot.Entity,
		LifetimeFirstSeen: hot.FirstSeen,
		LifetimeLastSeen:  hot.LastSeen,
		LifetimeHitCount:  hot.HitCount,
		SrcIPs:            UnionSets(hot.SrcIPs, nil),
		DestIPs:           UnionSets(hot.DestIPs, nil),
		Users:             UnionSets(hot.Users, nil),
		SourceTypes:       UnionSets(hot.SourceTypes, nil),
		Actions:           UnionSets(hot.Actions, nil),
		UniqueSrcIPs:      hot.UniqueSrcIPs,
		UniqueDestIPs:     hot.UniqueDestIPs,
		ExportTimestamp:   now,
	}
	rec.DaysSeen = DaysBetween(rec.LifetimeFirstSeen, rec.LifetimeLastSeen)
	return rec
}

// ReconcileEntity computes the new lifetime record for an entity seen
// by both the archive and the hot store.
//
// The hot record is itself cumulative while it lives, so its count is
// normally a superset of what the archive recorded at the previous
// reconciliation: taking max avoids double counting. Only when the hot
// record demonstrably restarted from scratch (its FirstSeen falls
// strictly after the archived LifetimeLastSeen, meaning the TTL store
// dropped it in between) is the count added on top of archive history.
//
// The no-gap test is a heuristic: clock skew or reordered upstream
// rows can place a post-expiry restart's FirstSeen inside the old
// lifetime window, in which case the restart is miscounted as
// continuous tracking. Known limitation, inherited deliberately.
func ReconcileEntity(cold models.ColdRecord, hot models.HotRecord, now time.Time) models.ColdRecord {
	out := models.ColdRecord{
		Entity:            cold.Entity,
		LifetimeFirstSeen: minTime(cold.LifetimeFirstSeen, hot.FirstSeen),
		LifetimeLastSeen:  maxTime(cold.LifetimeLastSeen, hot.LastSeen),
		SrcIPs:            UnionSets(cold.SrcIPs, hot.SrcIPs),
		DestIPs:           UnionSets(cold.DestIPs, hot.DestIPs),
		Users:             UnionSets(cold.Users, hot.Users),
		SourceTypes:       UnionSets(cold.SourceTypes, hot.SourceTypes),
		Actions:           UnionSets(cold.Actions, hot.Actions),
		ExportTimestamp:   now,
	}

	if gap := hot.FirstSeen.After(cold.LifetimeLastSeen); gap {
		out.LifetimeHitCount = cold.LifetimeHitCount + hot.HitCount
	} else if hot.HitCount > cold.LifetimeHitCount {
		out.LifetimeHitCount = hot.HitCount
	} else {
		out.LifetimeHitCount = cold.LifetimeHitCount
	}

	out.UniqueSrcIPs = len(out.SrcIPs)
	if cold.UniqueSrcIPs > out.UniqueSrcIPs {
		out.UniqueSrcIPs = cold.UniqueSrcIPs
	}
	out.UniqueDestIPs = len(out.DestIPs)
	if cold.UniqueDestIPs > out.UniqueDestIPs {
		out.UniqueDestIPs = cold.UniqueDestIPs
	}

	out.DaysSeen = DaysBetween(out.LifetimeFirstSeen, out.LifetimeLastSeen)
	return out
}

// ReconcileSnapshot merges the full hot-store state into the previous
// archive snapshot. Entities only in the archive carry forward
// unchanged; entities only in the hot store become new lifetime
// records; entities in both go through ReconcileEntity.
func ReconcileSnapshot(prev models.Snapshot, hot map[string]models.HotRecord, now time.Time) models.Snapshot {
	next := make(models.Snapshot, len(prev)+len(hot))
	for key, rec := range prev {
		next[key] = rec
	}
	for key, h := range hot {
		if c, ok := prev[key]; ok {
			next[key] = ReconcileEntity(c, h, now)
		} else {
			next[key] = ColdFromHot(h, now)
		}
	}
	return next
}
