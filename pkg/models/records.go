package models

import "time"

// HotRecord is the cumulative short-retention record for one entity.
// The hot store enforces a sliding TTL via ExpiresAt; a record can
// vanish between runs without notice and callers must treat absence as
// a normal state.
type HotRecord struct {
	Entity    EntityID  `json:"entity"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	HitCount  int64     `json:"total_hits"`

	SrcIPs      []string `json:"src_ips,omitempty"`
	DestIPs     []string `json:"dest_ips,omitempty"`
	Users       []string `json:"users,omitempty"`
	SourceTypes []string `json:"sourcetypes,omitempty"`
	Actions     []string `json:"actions,omitempty"`

	UniqueSrcIPs  int `json:"unique_src_ips"`
	UniqueDestIPs int `json:"unique_dest_ips"`

	ExpiresAt       time.Time `json:"ttl"`
	ExportTimestamp time.Time `json:"export_timestamp"`
}

// ColdRecord is the durable lifetime record for one entity. The
// reconciler is its only writer; it never expires.
type ColdRecord struct {
	Entity EntityID `json:"entity"`

	LifetimeFirstSeen time.Time `json:"first_seen"`
	LifetimeLastSeen  time.Time `json:"last_seen"`
	LifetimeHitCount  int64     `json:"total_hits"`
	DaysSeen          float64   `json:"days_seen"`

	SrcIPs      []string `json:"src_ips,omitempty"`
	DestIPs     []string `json:"dest_ips,omitempty"`
	Users       []string `json:"users,omitempty"`
	SourceTypes []string `json:"sourcetypes,omitempty"`
	Actions     []string `json:"actions,omitempty"`

	UniqueSrcIPs  int `json:"unique_src_ips"`
	UniqueDestIPs int `json:"unique_dest_ips"`

	ExportTimestamp time.Time `json:"export_timestamp"`
}

// Snapshot is the full cold-archive state keyed by entity key.
type Snapshot map[string]ColdRecord
