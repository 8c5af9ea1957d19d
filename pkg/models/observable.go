package models

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// IndicatorType classifies an observable value.
type IndicatorType string

const (
	IndicatorIP        IndicatorType = "ip"
	IndicatorEmail     IndicatorType = "email"
	IndicatorMD5       IndicatorType = "md5"
	IndicatorSHA1      IndicatorType = "sha1"
	IndicatorSHA256    IndicatorType = "sha256"
	IndicatorDomain    IndicatorType = "domain"
	IndicatorUserAgent IndicatorType = "user-agent"
	IndicatorOther     IndicatorType = "other"
)

// knownTypes holds every indicator type accepted from upstream rows.
var knownTypes = map[IndicatorType]bool{
	IndicatorIP:        true,
	IndicatorEmail:     true,
	IndicatorMD5:       true,
	IndicatorSHA1:      true,
	IndicatorSHA256:    true,
	IndicatorDomain:    true,
	IndicatorUserAgent: true,
	IndicatorOther:     true,
}

// ValidIndicatorType reports whether t is a known indicator type.
func ValidIndicatorType(t IndicatorType) bool {
	return knownTypes[t]
}

// EntityID is the natural key of an observable: type plus value.
type EntityID struct {
	Type  IndicatorType `json:"indicator_type"`
	Value string        `json:"indicator"`
}

// Key renders the durable storage key, e.g. "ip#1.2.3.4".
// The encoding is stable across versions; downstream tables key on it.
func (id EntityID) Key() string {
	return string(id.Type) + "#" + id.Value
}

// ParseKey decodes a storage key produced by Key.
func ParseKey(key string) (EntityID, error) {
	parts := strings.SplitN(key, "#", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return EntityID{}, fmt.Errorf("malformed entity key %q", key)
	}
	id := EntityID{Type: IndicatorType(parts[0]), Value: parts[1]}
	if !ValidIndicatorType(id.Type) {
		return EntityID{}, fmt.Errorf("unknown indicator type in key %q", key)
	}
	return id, nil
}

var (
	hexRe    = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	emailRe  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	domainRe = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
)

// ClassifyIndicator infers an indicator type from a raw value. It is
// used when upstream rows omit an explicit type. Returns IndicatorOther
// with ok=false when no shape matches.
func ClassifyIndicator(value string) (IndicatorType, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return IndicatorOther, false
	}
	if net.ParseIP(v) != nil {
		return IndicatorIP, true
	}
	if emailRe.MatchString(v) {
		return IndicatorEmail, true
	}
	if hexRe.MatchString(v) {
		switch len(v) {
		case 32:
			return IndicatorMD5, true
		case 40:
			return IndicatorSHA1, true
		case 64:
			return IndicatorSHA256, true
		}
	}
	if strings.Contains(v, "Mozilla/") || strings.Contains(v, "curl/") {
		return IndicatorUserAgent, true
	}
	if domainRe.MatchString(v) {
		return IndicatorDomain, true
	}
	return IndicatorOther, false
}

// Observable is one entity's aggregated activity within a single
// extraction window. Built by the extractor, immutable afterwards.
type Observable struct {
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
}
