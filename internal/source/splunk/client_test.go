package splunk

import (
	"reflect"
	"testing"
)

func TestNormalizeQuery(t *testing.T) {
	raw := "index=summary_observables earliest=-$lookback$d\n  | stats sum(count) as total_hits\n  | fields indicator indicator_type"
	got := NormalizeQuery(raw, 3)
	want := "search index=summary_observables earliest=-3d | stats sum(count) as total_hits | fields indicator indicator_type"
	if got != want {
		t.Fatalf("NormalizeQuery:\n got  %q\n want %q", got, want)
	}
}

func TestNormalizeQueryKeepsExistingPrefix(t *testing.T) {
	if got := NormalizeQuery("search index=main", 1); got != "search index=main" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeQuery("| tstats count", 1); got != "| tstats count" {
		t.Fatalf("generating commands must not gain a search prefix, got %q", got)
	}
}

func TestRowFieldAccessors(t *testing.T) {
	row := Row{Fields: map[string]interface{}{
		"indicator":  "1.2.3.4",
		"total_hits": float64(42),
		"src_ips":    "10.0.0.1|10.0.0.2| ",
		"users":      []interface{}{"alice", "bob"},
	}}

	if got := row.Field("indicator"); got != "1.2.3.4" {
		t.Fatalf("Field(indicator) = %q", got)
	}
	if got := row.Field("total_hits"); got != "42" {
		t.Fatalf("Field(total_hits) = %q", got)
	}
	if got := row.Field("missing"); got != "" {
		t.Fatalf("Field(missing) = %q", got)
	}
	if got := row.MultiField("src_ips"); !reflect.DeepEqual(got, []string{"10.0.0.1", "10.0.0.2"}) {
		t.Fatalf("MultiField(src_ips) = %v", got)
	}
	if got := row.MultiField("users"); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("MultiField(users) = %v", got)
	}
	if got := row.MultiField("missing"); got != nil {
		t.Fatalf("MultiField(missing) = %v", got)
	}
}
