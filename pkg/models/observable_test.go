package models

import "testing"

func TestEntityKeyEncodingIsStable(t *testing.T) {
	cases := []struct {
		id   EntityID
		want string
	}{
		{EntityID{IndicatorIP, "1.2.3.4"}, "ip#1.2.3.4"},
		{EntityID{IndicatorEmail, "user@example.com"}, "email#user@example.com"},
		{EntityID{IndicatorMD5, "5d41402abc4b2a76b9719d911017c592"}, "md5#5d41402abc4b2a76b9719d911017c592"},
		{EntityID{IndicatorUserAgent, "Mozilla/5.0 (X11; Linux x86_64)"}, "user-agent#Mozilla/5.0 (X11; Linux x86_64)"},
	}
	for _, c := range cases {
		if got := c.id.Key(); got != c.want {
			t.Fatalf("Key() = %q, want %q", got, c.want)
		}
		back, err := ParseKey(c.id.Key())
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", c.id.Key(), err)
		}
		if back != c.id {
			t.Fatalf("round trip changed identity: %+v != %+v", back, c.id)
		}
	}
}

func TestParseKeyPreservesHashInValue(t *testing.T) {
	id, err := ParseKey("domain#evil#example.com")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if id.Value != "evil#example.com" {
		t.Fatalf("value truncated at second separator: %q", id.Value)
	}
}

func TestParseKeyRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "ip", "#1.2.3.4", "ip#", "bogus#x"} {
		if _, err := ParseKey(key); err == nil {
			t.Fatalf("ParseKey(%q) accepted malformed key", key)
		}
	}
}

func TestClassifyIndicator(t *testing.T) {
	cases := []struct {
		value string
		want  IndicatorType
		ok    bool
	}{
		{"8.8.8.8", IndicatorIP, true},
		{"2001:db8::1", IndicatorIP, true},
		{"user@example.com", IndicatorEmail, true},
		{"5d41402abc4b2a76b9719d911017c592", IndicatorMD5, true},
		{"aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", IndicatorSHA1, true},
		{"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", IndicatorSHA256, true},
		{"example.com", IndicatorDomain, true},
		{"Mozilla/5.0 (X11; Linux x86_64)", IndicatorUserAgent, true},
		{"", IndicatorOther, false},
		{"???", IndicatorOther, false},
	}
	for _, c := range cases {
		got, ok := ClassifyIndicator(c.value)
		if got != c.want || ok != c.ok {
			t.Fatalf("ClassifyIndicator(%q) = (%s, %v), want (%s, %v)", c.value, got, ok, c.want, c.ok)
		}
	}
}
