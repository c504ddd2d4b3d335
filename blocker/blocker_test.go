package blocker

import (
	"testing"

	"github.com/use-agent/harvest/models"
)

func TestIsAdDomain(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"doubleclick.net", true},
		{"pagead2.googlesyndication.com", true},
		{"stats.g.doubleclick.net", true},
		{"example.com", false},
		{"notdoubleclick.net", false},
	}
	for _, tt := range tests {
		if got := IsAdDomain(tt.host); got != tt.want {
			t.Errorf("IsAdDomain(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestRulesetMatch(t *testing.T) {
	b := New([]string{"Image"})
	rs, err := b.Rules(&models.BlockRules{
		ResourceTypes: []string{"font"},
		Domains:       []string{"cdn.tracker.io"},
		Patterns:      []string{`\.mp4$`},
	}, false)
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}

	tests := []struct {
		url, typ string
		want     bool
	}{
		{"https://example.com/a.png", "Image", true},
		{"https://example.com/a.woff", "Font", true},
		{"https://x.cdn.tracker.io/t.js", "Script", true},
		{"https://tracker.io/t.js", "Script", false},
		{"https://example.com/v.mp4", "Media", true},
		{"https://example.com/app.js", "Script", false},
		{"https://doubleclick.net/ad.js", "Script", false},
	}
	for _, tt := range tests {
		if got, _ := rs.Match(tt.url, tt.typ); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.url, tt.typ, got, tt.want)
		}
	}
}

func TestDecideCounts(t *testing.T) {
	b := New(nil)
	first, _ := b.Rules(nil, true)
	second, _ := b.Rules(nil, true)

	for i := 0; i < 5; i++ {
		first.Decide("https://ads.doubleclick.net/pixel", "Image")
	}
	first.Decide("https://example.com/", "Document")
	second.Decide("https://criteo.com/x", "Script")

	if first.Hits() != 5 {
		t.Errorf("first.Hits() = %d, want 5", first.Hits())
	}
	if second.Hits() != 1 {
		t.Errorf("second.Hits() = %d, want 1", second.Hits())
	}
	if b.Blocked() != 6 {
		t.Errorf("Blocked() = %d, want 6", b.Blocked())
	}
}

func TestEmptyRuleset(t *testing.T) {
	rs, _ := New(nil).Rules(nil, false)
	if !rs.Empty() {
		t.Error("ruleset with no rules should be empty")
	}
	rs, _ = New(nil).Rules(nil, true)
	if rs.Empty() {
		t.Error("ad blocking ruleset should not be empty")
	}
}
