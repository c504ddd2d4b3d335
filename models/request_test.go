package models

import (
	"errors"
	"testing"
)

func TestScrapeRequestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name string
		req  ScrapeRequest
		ok   bool
	}{
		{"minimal", ScrapeRequest{URL: "https://example.com"}, true},
		{"missing url", ScrapeRequest{}, false},
		{"relative url", ScrapeRequest{URL: "/path"}, false},
		{"ftp url", ScrapeRequest{URL: "ftp://example.com/file"}, false},
		{"networkidle", ScrapeRequest{URL: "https://example.com", WaitUntil: "networkidle"}, true},
		{"bad wait_until", ScrapeRequest{URL: "https://example.com", WaitUntil: "domready"}, false},
		{"bad selector", ScrapeRequest{URL: "https://example.com", WaitForSelector: "div[["}, false},
		{"good selector", ScrapeRequest{URL: "https://example.com", Click: "button.more, a#next"}, true},
		{"negative retries", ScrapeRequest{URL: "https://example.com", Retries: &neg}, false},
		{"save without id", ScrapeRequest{URL: "https://example.com", SaveSession: true}, false},
		{"bad pattern", ScrapeRequest{URL: "https://example.com", BlockRules: &BlockRules{Patterns: []string{"("}}}, false},
		{"unknown action", ScrapeRequest{URL: "https://example.com", Actions: []Action{{Type: "hover"}}}, false},
		{"click action without selector", ScrapeRequest{URL: "https://example.com", Actions: []Action{{Type: "click"}}}, false},
		{"type without selector", ScrapeRequest{URL: "https://example.com", Type: &TypeAction{Text: "hi"}}, false},
		{"zero viewport", ScrapeRequest{URL: "https://example.com", Viewport: &Viewport{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				var se *ScrapeError
				if !errors.As(err, &se) || se.Code != ErrCodeInvalidInput {
					t.Fatalf("expected INVALID_INPUT, got %v", err)
				}
			}
		})
	}
}

func TestCrawlRequestValidate(t *testing.T) {
	req := CrawlRequest{StartURL: "https://example.com", URLPattern: "("}
	if err := req.Validate(); err == nil {
		t.Error("expected error for bad url_pattern")
	}

	req = CrawlRequest{StartURL: "https://example.com"}
	req.Defaults()
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.MaxDepth == nil || *req.MaxDepth != 2 || req.MaxPages != 50 || req.Concurrency != 1 {
		t.Errorf("defaults not applied: %+v", req)
	}
}

func TestCrawlRequestZeroDepth(t *testing.T) {
	zero := 0
	req := CrawlRequest{StartURL: "https://example.com", MaxDepth: &zero}
	req.Defaults()
	if req.Depth() != 0 {
		t.Errorf("Depth() = %d, want 0 kept", req.Depth())
	}

	neg := -1
	req = CrawlRequest{StartURL: "https://example.com", MaxDepth: &neg}
	if err := req.Validate(); err == nil {
		t.Error("expected error for negative max_depth")
	}
}

func TestExtractRequestValidate(t *testing.T) {
	req := ExtractRequest{
		URL:    "https://example.com",
		Fields: map[string]FieldSelector{"title": {Selector: "h1"}},
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req.Fields["img"] = FieldSelector{Selector: "img", Type: "attribute"}
	if err := req.Validate(); err == nil {
		t.Error("expected error for attribute type without attribute name")
	}
}

func TestScrapeErrorRetryable(t *testing.T) {
	if !NewScrapeError(ErrCodePoolTimeout, "x", nil).Retryable() {
		t.Error("pool timeout should be retryable")
	}
	if NewScrapeError(ErrCodeInvalidInput, "x", nil).Retryable() {
		t.Error("invalid input should not be retryable")
	}
	wrapped := errors.Join(errors.New("outer"), NewScrapeError(ErrCodeNavigation, "x", nil))
	if !IsRetryable(wrapped) {
		t.Error("wrapped navigation error should be retryable")
	}
}

func TestScrapeResultClone(t *testing.T) {
	orig := &ScrapeResult{
		Success:  true,
		Links:    []Link{{Href: "https://a"}},
		Metadata: &Metadata{Description: "d"},
		Tables:   []Table{{Rows: [][]string{{"1", "2"}}}},
	}
	c := orig.Clone()
	c.Links[0].Href = "changed"
	c.Metadata.Description = "changed"
	c.Tables[0].Rows[0][0] = "changed"

	if orig.Links[0].Href != "https://a" || orig.Metadata.Description != "d" || orig.Tables[0].Rows[0][0] != "1" {
		t.Error("clone shares memory with original")
	}
}
