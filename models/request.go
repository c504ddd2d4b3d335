package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Navigation completion conditions.
const (
	WaitUntilLoad        = "load"
	WaitUntilNetworkIdle = "networkidle"
)

// ScrapeRequest describes one scraping job: where to go, what to do there
// and what to capture. It is the payload for POST /api/v1/scrape.
type ScrapeRequest struct {
	// URL is the target page to scrape. Required, absolute http(s).
	URL string `json:"url" yaml:"url"`

	// WaitUntil is the navigation completion condition.
	// Allowed: "load" (default), "networkidle".
	WaitUntil string `json:"wait_until,omitempty" yaml:"wait_until,omitempty"`

	// WaitForSelector blocks until an element matching the selector appears.
	WaitForSelector string `json:"wait_for_selector,omitempty" yaml:"wait_for_selector,omitempty"`

	// WaitForMs sleeps after navigation before interactions run.
	WaitForMs int `json:"wait_for_ms,omitempty" yaml:"wait_for_ms,omitempty"`

	// Click is a selector clicked once after navigation.
	Click string `json:"click,omitempty" yaml:"click,omitempty"`

	// Type fills an input after navigation.
	Type *TypeAction `json:"type,omitempty" yaml:"type,omitempty"`

	// InfiniteScroll repeatedly scrolls to the bottom to load more content.
	InfiniteScroll *InfiniteScroll `json:"infinite_scroll,omitempty" yaml:"infinite_scroll,omitempty"`

	// Actions is an ordered list of extra browser actions run after the
	// fixed interactions above.
	Actions []Action `json:"actions,omitempty" yaml:"actions,omitempty"`

	// Script is evaluated in the page; its JSON result lands in ScriptResult.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	Screenshot            bool `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
	FullPage              bool `json:"full_page,omitempty" yaml:"full_page,omitempty"`
	ExtractLinks          bool `json:"extract_links,omitempty" yaml:"extract_links,omitempty"`
	ExtractImages         bool `json:"extract_images,omitempty" yaml:"extract_images,omitempty"`
	ExtractTables         bool `json:"extract_tables,omitempty" yaml:"extract_tables,omitempty"`
	ExtractStructuredData bool `json:"extract_structured_data,omitempty" yaml:"extract_structured_data,omitempty"`
	ExtractMarkdown       bool `json:"extract_markdown,omitempty" yaml:"extract_markdown,omitempty"`

	// TimeoutMs bounds a single attempt. 0 means the configured default.
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// Retries is the number of extra attempts after the first one fails.
	// nil means the configured default.
	Retries *int `json:"retries,omitempty" yaml:"retries,omitempty"`

	// SessionID selects a persisted browsing state to restore.
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`

	// SaveSession persists cookies and local storage under SessionID on success.
	SaveSession bool `json:"save_session,omitempty" yaml:"save_session,omitempty"`

	// Cache toggles the response cache for this request. nil means the
	// configured default; false bypasses both lookup and store.
	Cache *bool `json:"cache,omitempty" yaml:"cache,omitempty"`

	// CacheTTLMs overrides the configured cache TTL.
	CacheTTLMs int `json:"cache_ttl_ms,omitempty" yaml:"cache_ttl_ms,omitempty"`

	// BlockRules adds request-level interception rules.
	BlockRules *BlockRules `json:"block_rules,omitempty" yaml:"block_rules,omitempty"`

	// BlockAds toggles the built-in ad/tracker list. nil means the configured default.
	BlockAds *bool `json:"block_ads,omitempty" yaml:"block_ads,omitempty"`

	// Stealth toggles fingerprint randomization. nil means the configured default.
	Stealth *bool `json:"stealth,omitempty" yaml:"stealth,omitempty"`

	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies   []Cookie          `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	Viewport  *Viewport         `json:"viewport,omitempty" yaml:"viewport,omitempty"`
}

// TypeAction types text into the element matching Selector.
type TypeAction struct {
	Selector string `json:"selector" yaml:"selector"`
	Text     string `json:"text" yaml:"text"`
	// Submit presses Enter after typing.
	Submit bool `json:"submit,omitempty" yaml:"submit,omitempty"`
}

// InfiniteScroll controls repeated scroll-to-bottom.
type InfiniteScroll struct {
	// MaxIterations bounds the number of scrolls. Default: 10.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// StopSelector ends scrolling as soon as it matches.
	StopSelector string `json:"stop_selector,omitempty" yaml:"stop_selector,omitempty"`
	// ItemSelector ends scrolling once its match count stops growing.
	ItemSelector string `json:"item_selector,omitempty" yaml:"item_selector,omitempty"`
	// DelayMs is the pause after each scroll. Default: 500.
	DelayMs int `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
}

// Action is one step of a scripted browser sequence.
type Action struct {
	// Type is one of "wait", "click", "type", "scroll", "execute_js".
	Type         string `json:"type" yaml:"type"`
	Selector     string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text         string `json:"text,omitempty" yaml:"text,omitempty"`
	Milliseconds int    `json:"milliseconds,omitempty" yaml:"milliseconds,omitempty"`
	Direction    string `json:"direction,omitempty" yaml:"direction,omitempty"` // "up" or "down"
	Amount       int    `json:"amount,omitempty" yaml:"amount,omitempty"`
	Code         string `json:"code,omitempty" yaml:"code,omitempty"`
}

// BlockRules lists requests to abort before they leave the browser.
type BlockRules struct {
	// ResourceTypes are CDP resource types, e.g. "Image", "Font".
	ResourceTypes []string `json:"resource_types,omitempty" yaml:"resource_types,omitempty"`
	// Domains block the host and all of its subdomains.
	Domains []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	// Patterns are regular expressions matched against the full URL.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}

// Viewport is the emulated window size.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

var actionTypes = map[string]bool{
	"wait": true, "click": true, "type": true, "scroll": true, "execute_js": true,
}

// Validate rejects malformed requests before any browser work starts.
func (r *ScrapeRequest) Validate() error {
	if err := ValidateURL(r.URL); err != nil {
		return err
	}
	switch r.WaitUntil {
	case "", WaitUntilLoad, WaitUntilNetworkIdle:
	default:
		return invalid("wait_until must be %q or %q", WaitUntilLoad, WaitUntilNetworkIdle)
	}
	if r.TimeoutMs < 0 || r.WaitForMs < 0 || r.CacheTTLMs < 0 {
		return invalid("durations must not be negative")
	}
	if r.Retries != nil && *r.Retries < 0 {
		return invalid("retries must not be negative")
	}
	if r.SaveSession && r.SessionID == "" {
		return invalid("save_session requires session_id")
	}

	selectors := []string{r.WaitForSelector, r.Click}
	if r.Type != nil {
		if r.Type.Selector == "" {
			return invalid("type.selector is required")
		}
		selectors = append(selectors, r.Type.Selector)
	}
	if r.InfiniteScroll != nil {
		if r.InfiniteScroll.MaxIterations < 0 || r.InfiniteScroll.DelayMs < 0 {
			return invalid("infinite_scroll values must not be negative")
		}
		selectors = append(selectors, r.InfiniteScroll.StopSelector, r.InfiniteScroll.ItemSelector)
	}
	for i, a := range r.Actions {
		if !actionTypes[a.Type] {
			return invalid("actions[%d]: unknown type %q", i, a.Type)
		}
		if (a.Type == "click" || a.Type == "type") && a.Selector == "" {
			return invalid("actions[%d]: %s requires a selector", i, a.Type)
		}
		if a.Type == "execute_js" && a.Code == "" {
			return invalid("actions[%d]: execute_js requires code", i)
		}
		selectors = append(selectors, a.Selector)
	}
	for _, sel := range selectors {
		if err := ValidateSelector(sel); err != nil {
			return err
		}
	}

	if r.BlockRules != nil {
		for _, p := range r.BlockRules.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				return invalid("block_rules.patterns: %v", err)
			}
		}
	}
	if r.Viewport != nil && (r.Viewport.Width <= 0 || r.Viewport.Height <= 0) {
		return invalid("viewport dimensions must be positive")
	}
	return nil
}

// ValidateURL checks that raw is an absolute http or https URL.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return invalid("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("url: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url must be an absolute http(s) URL")
	}
	return nil
}

// ValidateSelector checks that sel compiles as a CSS selector. Empty is valid.
func ValidateSelector(sel string) error {
	if sel == "" {
		return nil
	}
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return invalid("invalid selector %q: %v", sel, err)
	}
	return nil
}

func invalid(format string, args ...any) *ScrapeError {
	return NewScrapeError(ErrCodeInvalidInput, fmt.Sprintf(format, args...), nil)
}
