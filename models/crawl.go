package models

import (
	"regexp"
	"time"
)

// CrawlRequest is the payload for POST /api/v1/crawl.
type CrawlRequest struct {
	// StartURL is the first page visited. Required.
	StartURL string `json:"start_url" yaml:"start_url"`

	// MaxDepth limits the link distance from StartURL. nil means the
	// default of 2; 0 visits StartURL only.
	MaxDepth *int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`

	// MaxPages limits the total number of pages visited. Default: 50.
	MaxPages int `json:"max_pages,omitempty" yaml:"max_pages,omitempty"`

	// SameDomainOnly follows only links whose hostname equals StartURL's.
	SameDomainOnly bool `json:"same_domain_only,omitempty" yaml:"same_domain_only,omitempty"`

	// URLPattern is a regular expression a link must match to be followed.
	URLPattern string `json:"url_pattern,omitempty" yaml:"url_pattern,omitempty"`

	// Concurrency is the number of pages scraped in parallel. Default: 1.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// SkipDuplicateContent stops expanding pages whose text is a
	// near-duplicate of a page already crawled.
	SkipDuplicateContent bool `json:"skip_duplicate_content,omitempty" yaml:"skip_duplicate_content,omitempty"`

	// Options is the scrape template applied to every page. Its URL is ignored.
	Options ScrapeRequest `json:"options" yaml:"options"`

	WebhookURL    string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty" yaml:"webhook_secret,omitempty"`
}

// DefaultCrawlDepth is the link depth used when MaxDepth is unset.
const DefaultCrawlDepth = 2

// Depth returns MaxDepth, or DefaultCrawlDepth when it is unset.
func (r *CrawlRequest) Depth() int {
	if r.MaxDepth == nil {
		return DefaultCrawlDepth
	}
	return *r.MaxDepth
}

// Defaults applies default values to unset fields.
func (r *CrawlRequest) Defaults() {
	if r.MaxDepth == nil {
		d := DefaultCrawlDepth
		r.MaxDepth = &d
	}
	if r.MaxPages == 0 {
		r.MaxPages = 50
	}
	if r.Concurrency <= 0 {
		r.Concurrency = 1
	}
}

// Validate rejects malformed crawl requests.
func (r *CrawlRequest) Validate() error {
	if err := ValidateURL(r.StartURL); err != nil {
		return err
	}
	if r.Depth() < 0 || r.MaxPages < 0 {
		return invalid("max_depth and max_pages must not be negative")
	}
	if r.URLPattern != "" {
		if _, err := regexp.Compile(r.URLPattern); err != nil {
			return invalid("url_pattern: %v", err)
		}
	}
	if r.WebhookURL != "" {
		if err := ValidateURL(r.WebhookURL); err != nil {
			return invalid("webhook_url must be an absolute http(s) URL")
		}
	}
	opts := r.Options
	opts.URL = r.StartURL
	return opts.Validate()
}

// CrawlPage is one visited page. Failed pages carry Result.Error.
type CrawlPage struct {
	URL       string        `json:"url"`
	Depth     int           `json:"depth"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Result    *ScrapeResult `json:"result"`
}

// CrawlResult is the output of a finished crawl.
type CrawlResult struct {
	StartURL   string       `json:"start_url"`
	Pages      []*CrawlPage `json:"pages"`
	Visited    int          `json:"visited"`
	Failed     int          `json:"failed"`
	DurationMs int64        `json:"duration_ms"`
}

// Crawl job statuses.
const (
	CrawlProcessing = "processing"
	CrawlCompleted  = "completed"
	CrawlPartial    = "partial"
	CrawlFailed     = "failed"
)

// CrawlResponse is the immediate response for POST /api/v1/crawl.
type CrawlResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CrawlStatusResponse is the response for GET /api/v1/crawl/:id.
type CrawlStatusResponse struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Completed int          `json:"completed"`
	Result    *CrawlResult `json:"result,omitempty"`
}

// CrawlJob tracks an asynchronous crawl started through the API.
type CrawlJob struct {
	ID         string
	Status     string
	Completed  int
	Result     *CrawlResult
	CreatedAt  time.Time
	FinishedAt time.Time
}
