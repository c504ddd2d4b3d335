package models

import (
	"encoding/json"
	"time"
)

// ScrapeResult is the outcome of one scraping job. Once returned it is
// never mutated; cache hits hand out clones.
type ScrapeResult struct {
	Success    bool   `json:"success"`
	URL        string `json:"url"`
	FinalURL   string `json:"final_url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	HTML     string    `json:"html,omitempty"`
	Text     string    `json:"text,omitempty"`
	Title    string    `json:"title,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`

	// Screenshot is PNG data, base64 encoded in JSON.
	Screenshot     []byte            `json:"screenshot,omitempty"`
	ScriptResult   json.RawMessage   `json:"script_result,omitempty"`
	Links          []Link            `json:"links,omitempty"`
	Images         []Image           `json:"images,omitempty"`
	Tables         []Table           `json:"tables,omitempty"`
	StructuredData []json.RawMessage `json:"structured_data,omitempty"`
	Markdown       string            `json:"markdown,omitempty"`

	// Warnings lists optional extraction steps that failed and were omitted.
	Warnings []string `json:"warnings,omitempty"`

	DurationMs      int64        `json:"duration_ms"`
	RetryCount      int          `json:"retry_count"`
	Cached          bool         `json:"cached"`
	BlockedRequests int64        `json:"blocked_requests"`
	Error           *ErrorDetail `json:"error,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Metadata holds page-level information read from head tags.
type Metadata struct {
	Description   string `json:"description,omitempty"`
	Keywords      string `json:"keywords,omitempty"`
	Author        string `json:"author,omitempty"`
	Language      string `json:"language,omitempty"`
	Canonical     string `json:"canonical,omitempty"`
	SiteName      string `json:"site_name,omitempty"`
	OGTitle       string `json:"og_title,omitempty"`
	OGDescription string `json:"og_description,omitempty"`
	OGImage       string `json:"og_image,omitempty"`
	OGType        string `json:"og_type,omitempty"`
	PublishedTime string `json:"published_time,omitempty"`
	ModifiedTime  string `json:"modified_time,omitempty"`
}

// Link represents a hyperlink extracted from the page.
type Link struct {
	Href     string `json:"href"`
	Text     string `json:"text,omitempty"`
	Internal bool   `json:"internal"`
}

// Image represents an image element extracted from the page.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// Table is an HTML table flattened to rows of cell text.
type Table struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// Clone returns a deep copy of r.
func (r *ScrapeResult) Clone() *ScrapeResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		m := *r.Metadata
		c.Metadata = &m
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	c.Screenshot = append([]byte(nil), r.Screenshot...)
	c.ScriptResult = append(json.RawMessage(nil), r.ScriptResult...)
	c.Links = append([]Link(nil), r.Links...)
	c.Images = append([]Image(nil), r.Images...)
	c.Warnings = append([]string(nil), r.Warnings...)
	if r.Tables != nil {
		c.Tables = make([]Table, len(r.Tables))
		for i, t := range r.Tables {
			c.Tables[i].Headers = append([]string(nil), t.Headers...)
			c.Tables[i].Rows = make([][]string, len(t.Rows))
			for j, row := range t.Rows {
				c.Tables[i].Rows[j] = append([]string(nil), row...)
			}
		}
	}
	if r.StructuredData != nil {
		c.StructuredData = make([]json.RawMessage, len(r.StructuredData))
		for i, d := range r.StructuredData {
			c.StructuredData[i] = append(json.RawMessage(nil), d...)
		}
	}
	return &c
}

// Job states reported to observers.
type JobState string

const (
	JobQueued      JobState = "queued"
	JobAllocating  JobState = "allocating"
	JobNavigating  JobState = "navigating"
	JobInteracting JobState = "interacting"
	JobExtracting  JobState = "extracting"
	JobSucceeded   JobState = "succeeded"
	JobFailed      JobState = "failed"
)

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	TotalJobs         int64   `json:"total_jobs"`
	CompletedJobs     int64   `json:"completed_jobs"`
	FailedJobs        int64   `json:"failed_jobs"`
	RetriedAttempts   int64   `json:"retried_attempts"`
	AverageDurationMs float64 `json:"average_duration_ms"`
	ActiveBrowsers    int     `json:"active_browsers"`
	ActivePages       int     `json:"active_pages"`
	QueuedJobs        int     `json:"queued_jobs"`
	CacheEntries      int     `json:"cache_entries"`
	CacheHits         int64   `json:"cache_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	BlockedRequests   int64   `json:"blocked_requests"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"` // "healthy" or "degraded"
	Uptime  string `json:"uptime"`
	Stats   Stats  `json:"stats"`
	Version string `json:"version"`
}

// ErrorResponse is the body of every failed API request that has no
// result of its own.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// ClearCacheResponse is the response for DELETE /api/v1/cache.
type ClearCacheResponse struct {
	Success bool `json:"success"`
	Cleared int  `json:"cleared"`
}

// SessionsResponse is the response for GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}
