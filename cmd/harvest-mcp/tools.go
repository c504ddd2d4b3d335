package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/use-agent/harvest/models"
)

// client calls the harvest HTTP API.
type client struct {
	apiURL string
	apiKey string
	http   *http.Client

	pollInterval time.Duration
}

func newClient(apiURL, apiKey string) *client {
	return &client{
		apiURL:       strings.TrimRight(apiURL, "/"),
		apiKey:       apiKey,
		http:         &http.Client{Timeout: 600 * time.Second},
		pollInterval: 2 * time.Second,
	}
}

func (c *client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}

func errorText(e *models.ErrorDetail, fallback string) string {
	if e == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (c *client) handleScrape(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}
	req := models.ScrapeRequest{
		URL:             url,
		ExtractMarkdown: request.GetBool("markdown", true),
		WaitForSelector: request.GetString("wait_for_selector", ""),
		SessionID:       request.GetString("session_id", ""),
	}

	var res models.ScrapeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/scrape", req, &res); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.Success {
		return mcp.NewToolResultError(errorText(res.Error, "scrape failed")), nil
	}
	return mcp.NewToolResultText(formatPage(&res, req.ExtractMarkdown)), nil
}

func formatPage(res *models.ScrapeResult, markdown bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nSource: %s\n", res.Title, res.FinalURL)
	if res.Cached {
		sb.WriteString("Cached: yes\n")
	}
	sb.WriteString("\n")
	if markdown && res.Markdown != "" {
		sb.WriteString(res.Markdown)
	} else {
		sb.WriteString(res.Text)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&sb, "\n\nWarning: %s", w)
	}
	return sb.String()
}

func (c *client) handleCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}
	req := models.CrawlRequest{
		StartURL:       url,
		MaxPages:       request.GetInt("max_pages", 0),
		SameDomainOnly: request.GetBool("same_domain_only", false),
		URLPattern:     request.GetString("url_pattern", ""),
		Options:        models.ScrapeRequest{ExtractMarkdown: true},
	}

	if d := request.GetInt("max_depth", -1); d >= 0 {
		req.MaxDepth = &d
	}

	var started struct {
		models.CrawlResponse
		Error *models.ErrorDetail `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/crawl", req, &started); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if started.ID == "" {
		return mcp.NewToolResultError(errorText(started.Error, "crawl job creation failed")), nil
	}

	st, err := c.pollCrawl(ctx, started.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("polling crawl job failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatCrawl(st)), nil
}

// pollCrawl polls a crawl job until it is no longer processing or ctx is
// cancelled.
func (c *client) pollCrawl(ctx context.Context, id string) (*models.CrawlStatusResponse, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var st models.CrawlStatusResponse
			if err := c.do(ctx, http.MethodGet, "/api/v1/crawl/"+id, nil, &st); err != nil {
				return nil, err
			}
			if st.Status != models.CrawlProcessing {
				return &st, nil
			}
		}
	}
}

func formatCrawl(st *models.CrawlStatusResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Crawl %s: %s (%d pages)\n\n", st.ID, st.Status, st.Completed)
	if st.Result == nil {
		return sb.String()
	}
	for i, p := range st.Result.Pages {
		r := p.Result
		switch {
		case r == nil || !r.Success:
			var e *models.ErrorDetail
			if r != nil {
				e = r.Error
			}
			fmt.Fprintf(&sb, "--- Page %d: %s FAILED: %s ---\n\n", i+1, p.URL, errorText(e, "unknown error"))
		case p.Duplicate:
			fmt.Fprintf(&sb, "--- Page %d: %s (duplicate content) ---\n\n", i+1, p.URL)
		default:
			content := r.Markdown
			if content == "" {
				content = r.Text
			}
			fmt.Fprintf(&sb, "--- Page %d: %s (%s) ---\n%s\n\n", i+1, r.Title, p.URL, content)
		}
	}
	return sb.String()
}

func (c *client) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}
	rawFields, err := request.RequireString("fields")
	if err != nil {
		return mcp.NewToolResultError("fields is required"), nil
	}
	var fields map[string]models.FieldSelector
	if err := json.Unmarshal([]byte(rawFields), &fields); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fields must be a JSON object: %v", err)), nil
	}

	var res models.MultiExtractResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/extract", models.ExtractRequest{URL: url, Fields: fields}, &res); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.Success {
		return mcp.NewToolResultError(errorText(res.Error, "extraction failed")), nil
	}

	out, err := json.MarshalIndent(map[string]any{"data": res.Data, "errors": res.Errors}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (c *client) handleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var st models.Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &st); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Jobs: %d total, %d completed, %d failed, %d retries, avg %.0fms\nPool: %d browsers, %d active pages, %d queued\nCache: %d entries, %d hits, %d misses\nBlocked requests: %d",
		st.TotalJobs, st.CompletedJobs, st.FailedJobs, st.RetriedAttempts, st.AverageDurationMs,
		st.ActiveBrowsers, st.ActivePages, st.QueuedJobs,
		st.CacheEntries, st.CacheHits, st.CacheMisses,
		st.BlockedRequests,
	)), nil
}
