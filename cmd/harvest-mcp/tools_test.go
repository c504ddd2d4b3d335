package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/use-agent/harvest/models"
)

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return ""
}

func TestScrapeTool(t *testing.T) {
	var got models.ScrapeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/scrape" || r.Header.Get("X-API-Key") != "k" {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(models.ScrapeResult{
			Success:  true,
			Title:    "Hello",
			FinalURL: "https://a.test/",
			Markdown: "# Hello",
			Text:     "Hello",
		})
	}))
	defer srv.Close()

	c := newClient(srv.URL+"/", "k")
	res, err := c.handleScrape(context.Background(), call("scrape_url", map[string]any{"url": "https://a.test/"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", resultText(t, res))
	}
	text := resultText(t, res)
	if !strings.Contains(text, "Title: Hello") || !strings.Contains(text, "# Hello") {
		t.Errorf("text = %q", text)
	}
	if got.URL != "https://a.test/" || !got.ExtractMarkdown {
		t.Errorf("request = %+v", got)
	}
}

func TestScrapeToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: &models.ErrorDetail{Code: models.ErrCodeNavigation, Message: "dns"}})
	}))
	defer srv.Close()

	c := newClient(srv.URL, "k")
	res, _ := c.handleScrape(context.Background(), call("scrape_url", map[string]any{"url": "https://down.test/"}))
	if !res.IsError || !strings.Contains(resultText(t, res), models.ErrCodeNavigation) {
		t.Errorf("result = %+v", res)
	}

	res, _ = c.handleScrape(context.Background(), call("scrape_url", map[string]any{}))
	if !res.IsError {
		t.Error("missing url accepted")
	}
}

func TestCrawlToolPolls(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/crawl":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(models.CrawlResponse{ID: "crawl-1", Status: models.CrawlProcessing})
		case r.URL.Path == "/api/v1/crawl/crawl-1":
			if polls.Add(1) < 2 {
				_ = json.NewEncoder(w).Encode(models.CrawlStatusResponse{ID: "crawl-1", Status: models.CrawlProcessing})
				return
			}
			_ = json.NewEncoder(w).Encode(models.CrawlStatusResponse{
				ID: "crawl-1", Status: models.CrawlPartial, Completed: 2,
				Result: &models.CrawlResult{Pages: []*models.CrawlPage{
					{URL: "https://a.test/", Result: &models.ScrapeResult{Success: true, Title: "Home", Markdown: "home body"}},
					{URL: "https://a.test/x", Depth: 1, Result: &models.ScrapeResult{Error: &models.ErrorDetail{Code: models.ErrCodeNavigation, Message: "boom"}}},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newClient(srv.URL, "k")
	c.pollInterval = time.Millisecond
	res, err := c.handleCrawl(context.Background(), call("crawl_site", map[string]any{"url": "https://a.test/", "max_pages": 5.0}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if res.IsError || !strings.Contains(text, "partial") || !strings.Contains(text, "home body") || !strings.Contains(text, "FAILED") {
		t.Errorf("text = %q", text)
	}
	if polls.Load() != 2 {
		t.Errorf("polls = %d", polls.Load())
	}
}

func TestExtractTool(t *testing.T) {
	var got models.ExtractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(models.MultiExtractResult{
			Success: true,
			Data:    map[string]any{"title": "Widget"},
			Errors:  map[string]string{"sku": "no element matches .sku"},
		})
	}))
	defer srv.Close()

	c := newClient(srv.URL, "k")
	res, _ := c.handleExtract(context.Background(), call("extract_fields", map[string]any{
		"url":    "https://a.test/p",
		"fields": `{"title": {"selector": "h1"}, "sku": {"selector": ".sku"}}`,
	}))
	text := resultText(t, res)
	if res.IsError || !strings.Contains(text, "Widget") || !strings.Contains(text, "sku") {
		t.Errorf("text = %q", text)
	}
	if got.Fields["title"].Selector != "h1" {
		t.Errorf("request = %+v", got)
	}

	res, _ = c.handleExtract(context.Background(), call("extract_fields", map[string]any{"url": "https://a.test/p", "fields": "[1]"}))
	if !res.IsError {
		t.Error("non-object fields accepted")
	}
}
