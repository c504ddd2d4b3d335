package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	apiURL := os.Getenv("HARVEST_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("HARVEST_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "HARVEST_API_KEY is required")
		os.Exit(1)
	}

	if err := server.ServeStdio(newServer(newClient(apiURL, apiKey))); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(c *client) *server.MCPServer {
	s := server.NewMCPServer(
		"harvest",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("scrape_url",
		mcp.WithDescription("Load a web page in a headless browser and return its title and content. Handles JavaScript-heavy pages."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithBoolean("markdown",
			mcp.Description("Return the page as Markdown (default: true). When false, plain text is returned."),
		),
		mcp.WithString("wait_for_selector",
			mcp.Description("CSS selector to wait for before reading the page"),
		),
		mcp.WithString("session_id",
			mcp.Description("Saved session whose cookies and local storage are restored"),
		),
	), c.handleScrape)

	s.AddTool(mcp.NewTool("crawl_site",
		mcp.WithDescription("Crawl a website breadth-first from a URL, following links up to a depth. Returns the content of every visited page."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The starting URL to crawl from"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Maximum link depth from the starting URL (default: 2)"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Maximum number of pages to visit (default: 50)"),
		),
		mcp.WithBoolean("same_domain_only",
			mcp.Description("Only follow links on the starting URL's host"),
		),
		mcp.WithString("url_pattern",
			mcp.Description("Regular expression a link must match to be followed"),
		),
	), c.handleCrawl)

	s.AddTool(mcp.NewTool("extract_fields",
		mcp.WithDescription("Load a web page and read named fields with CSS selectors. Fields that do not match are reported separately."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page"),
		),
		mcp.WithString("fields",
			mcp.Required(),
			mcp.Description(`JSON object mapping field names to selectors, e.g. {"title": {"selector": "h1"}, "links": {"selector": "a", "type": "href", "multiple": true}}. Types: text, html, attribute, href, src.`),
		),
	), c.handleExtract)

	s.AddTool(mcp.NewTool("service_stats",
		mcp.WithDescription("Report job, browser pool and cache counters of the harvest service."),
	), c.handleStats)

	return s
}
