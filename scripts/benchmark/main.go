package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/use-agent/harvest/models"
)

// CLI flags
var (
	apiURL   = flag.String("api-url", "http://localhost:8080", "Harvest API base URL")
	apiKey   = flag.String("api-key", "", "API key for authenticated requests")
	runs     = flag.Int("runs", 3, "Number of runs per URL for averaging")
	useCache = flag.Bool("cache", false, "Allow cached results after the first run")
	output   = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering 5 site types.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Blog", "https://go.dev/blog/go1.21"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"News", "https://www.bbc.com/news"},
	{"Complex", "https://github.com/go-rod/rod"},
}

// --- Benchmark result types ---

type runResult struct {
	Run             int    `json:"run"`
	DurationMs      int64  `json:"duration_ms"`
	RoundTripMs     int64  `json:"round_trip_ms"`
	RetryCount      int    `json:"retry_count"`
	BlockedRequests int64  `json:"blocked_requests"`
	MarkdownLength  int    `json:"markdown_length"`
	StatusCode      int    `json:"status_code"`
	Cached          bool   `json:"cached"`
	HasTitle        bool   `json:"has_title"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
}

type urlAverages struct {
	DurationMs      float64 `json:"duration_ms"`
	RoundTripMs     float64 `json:"round_trip_ms"`
	BlockedRequests float64 `json:"blocked_requests"`
	MarkdownLength  float64 `json:"markdown_length"`
}

type urlResult struct {
	URL      string       `json:"url"`
	Label    string       `json:"label"`
	Runs     []runResult  `json:"runs"`
	Averages *urlAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp  string        `json:"timestamp"`
	APIURL     string        `json:"api_url"`
	RunsPerURL int           `json:"runs_per_url"`
	Results    []urlResult   `json:"results"`
	Stats      *models.Stats `json:"stats,omitempty"`
}

func main() {
	flag.Parse()

	fmt.Println("=== Harvest Benchmark Suite ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	client := &http.Client{Timeout: 90 * time.Second}

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure harvest is running (e.g. harvest serve)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}

	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkURL(client, t.URL, i)
			switch {
			case !rr.Success:
				fmt.Printf("FAILED: %s\n", rr.Error)
			case rr.Cached:
				fmt.Printf("OK  %dms  (cached)\n", rr.RoundTripMs)
			default:
				fmt.Printf("OK  %dms  %d blocked\n", rr.DurationMs, rr.BlockedRequests)
			}
			ur.Runs = append(ur.Runs, rr)
		}

		ur.Averages = computeAverages(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	printTable(report.Results)

	var st models.Stats
	if err := get(client, "/api/v1/stats", &st); err == nil {
		report.Stats = &st
		fmt.Printf("\nService: %d jobs, %d failed, %d retries, %d cache hits\n",
			st.TotalJobs, st.FailedJobs, st.RetriedAttempts, st.CacheHits)
	}

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func authorize(req *http.Request) {
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}
}

func get(client *http.Client, path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, *apiURL+path, nil)
	if err != nil {
		return err
	}
	authorize(req)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func benchmarkURL(client *http.Client, url string, run int) runResult {
	rr := runResult{Run: run}

	reqBody := models.ScrapeRequest{
		URL:             url,
		ExtractMarkdown: true,
		TimeoutMs:       60_000,
		Cache:           useCache,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/scrape", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var sr models.ScrapeResult
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}
	rr.RoundTripMs = time.Since(start).Milliseconds()

	rr.Success = sr.Success
	rr.StatusCode = sr.StatusCode
	rr.DurationMs = sr.DurationMs
	rr.RetryCount = sr.RetryCount
	rr.BlockedRequests = sr.BlockedRequests
	rr.MarkdownLength = len(sr.Markdown)
	rr.Cached = sr.Cached
	rr.HasTitle = sr.Title != ""

	if sr.Error != nil {
		rr.Error = fmt.Sprintf("%s: %s", sr.Error.Code, sr.Error.Message)
	}

	return rr
}

func computeAverages(runs []runResult) *urlAverages {
	var successCount int
	var avg urlAverages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		successCount++
		avg.DurationMs += float64(r.DurationMs)
		avg.RoundTripMs += float64(r.RoundTripMs)
		avg.BlockedRequests += float64(r.BlockedRequests)
		avg.MarkdownLength += float64(r.MarkdownLength)
	}

	if successCount == 0 {
		return nil
	}

	n := float64(successCount)
	avg.DurationMs /= n
	avg.RoundTripMs /= n
	avg.BlockedRequests /= n
	avg.MarkdownLength /= n
	return &avg
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tAvg Job\tAvg Round Trip\tBlocked\tMarkdown Len\tStatus\n")
	fmt.Fprintf(w, "───\t───────\t──────────────\t───────\t────────────\t──────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\t-\n", truncateURL(r.URL, 40))
			continue
		}

		fmt.Fprintf(w, "%s\t%dms\t%dms\t%.0f\t%s\t%d\n",
			truncateURL(r.URL, 40),
			int64(r.Averages.DurationMs),
			int64(r.Averages.RoundTripMs),
			r.Averages.BlockedRequests,
			formatInt(int(r.Averages.MarkdownLength)),
			dominantStatus(r.Runs),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func dominantStatus(runs []runResult) int {
	counts := map[int]int{}
	for _, r := range runs {
		if r.Success {
			counts[r.StatusCode]++
		}
	}
	best, bestCount := 0, 0
	for code, count := range counts {
		if count > bestCount {
			best = code
			bestCount = count
		}
	}
	return best
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func formatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
