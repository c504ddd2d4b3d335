package crawler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/harvest/models"
)

type fakePage struct {
	links []string
	text  string
	final string
	fail  bool
}

type fakeScraper struct {
	mu       sync.Mutex
	pages    map[string]fakePage
	visits   map[string]int
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	reqs     []*models.ScrapeRequest
}

func newFake(pages map[string]fakePage) *fakeScraper {
	return &fakeScraper{pages: pages, visits: make(map[string]int)}
}

func (f *fakeScraper) Scrape(ctx context.Context, req *models.ScrapeRequest) *models.ScrapeResult {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.visits[req.URL]++
	f.reqs = append(f.reqs, req)
	p, ok := f.pages[req.URL]
	f.mu.Unlock()

	if !ok || p.fail {
		return &models.ScrapeResult{URL: req.URL, Error: &models.ErrorDetail{Code: models.ErrCodeNavigation, Message: "boom"}}
	}
	res := &models.ScrapeResult{Success: true, URL: req.URL, FinalURL: p.final, Text: p.text}
	if res.FinalURL == "" {
		res.FinalURL = req.URL
	}
	if req.ExtractLinks {
		for _, l := range p.links {
			res.Links = append(res.Links, models.Link{Href: l})
		}
	}
	return res
}

func (f *fakeScraper) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visits[u]
}

func urls(res *models.CrawlResult) []string {
	out := make([]string, len(res.Pages))
	for i, p := range res.Pages {
		out[i] = p.URL
	}
	return out
}

func TestCrawlCycleVisitsEachPageOnce(t *testing.T) {
	f := newFake(map[string]fakePage{
		"https://a.test/":  {links: []string{"https://a.test/b"}},
		"https://a.test/b": {links: []string{"https://a.test/c", "https://a.test/b#top"}},
		"https://a.test/c": {links: []string{"https://a.test/"}},
	})
	res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{
		StartURL: "https://a.test/",
		MaxDepth: depth(5),
		MaxPages: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Visited != 3 || len(res.Pages) != 3 {
		t.Fatalf("visited %d pages %v, want 3", res.Visited, urls(res))
	}
	for _, u := range []string{"https://a.test/", "https://a.test/b", "https://a.test/c"} {
		if n := f.count(u); n != 1 {
			t.Errorf("%s scraped %d times, want 1", u, n)
		}
	}
	want := []int{0, 1, 2}
	for i, p := range res.Pages {
		if p.Depth != want[i] {
			t.Errorf("page %s depth = %d, want %d", p.URL, p.Depth, want[i])
		}
	}
}

func TestCrawlBreadthFirstOrder(t *testing.T) {
	f := newFake(map[string]fakePage{
		"https://a.test/":   {links: []string{"https://a.test/1", "https://a.test/2"}},
		"https://a.test/1":  {links: []string{"https://a.test/11"}},
		"https://a.test/2":  {links: []string{"https://a.test/21"}},
		"https://a.test/11": {},
		"https://a.test/21": {},
	})
	res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{StartURL: "https://a.test/", MaxDepth: depth(3)})
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(urls(res), " ")
	want := "https://a.test/ https://a.test/1 https://a.test/2 https://a.test/11 https://a.test/21"
	if got != want {
		t.Errorf("order = %s\nwant %s", got, want)
	}
}

func TestCrawlMaxPages(t *testing.T) {
	pages := map[string]fakePage{"https://a.test/": {}}
	root := pages["https://a.test/"]
	for _, p := range []string{"a", "b", "c", "d", "e", "f"} {
		u := "https://a.test/" + p
		root.links = append(root.links, u)
		pages[u] = fakePage{}
	}
	pages["https://a.test/"] = root

	res, err := New(newFake(pages), Options{}).Crawl(context.Background(), &models.CrawlRequest{
		StartURL: "https://a.test/",
		MaxPages: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Visited != 4 || len(res.Pages) != 4 {
		t.Errorf("visited = %d, pages = %d, want 4", res.Visited, len(res.Pages))
	}
}

func depth(n int) *int { return &n }

func TestCrawlMaxDepth(t *testing.T) {
	chain := map[string]fakePage{
		"https://a.test/":  {links: []string{"https://a.test/1"}},
		"https://a.test/1": {links: []string{"https://a.test/2"}},
		"https://a.test/2": {links: []string{"https://a.test/3"}},
		"https://a.test/3": {},
	}
	cases := []struct {
		name     string
		maxDepth *int
		want     []string
	}{
		{"start page only", depth(0), []string{"https://a.test/"}},
		{"one level", depth(1), []string{"https://a.test/", "https://a.test/1"}},
		{"default", nil, []string{"https://a.test/", "https://a.test/1", "https://a.test/2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFake(chain)
			res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{
				StartURL: "https://a.test/",
				MaxDepth: tc.maxDepth,
				MaxPages: 10,
			})
			if err != nil {
				t.Fatal(err)
			}
			got := urls(res)
			if strings.Join(got, " ") != strings.Join(tc.want, " ") {
				t.Errorf("visited = %v, want %v", got, tc.want)
			}
			for _, p := range res.Pages {
				if p.Depth > len(tc.want)-1 {
					t.Errorf("page %s at depth %d", p.URL, p.Depth)
				}
			}
		})
	}
}

func TestCrawlFilters(t *testing.T) {
	f := newFake(map[string]fakePage{
		"https://a.test/": {links: []string{
			"https://other.test/x",
			"https://a.test/blog/1",
			"https://a.test/about",
			"mailto:me@a.test",
		}},
		"https://a.test/blog/1": {},
		"https://a.test/about":  {},
	})
	res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{
		StartURL:       "https://a.test/",
		SameDomainOnly: true,
		URLPattern:     `/blog/`,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(urls(res), " ")
	if got != "https://a.test/ https://a.test/blog/1" {
		t.Errorf("pages = %s", got)
	}
}

func TestCrawlRecordsFailures(t *testing.T) {
	f := newFake(map[string]fakePage{
		"https://a.test/":  {links: []string{"https://a.test/1", "https://a.test/2"}},
		"https://a.test/1": {fail: true, links: []string{"https://a.test/3"}},
		"https://a.test/2": {},
	})
	res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{StartURL: "https://a.test/"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Visited != 3 || res.Failed != 1 {
		t.Errorf("visited = %d, failed = %d, want 3 and 1", res.Visited, res.Failed)
	}
	if res.Pages[1].Result.Success || res.Pages[1].Result.Error == nil {
		t.Error("failed page should carry its error")
	}
}

func TestCrawlRedirectTargetCountsAsVisited(t *testing.T) {
	f := newFake(map[string]fakePage{
		"https://a.test/":    {links: []string{"https://a.test/old", "https://a.test/new"}},
		"https://a.test/old": {final: "https://a.test/new"},
		"https://a.test/new": {},
	})
	res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{StartURL: "https://a.test/"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Visited != 2 || f.count("https://a.test/new") != 0 {
		t.Errorf("pages = %v, redirect target should not be scraped again", urls(res))
	}
}

func TestCrawlSkipDuplicateContent(t *testing.T) {
	body := "the quick brown fox jumps over the lazy dog again and again near the river bank"
	f := newFake(map[string]fakePage{
		"https://a.test/":      {text: "index page listing", links: []string{"https://a.test/p1", "https://a.test/p2"}},
		"https://a.test/p1":    {text: body, links: []string{"https://a.test/more1"}},
		"https://a.test/p2":    {text: body, links: []string{"https://a.test/more2"}},
		"https://a.test/more1": {text: "first follow up"},
		"https://a.test/more2": {text: "second follow up"},
	})
	res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{
		StartURL:             "https://a.test/",
		MaxDepth:             depth(3),
		SkipDuplicateContent: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	var dup int
	for _, p := range res.Pages {
		if p.Duplicate {
			dup++
			if p.URL != "https://a.test/p2" {
				t.Errorf("unexpected duplicate %s", p.URL)
			}
		}
	}
	if dup != 1 {
		t.Errorf("duplicates = %d, want 1", dup)
	}
	if f.count("https://a.test/more2") != 0 {
		t.Error("links of a duplicate page were followed")
	}
	if f.count("https://a.test/more1") != 1 {
		t.Error("links of the first copy should be followed")
	}
}

func TestCrawlConcurrency(t *testing.T) {
	pages := map[string]fakePage{}
	var links []string
	for _, p := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		u := "https://a.test/" + p
		links = append(links, u)
		pages[u] = fakePage{}
	}
	pages["https://a.test/"] = fakePage{links: links}
	f := newFake(pages)
	f.delay = 20 * time.Millisecond

	res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{
		StartURL:    "https://a.test/",
		Concurrency: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Visited != 9 {
		t.Errorf("visited = %d, want 9", res.Visited)
	}
	if p := f.peak.Load(); p < 2 || p > 3 {
		t.Errorf("peak concurrency = %d, want 2..3", p)
	}
	for _, u := range links {
		if f.count(u) != 1 {
			t.Errorf("%s scraped %d times", u, f.count(u))
		}
	}
}

func TestCrawlAppliesTemplate(t *testing.T) {
	f := newFake(map[string]fakePage{
		"https://a.test/":  {links: []string{"https://a.test/1"}},
		"https://a.test/1": {},
	})
	res, err := New(f, Options{}).Crawl(context.Background(), &models.CrawlRequest{
		StartURL: "https://a.test/",
		Options:  models.ScrapeRequest{URL: "https://ignored.test/", ExtractMarkdown: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range f.reqs {
		if !r.ExtractMarkdown || strings.Contains(r.URL, "ignored") {
			t.Errorf("request %+v did not follow the template", r)
		}
	}
	for _, p := range res.Pages {
		if p.Result.Links != nil {
			t.Error("links should be dropped when the template did not ask for them")
		}
	}
}

func TestCrawlOnPageAndCancel(t *testing.T) {
	f := newFake(map[string]fakePage{
		"https://a.test/":  {links: []string{"https://a.test/1", "https://a.test/2"}},
		"https://a.test/1": {},
		"https://a.test/2": {},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	c := New(f, Options{OnPage: func(p *models.CrawlPage) {
		seen = append(seen, p.URL)
		cancel()
	}})
	res, err := c.Crawl(ctx, &models.CrawlRequest{StartURL: "https://a.test/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || res.Visited != 1 {
		t.Errorf("seen = %v, visited = %d, want to stop after the first page", seen, res.Visited)
	}
}

func TestCrawlInvalidRequest(t *testing.T) {
	c := New(newFake(nil), Options{})
	if _, err := c.Crawl(context.Background(), &models.CrawlRequest{StartURL: "ftp://a.test/"}); err == nil {
		t.Error("expected an error for a non-http start URL")
	}
	if _, err := c.Crawl(context.Background(), &models.CrawlRequest{StartURL: "https://a.test/", URLPattern: "("}); err == nil {
		t.Error("expected an error for a bad url pattern")
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"HTTPS://A.Test":            "https://a.test/",
		"https://a.test:443/x#frag": "https://a.test/x",
		"http://a.test:8080/x?q=1":  "http://a.test:8080/x?q=1",
		"http://[::1]:8080/":        "http://[::1]:8080/",
		"http://[::1]:80/a":         "http://[::1]/a",
		"https://[FE80::1]/":        "https://[fe80::1]/",
		"mailto:x@a.test":           "",
		"javascript:void(0)":        "",
	}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
