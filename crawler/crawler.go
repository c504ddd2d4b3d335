// Package crawler walks a site breadth-first on top of single-page scrapes.
package crawler

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/simhash"
	"golang.org/x/sync/errgroup"
)

// Scraper is the single-page primitive the crawler builds on.
type Scraper interface {
	Scrape(ctx context.Context, req *models.ScrapeRequest) *models.ScrapeResult
}

// Options configures a Crawler.
type Options struct {
	// OnPage is called after each page is recorded, in record order.
	OnPage func(page *models.CrawlPage)
	Logger *slog.Logger
}

// Crawler runs breadth-first crawls. One Crawler may run many crawls
// concurrently.
type Crawler struct {
	sc   Scraper
	opts Options
	log  *slog.Logger
}

// New returns a Crawler scraping pages through sc.
func New(sc Scraper, opts Options) *Crawler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Crawler{sc: sc, opts: opts, log: log}
}

type item struct {
	url   string
	depth int
}

type crawl struct {
	req      models.CrawlRequest
	host     string
	pattern  *regexp.Regexp
	dedupe   *simhash.Index
	seen     map[string]bool // enqueued or visited
	visited  map[string]bool
	frontier []item
	result   *models.CrawlResult
}

// Crawl visits pages from req.StartURL in FIFO order. Each URL is visited
// at most once, at most MaxPages pages are visited, and links are only
// followed from pages shallower than MaxDepth. Page failures are recorded
// and do not stop the crawl. Cancelling ctx stops it early with the pages
// visited so far.
func (c *Crawler) Crawl(ctx context.Context, req *models.CrawlRequest) (*models.CrawlResult, error) {
	r := *req
	r.Defaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	startURL := normalize(r.StartURL)
	u, _ := url.Parse(startURL)

	cr := &crawl{
		req:      r,
		host:     strings.ToLower(u.Hostname()),
		seen:     map[string]bool{startURL: true},
		visited:  make(map[string]bool),
		frontier: []item{{url: startURL, depth: 0}},
		result:   &models.CrawlResult{StartURL: r.StartURL, Pages: []*models.CrawlPage{}},
	}
	if r.URLPattern != "" {
		cr.pattern = regexp.MustCompile(r.URLPattern)
	}
	if r.SkipDuplicateContent {
		cr.dedupe = simhash.NewIndex(simhash.DefaultThreshold)
	}

	for len(cr.frontier) > 0 && cr.result.Visited < r.MaxPages {
		if ctx.Err() != nil {
			c.log.Info("crawl canceled", "start_url", r.StartURL, "visited", cr.result.Visited)
			break
		}
		batch := cr.next(min(r.Concurrency, r.MaxPages-cr.result.Visited))
		if len(batch) == 0 {
			break
		}
		results := c.scrapeBatch(ctx, batch, r.Options, r.Concurrency)
		for i, it := range batch {
			page := cr.record(it, results[i])
			if c.opts.OnPage != nil {
				c.opts.OnPage(page)
			}
		}
	}

	cr.result.DurationMs = time.Since(start).Milliseconds()
	c.log.Info("crawl finished",
		"start_url", r.StartURL,
		"visited", cr.result.Visited,
		"failed", cr.result.Failed,
		"duration_ms", cr.result.DurationMs,
	)
	return cr.result, nil
}

// next dequeues up to n unvisited items and marks them visited.
func (cr *crawl) next(n int) []item {
	var batch []item
	for len(cr.frontier) > 0 && len(batch) < n {
		it := cr.frontier[0]
		cr.frontier = cr.frontier[1:]
		if cr.visited[it.url] {
			continue
		}
		cr.visited[it.url] = true
		cr.result.Visited++
		batch = append(batch, it)
	}
	return batch
}

func (c *Crawler) scrapeBatch(ctx context.Context, batch []item, tmpl models.ScrapeRequest, limit int) []*models.ScrapeResult {
	results := make([]*models.ScrapeResult, len(batch))
	if len(batch) == 1 {
		results[0] = c.sc.Scrape(ctx, pageRequest(tmpl, batch[0].url))
		return results
	}

	var g errgroup.Group
	g.SetLimit(limit)
	var mu sync.Mutex
	for i, it := range batch {
		g.Go(func() error {
			res := c.sc.Scrape(ctx, pageRequest(tmpl, it.url))
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func pageRequest(tmpl models.ScrapeRequest, target string) *models.ScrapeRequest {
	req := tmpl
	req.URL = target
	req.ExtractLinks = true
	return &req
}

// record adds a finished page to the result and expands its links.
func (cr *crawl) record(it item, res *models.ScrapeResult) *models.CrawlPage {
	page := &models.CrawlPage{URL: it.url, Depth: it.depth, Result: res}
	cr.result.Pages = append(cr.result.Pages, page)

	links := res.Links
	if !cr.req.Options.ExtractLinks {
		res.Links = nil
	}
	if !res.Success {
		cr.result.Failed++
		return page
	}

	// A redirect target counts as visited so it is not crawled again
	// under its own URL.
	if res.FinalURL != "" {
		final := normalize(res.FinalURL)
		cr.visited[final] = true
		cr.seen[final] = true
	}

	if cr.dedupe != nil && cr.dedupe.Seen(simhash.Page(res.Text, res.HTML)) {
		page.Duplicate = true
		return page
	}
	if it.depth >= cr.req.Depth() {
		return page
	}

	for _, l := range links {
		next := normalize(l.Href)
		if next == "" || cr.seen[next] || !cr.follow(next) {
			continue
		}
		cr.seen[next] = true
		cr.frontier = append(cr.frontier, item{url: next, depth: it.depth + 1})
	}
	return page
}

func (cr *crawl) follow(link string) bool {
	if cr.req.SameDomainOnly {
		u, err := url.Parse(link)
		if err != nil || !strings.EqualFold(u.Hostname(), cr.host) {
			return false
		}
	}
	if cr.pattern != nil && !cr.pattern.MatchString(link) {
		return false
	}
	return true
}

// normalize makes equivalent URLs compare equal: lower-case scheme and
// host, no default port, no fragment, and "/" for an empty path.
// Non-http(s) URLs normalize to "".
func normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
