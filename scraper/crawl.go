package scraper

import (
	"context"

	"github.com/use-agent/harvest/crawler"
	"github.com/use-agent/harvest/models"
)

// Crawl runs a breadth-first crawl whose pages go through Scrape, sharing
// the pool, cache and rate limiter of every other job. onPage may be nil.
func (s *Scraper) Crawl(ctx context.Context, req *models.CrawlRequest, onPage func(*models.CrawlPage)) (*models.CrawlResult, error) {
	c := crawler.New(s, crawler.Options{OnPage: onPage, Logger: s.log})
	return c.Crawl(ctx, req)
}

// CrawlStatus reports the overall status of a finished crawl: failed when
// no page succeeded, partial when some did, completed otherwise.
func CrawlStatus(res *models.CrawlResult) string {
	switch {
	case res == nil || res.Visited == 0:
		return models.CrawlFailed
	case res.Failed == res.Visited:
		return models.CrawlFailed
	case res.Failed > 0:
		return models.CrawlPartial
	default:
		return models.CrawlCompleted
	}
}
