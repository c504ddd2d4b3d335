package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
	"github.com/use-agent/harvest/webhook"
)

const (
	crawlJobTTL      = time.Hour
	crawlJanitorTick = 5 * time.Minute
)

// CrawlStore holds in-flight and completed crawl jobs. Finished jobs are
// expired an hour after they finished.
type CrawlStore struct {
	ctx context.Context

	mu   sync.Mutex
	jobs map[string]*models.CrawlJob
}

// NewCrawlStore returns a store whose crawls and janitor stop when ctx is
// done.
func NewCrawlStore(ctx context.Context) *CrawlStore {
	s := &CrawlStore{ctx: ctx, jobs: make(map[string]*models.CrawlJob)}
	go s.janitor()
	return s
}

func (s *CrawlStore) janitor() {
	ticker := time.NewTicker(crawlJanitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.expire(now.Add(-crawlJobTTL))
		}
	}
}

// expire drops jobs that finished before cutoff and returns how many.
func (s *CrawlStore) expire(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.Status != models.CrawlProcessing && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

func (s *CrawlStore) add() *models.CrawlJob {
	job := &models.CrawlJob{
		ID:        "crawl-" + uuid.NewString(),
		Status:    models.CrawlProcessing,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job
}

func (s *CrawlStore) progress(id string) {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok {
		job.Completed++
	}
	s.mu.Unlock()
}

func (s *CrawlStore) finish(id, status string, res *models.CrawlResult) {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.Result = res
		job.FinishedAt = time.Now()
		if res != nil {
			job.Completed = len(res.Pages)
		}
	}
	s.mu.Unlock()
}

// Status returns a snapshot of a job.
func (s *CrawlStore) Status(id string) (models.CrawlStatusResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.CrawlStatusResponse{}, false
	}
	return models.CrawlStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		Completed: job.Completed,
		Result:    job.Result,
	}, true
}

// PostCrawl returns a handler for POST /api/v1/crawl.
//
// The crawl runs in the background; clients poll GET /crawl/:id or pass a
// webhook_url to be notified when it finishes.
func PostCrawl(sc *scraper.Scraper, store *CrawlStore, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CrawlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Defaults()
		if err := req.Validate(); err != nil {
			respondError(c, models.AsScrapeError(err, models.ErrCodeInvalidInput))
			return
		}

		job := store.add()
		go runCrawl(sc, store, log, job.ID, req)

		c.JSON(http.StatusAccepted, models.CrawlResponse{
			ID:     job.ID,
			Status: models.CrawlProcessing,
		})
	}
}

// GetCrawl returns a handler for GET /api/v1/crawl/:id.
func GetCrawl(store *CrawlStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := store.Status(c.Param("id"))
		if !ok {
			respondError(c, models.NewScrapeError(models.ErrCodeNotFound, "crawl job not found", nil))
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func runCrawl(sc *scraper.Scraper, store *CrawlStore, log *slog.Logger, id string, req models.CrawlRequest) {
	res, err := sc.Crawl(store.ctx, &req, func(*models.CrawlPage) { store.progress(id) })
	status := models.CrawlFailed
	if err == nil {
		status = scraper.CrawlStatus(res)
	}
	store.finish(id, status, res)

	log.Info("crawl job finished", "id", id, "status", status, "error", err)

	if req.WebhookURL == "" {
		return
	}
	typ := webhook.CrawlCompleted
	if status == models.CrawlFailed {
		typ = webhook.CrawlFailed
	}
	st, _ := store.Status(id)
	webhook.DeliverAsync(log, req.WebhookURL, req.WebhookSecret, webhook.NewEvent(typ, id, st), nil)
}
