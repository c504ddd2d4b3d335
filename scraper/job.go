package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
)

// errAttemptTimeout is the cancellation cause of an attempt that ran out
// of time, as opposed to one whose caller went away.
var errAttemptTimeout = errors.New("attempt timed out")

// maxBackoffShift caps the exponential backoff at base × 2^10.
const maxBackoffShift = 10

// Scrape runs one job: cache lookup, then up to 1+retries attempts of
// rate limit, page acquisition, navigation, interaction and extraction.
// It always returns a result; failures are reported through Success and
// Error rather than a Go error.
func (s *Scraper) Scrape(ctx context.Context, req *models.ScrapeRequest) *models.ScrapeResult {
	start := time.Now()
	jobID := uuid.NewString()
	s.stats.total.Add(1)

	var target string
	if req != nil {
		target = req.URL
	}
	s.obs.JobState(jobID, target, models.JobQueued, 0)

	res := s.run(ctx, jobID, req, start)
	res.URL = target
	res.DurationMs = time.Since(start).Milliseconds()
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}

	s.recordDone(res)
	s.obs.JobDone(jobID, res)
	return res
}

func (s *Scraper) run(ctx context.Context, jobID string, req *models.ScrapeRequest, start time.Time) *models.ScrapeResult {
	if req == nil {
		return failed(models.NewScrapeError(models.ErrCodeInvalidInput, "request is required", nil), 0)
	}
	if err := req.Validate(); err != nil {
		return failed(models.AsScrapeError(err, models.ErrCodeInvalidInput), 0)
	}

	useCache := s.cacheable(req)
	if useCache {
		if hit, ok := s.cache.Get(req); ok {
			s.obs.JobState(jobID, req.URL, models.JobSucceeded, 0)
			return hit
		}
	}

	retries := s.cfg.Job.RetryAttempts
	if req.Retries != nil {
		retries = *req.Retries
	}
	host := hostOf(req.URL)

	for attempt := 0; ; attempt++ {
		res, serr := s.attempt(ctx, jobID, req, host, attempt)
		if serr == nil {
			res.RetryCount = attempt
			res.DurationMs = time.Since(start).Milliseconds()
			res.Timestamp = time.Now().UTC()
			if useCache {
				s.cache.Put(req, res, s.cacheTTL(req))
			}
			s.obs.JobState(jobID, req.URL, models.JobSucceeded, attempt)
			return res
		}

		s.obs.JobState(jobID, req.URL, models.JobFailed, attempt)
		if ctx.Err() != nil {
			return failed(models.NewScrapeError(models.ErrCodeCanceled, "job canceled", ctx.Err()), attempt)
		}
		if !serr.Retryable() || attempt >= retries {
			return failed(serr, attempt)
		}

		delay := s.backoff(attempt)
		s.log.Debug("attempt failed, retrying",
			"job", jobID,
			"url", req.URL,
			"attempt", attempt,
			"code", serr.Code,
			"error", serr.Message,
			"backoff", delay,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return failed(models.NewScrapeError(models.ErrCodeCanceled, "job canceled during backoff", err), attempt)
		}
		s.stats.retried.Add(1)
		s.obs.JobState(jobID, req.URL, models.JobQueued, attempt+1)
	}
}

// attempt is one pass through allocating, navigating, interacting and
// extracting on a fresh page. The page is released before it returns.
func (s *Scraper) attempt(ctx context.Context, jobID string, req *models.ScrapeRequest, host string, attempt int) (*models.ScrapeResult, *models.ScrapeError) {
	s.obs.JobState(jobID, req.URL, models.JobAllocating, attempt)
	if err := s.limiter.Wait(ctx, host); err != nil {
		return nil, models.AsScrapeError(err, models.ErrCodeCanceled)
	}

	prof := s.profileFor(req)
	lease, err := s.pool.Acquire(ctx, engine.Hints{SessionID: req.SessionID, Profile: prof.hintKey()})
	if err != nil {
		return nil, models.AsScrapeError(err, models.ErrCodePoolTimeout)
	}
	defer lease.Release()
	page := lease.Page

	actx, cancel := context.WithTimeoutCause(ctx, s.timeout(req), errAttemptTimeout)
	defer cancel()

	s.obs.JobState(jobID, req.URL, models.JobNavigating, attempt)
	rules, err := s.blocker.Rules(req.BlockRules, s.blockAds(req))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err)
	}
	if !rules.Empty() {
		stop, err := page.Intercept(rules.Decide)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to install request interception", err)
		}
		defer stop()
	}
	if err := s.prepare(page, req, prof); err != nil {
		return nil, err
	}

	waitUntil := req.WaitUntil
	if waitUntil == "" {
		waitUntil = models.WaitUntilLoad
	}
	if err := page.Navigate(actx, req.URL, waitUntil); err != nil {
		return nil, classify(actx, err, models.ErrCodeNavigationTimeout, models.ErrCodeNavigation, "navigation to target URL failed")
	}

	s.obs.JobState(jobID, req.URL, models.JobInteracting, attempt)
	if err := interact(actx, page, req); err != nil {
		return nil, err
	}

	s.obs.JobState(jobID, req.URL, models.JobExtracting, attempt)
	res, serr := capture(actx, page, req)
	if serr != nil {
		return nil, serr
	}
	res.BlockedRequests = rules.Hits()

	if req.SaveSession {
		s.saveSession(ctx, lease, req.SessionID, res)
	}
	return res, nil
}

// prepare applies identity and request state to a page before navigation.
func (s *Scraper) prepare(page engine.Page, req *models.ScrapeRequest, prof profile) *models.ScrapeError {
	fail := func(what string, err error) *models.ScrapeError {
		return models.NewScrapeError(models.ErrCodeNavigation, "failed to "+what, err)
	}

	if prof.stealth {
		if err := page.InjectScript(stealthScript()); err != nil {
			s.log.Warn("stealth injection failed, proceeding without stealth", "url", req.URL, "error", err)
		}
	}
	if prof.userAgent != "" {
		if err := page.SetUserAgent(prof.userAgent); err != nil {
			return fail("set user agent", err)
		}
	}
	if prof.viewport.Width > 0 && prof.viewport.Height > 0 {
		if err := page.SetViewport(prof.viewport.Width, prof.viewport.Height); err != nil {
			return fail("set viewport", err)
		}
	}
	if err := page.SetHeaders(prof.headers); err != nil {
		return fail("set headers", err)
	}
	if len(req.Cookies) > 0 {
		if err := page.SetCookies(requestCookies(req)); err != nil {
			return fail("set cookies", err)
		}
	}
	return nil
}

// requestCookies fills in the domain and path of request cookies from the
// target URL.
func requestCookies(req *models.ScrapeRequest) []models.Cookie {
	host := hostOf(req.URL)
	out := make([]models.Cookie, len(req.Cookies))
	for i, c := range req.Cookies {
		if c.Domain == "" {
			c.Domain = host
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out[i] = c
	}
	return out
}

// classify maps a browser error to a job error code. A timeout of the
// attempt itself or of a single step maps to timeoutCode; a caller that
// went away maps to CANCELED.
func classify(actx context.Context, err error, timeoutCode, failCode, msg string) *models.ScrapeError {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(context.Cause(actx), errAttemptTimeout):
		return models.NewScrapeError(timeoutCode, msg+": timed out", err)
	case actx.Err() != nil:
		return models.NewScrapeError(models.ErrCodeCanceled, "job canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(timeoutCode, msg+": timed out", err)
	default:
		return models.NewScrapeError(failCode, fmt.Sprintf("%s: %v", msg, err), err)
	}
}

func failed(err *models.ScrapeError, retries int) *models.ScrapeResult {
	return &models.ScrapeResult{
		Success:    false,
		Error:      err.ToDetail(),
		RetryCount: retries,
	}
}

func (s *Scraper) timeout(req *models.ScrapeRequest) time.Duration {
	d := s.cfg.Job.Timeout
	if req.TimeoutMs > 0 {
		d = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if d > s.cfg.Job.MaxTimeout {
		d = s.cfg.Job.MaxTimeout
	}
	return d
}

func (s *Scraper) backoff(attempt int) time.Duration {
	return s.cfg.Job.RetryBaseDelay << min(attempt, maxBackoffShift)
}

func (s *Scraper) blockAds(req *models.ScrapeRequest) bool {
	if req.BlockAds != nil {
		return *req.BlockAds
	}
	return s.cfg.Job.BlockAds
}

// cacheable reports whether req reads and populates the cache. Jobs that
// save a session always run so the session is written.
func (s *Scraper) cacheable(req *models.ScrapeRequest) bool {
	if s.cache == nil || !s.cfg.CacheEnabled || req.SaveSession {
		return false
	}
	return req.Cache == nil || *req.Cache
}

func (s *Scraper) cacheTTL(req *models.ScrapeRequest) time.Duration {
	if req.CacheTTLMs > 0 {
		return time.Duration(req.CacheTTLMs) * time.Millisecond
	}
	return s.cfg.CacheTTL
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
