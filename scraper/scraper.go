package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/harvest/blocker"
	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/ratelimit"
	"github.com/use-agent/harvest/session"
)

// Config holds the job-level settings of a Scraper.
type Config struct {
	Job     config.JobConfig
	Browser config.BrowserConfig

	CacheEnabled bool
	CacheTTL     time.Duration
}

// Deps are the shared components a Scraper drives. Pool, Limiter and
// Blocker are required; Cache and Sessions may be nil.
type Deps struct {
	Pool     *engine.Pool
	Limiter  *ratelimit.Limiter
	Blocker  *blocker.Blocker
	Cache    *cache.Cache
	Sessions session.Store
	Observer Observer
	Logger   *slog.Logger
}

// Scraper runs scraping jobs against a shared browser pool.
// It is safe for concurrent use.
type Scraper struct {
	cfg      Config
	pool     *engine.Pool
	limiter  *ratelimit.Limiter
	blocker  *blocker.Blocker
	cache    *cache.Cache
	sessions session.Store
	obs      Observer
	log      *slog.Logger

	startTime time.Time
	stats     counters

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	closeOnce sync.Once
}

type counters struct {
	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64

	mu          sync.Mutex
	avgN        int64
	avgDuration float64
}

// New assembles a Scraper from already constructed components.
func New(cfg Config, deps Deps) *Scraper {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	obs := deps.Observer
	if obs == nil {
		obs = LogObserver(log)
	}
	if cfg.Job.MaxTimeout <= 0 {
		cfg.Job.MaxTimeout = 120 * time.Second
	}
	if cfg.Job.Timeout <= 0 || cfg.Job.Timeout > cfg.Job.MaxTimeout {
		cfg.Job.Timeout = min(30*time.Second, cfg.Job.MaxTimeout)
	}
	return &Scraper{
		cfg:       cfg,
		pool:      deps.Pool,
		limiter:   deps.Limiter,
		blocker:   deps.Blocker,
		cache:     deps.Cache,
		sessions:  deps.Sessions,
		obs:       obs,
		log:       log,
		startTime: time.Now(),
		sleep:     sleepCtx,
	}
}

// Open builds every component from cfg: session store, browser pool,
// host limiter, request blocker and response cache.
func Open(cfg *config.Config, launcher engine.Launcher, log *slog.Logger) (*Scraper, error) {
	if log == nil {
		log = slog.Default()
	}
	store, err := session.Open(cfg.Session)
	if err != nil {
		return nil, err
	}

	pool := engine.NewPool(engine.PoolConfig{
		MaxBrowsers:        cfg.Browser.MaxBrowsers,
		MaxPagesPerBrowser: cfg.Browser.MaxPagesPerBrowser,
		AcquireTimeout:     cfg.Browser.PoolAcquireTimeout,
		MemThreshold:       cfg.Browser.MemThreshold,
		Logger:             log,
	}, launcher, sessionLoader(store))

	var c *cache.Cache
	if cfg.Cache.Enabled {
		c = cache.New(cache.Options{
			MaxEntries:   cfg.Cache.MaxEntries,
			DefaultTTL:   cfg.Cache.TTL,
			ReapInterval: cfg.Cache.ReapInterval,
		})
	}

	return New(Config{
		Job:          cfg.Job,
		Browser:      cfg.Browser,
		CacheEnabled: cfg.Cache.Enabled,
		CacheTTL:     cfg.Cache.TTL,
	}, Deps{
		Pool: pool,
		Limiter: ratelimit.New(ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Refill:   cfg.RateLimit.Refill,
			Interval: cfg.RateLimit.Interval,
		}),
		Blocker:  blocker.New(cfg.Job.BlockedResourceTypes),
		Cache:    c,
		Sessions: store,
		Logger:   log,
	}), nil
}

// sessionLoader adapts a store to the pool: unknown ids restore nothing.
func sessionLoader(store session.Store) engine.StateLoader {
	if store == nil {
		return nil
	}
	return func(ctx context.Context, id string) (*models.SessionState, error) {
		st, err := store.Load(ctx, id)
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return st, err
	}
}

// Stats returns a snapshot of job, pool, cache and blocker counters.
func (s *Scraper) Stats() models.Stats {
	ps := s.pool.Stats()
	st := models.Stats{
		TotalJobs:       s.stats.total.Load(),
		CompletedJobs:   s.stats.completed.Load(),
		FailedJobs:      s.stats.failed.Load(),
		RetriedAttempts: s.stats.retried.Load(),
		ActiveBrowsers:  ps.Browsers,
		ActivePages:     ps.Pages,
		QueuedJobs:      ps.Waiting,
		BlockedRequests: s.blocker.Blocked(),
	}
	s.stats.mu.Lock()
	st.AverageDurationMs = s.stats.avgDuration
	s.stats.mu.Unlock()
	if s.cache != nil {
		st.CacheEntries = s.cache.Len()
		st.CacheHits, st.CacheMisses = s.cache.Stats()
	}
	return st
}

// Uptime returns the time since the Scraper was created.
func (s *Scraper) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Pool exposes the underlying browser pool for diagnostics.
func (s *Scraper) Pool() *engine.Pool {
	return s.pool
}

// ClearCache drops every cached response and returns how many were held.
func (s *Scraper) ClearCache() int {
	if s.cache == nil {
		return 0
	}
	n := s.cache.Len()
	s.cache.Clear()
	return n
}

// ListSessions lists the stored sessions.
func (s *Scraper) ListSessions(ctx context.Context) ([]models.SessionInfo, error) {
	if s.sessions == nil {
		return []models.SessionInfo{}, nil
	}
	return s.sessions.List(ctx)
}

// DeleteSession removes a stored session. Unknown ids yield NOT_FOUND.
func (s *Scraper) DeleteSession(ctx context.Context, id string) error {
	if s.sessions == nil {
		return models.NewScrapeError(models.ErrCodeNotFound, "no session store configured", nil)
	}
	if err := session.ValidateID(id); err != nil {
		return models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err)
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return models.NewScrapeError(models.ErrCodeNotFound, fmt.Sprintf("session %q not found", id), err)
		}
		return models.NewScrapeError(models.ErrCodeInternal, "failed to delete session", err)
	}
	return nil
}

// Close shuts the pool down and stops background work. Jobs still running
// fail with SHUTTING_DOWN or BROWSER_CRASH.
func (s *Scraper) Close() {
	s.closeOnce.Do(func() {
		s.log.Info("scraper shutting down")
		s.pool.Shutdown()
		s.limiter.Stop()
		if s.cache != nil {
			s.cache.Stop()
		}
		if s.sessions != nil {
			if err := s.sessions.Close(); err != nil {
				s.log.Warn("session store close failed", "error", err)
			}
		}
		s.log.Info("scraper shutdown complete")
	})
}

func (s *Scraper) recordDone(res *models.ScrapeResult) {
	if !res.Success {
		s.stats.failed.Add(1)
		return
	}
	s.stats.completed.Add(1)
	s.stats.mu.Lock()
	s.stats.avgN++
	s.stats.avgDuration += (float64(res.DurationMs) - s.stats.avgDuration) / float64(s.stats.avgN)
	s.stats.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
