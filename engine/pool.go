package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/harvest/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// StateLoader fetches persisted browsing state for a session id. It
// returns (nil, nil) when the id is unknown.
type StateLoader func(ctx context.Context, id string) (*models.SessionState, error)

// PoolConfig holds configuration for the pool.
type PoolConfig struct {
	MaxBrowsers        int
	MaxPagesPerBrowser int

	// AcquireTimeout bounds how long Acquire waits for a free slot.
	AcquireTimeout time.Duration

	// RecheckInterval is the fallback wake-up while waiting. 0 means 250ms.
	RecheckInterval time.Duration

	// MemThreshold is the system memory fraction (0.0–1.0) above which no
	// new browser is launched while at least one is running. 0 disables it.
	MemThreshold float64

	// MemUsage reports system memory use as a fraction. nil means gopsutil.
	MemUsage func() (float64, error)

	Logger *slog.Logger
}

// Hints steer context selection for a lease.
type Hints struct {
	// SessionID selects a persisted, shared context.
	SessionID string
	// Profile distinguishes anonymous contexts, e.g. by user agent.
	Profile string
}

func (h Hints) key() string {
	if h.SessionID != "" {
		return "session:" + h.SessionID
	}
	return "profile:" + h.Profile
}

type contextEntry struct {
	bc      BrowsingContext
	created time.Time
}

type browserEntry struct {
	id       string
	b        Browser
	created  time.Time
	pages    int // open plus reserved
	contexts map[string]*contextEntry
	removed  bool
}

// Pool lends pages from a bounded set of browsers. Open pages never
// exceed MaxBrowsers × MaxPagesPerBrowser.
type Pool struct {
	cfg      PoolConfig
	launcher Launcher
	loader   StateLoader
	log      *slog.Logger

	mu        sync.Mutex
	browsers  []*browserEntry
	launching int
	leases    map[*Lease]struct{}
	closed    bool
	wake      chan struct{} // closed and replaced on every state change

	contexts singleflight.Group
	nextID   atomic.Int64
	waiting  atomic.Int32
}

// NewPool creates an empty pool. Browsers are launched on demand.
func NewPool(cfg PoolConfig, launcher Launcher, loader StateLoader) *Pool {
	if cfg.MaxBrowsers < 1 {
		cfg.MaxBrowsers = 1
	}
	if cfg.MaxPagesPerBrowser < 1 {
		cfg.MaxPagesPerBrowser = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = 250 * time.Millisecond
	}
	if cfg.MemUsage == nil {
		cfg.MemUsage = systemMemUsage
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		cfg:      cfg,
		launcher: launcher,
		loader:   loader,
		log:      log,
		leases:   make(map[*Lease]struct{}),
		wake:     make(chan struct{}),
	}
}

// Capacity returns the maximum number of pages the pool can lend at once.
func (p *Pool) Capacity() int {
	return p.cfg.MaxBrowsers * p.cfg.MaxPagesPerBrowser
}

// broadcastLocked wakes every waiter. Caller must hold p.mu.
func (p *Pool) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// Acquire returns a page on some live browser, launching one if the pool
// has room, or waits for a release. It fails with POOL_TIMEOUT after
// AcquireTimeout and honors ctx cancellation.
func (p *Pool) Acquire(ctx context.Context, hints Hints) (*Lease, error) {
	timeout := time.NewTimer(p.cfg.AcquireTimeout)
	defer timeout.Stop()
	recheck := time.NewTicker(p.cfg.RecheckInterval)
	defer recheck.Stop()

	for {
		entry, launch, wake, err := p.reserve()
		if err != nil {
			return nil, err
		}

		switch {
		case entry != nil:
			return p.open(ctx, entry, hints)
		case launch:
			if err := p.launch(ctx); err != nil {
				return nil, err
			}
			continue
		}

		p.waiting.Add(1)
		select {
		case <-wake:
		case <-recheck.C:
		case <-timeout.C:
			p.waiting.Add(-1)
			return nil, models.NewScrapeError(models.ErrCodePoolTimeout,
				fmt.Sprintf("no page available within %s", p.cfg.AcquireTimeout), nil)
		case <-ctx.Done():
			p.waiting.Add(-1)
			return nil, models.AsScrapeError(ctx.Err(), models.ErrCodePoolTimeout)
		}
		p.waiting.Add(-1)
	}
}

// reserve scans the pool once. It either reserves a page slot on a browser,
// claims a launch slot, or returns the channel to wait on.
func (p *Pool) reserve() (*browserEntry, bool, <-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, nil, models.NewScrapeError(models.ErrCodeShutdown, "pool is shut down", nil)
	}

	p.evictDeadLocked()

	var best *browserEntry
	for _, e := range p.browsers {
		if e.pages >= p.cfg.MaxPagesPerBrowser {
			continue
		}
		if best == nil || e.pages < best.pages {
			best = e
		}
	}
	if best != nil {
		best.pages++
		return best, false, nil, nil
	}

	if len(p.browsers)+p.launching < p.cfg.MaxBrowsers && p.memoryAllowsLocked() {
		p.launching++
		return nil, true, nil, nil
	}
	return nil, false, p.wake, nil
}

// memoryAllowsLocked gates growth on system memory. The first browser is
// always allowed so the pool can make progress.
func (p *Pool) memoryAllowsLocked() bool {
	if p.cfg.MemThreshold <= 0 || len(p.browsers)+p.launching == 0 {
		return true
	}
	used, err := p.cfg.MemUsage()
	if err != nil {
		return true
	}
	if used > p.cfg.MemThreshold {
		p.log.Debug("pool: memory pressure, not launching", "used", used, "threshold", p.cfg.MemThreshold)
		return false
	}
	return true
}

// evictDeadLocked drops browsers whose process is gone and releases
// their slots. Jobs holding pages on them fail on their next operation.
func (p *Pool) evictDeadLocked() {
	kept := p.browsers[:0]
	evicted := false
	for _, e := range p.browsers {
		if e.b.Alive() {
			kept = append(kept, e)
			continue
		}
		e.removed = true
		evicted = true
		p.log.Warn("pool: evicting dead browser", "browser", e.id, "pages", e.pages)
		go func(b Browser) { _ = b.Close() }(e.b)
	}
	for i := len(kept); i < len(p.browsers); i++ {
		p.browsers[i] = nil
	}
	p.browsers = kept
	if evicted {
		p.broadcastLocked()
	}
}

// launch starts one browser outside the lock. The launch slot was claimed
// by reserve and is given back here whatever the outcome.
func (p *Pool) launch(ctx context.Context) error {
	start := time.Now()
	b, err := p.launcher.Launch(ctx)

	p.mu.Lock()
	p.launching--
	p.broadcastLocked()
	if err != nil {
		p.mu.Unlock()
		p.log.Error("pool: browser launch failed", "error", err)
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	if p.closed {
		p.mu.Unlock()
		_ = b.Close()
		return models.NewScrapeError(models.ErrCodeShutdown, "pool is shut down", nil)
	}
	e := &browserEntry{
		id:       fmt.Sprintf("browser-%d", p.nextID.Add(1)),
		b:        b,
		created:  time.Now(),
		contexts: make(map[string]*contextEntry),
	}
	p.browsers = append(p.browsers, e)
	total := len(p.browsers)
	p.mu.Unlock()

	p.log.Info("pool: browser launched", "browser", e.id, "browsers", total,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// unreserve gives back a slot that never became an open page.
func (p *Pool) unreserve(e *browserEntry) {
	p.mu.Lock()
	e.pages--
	p.broadcastLocked()
	p.mu.Unlock()
}

// open turns a reserved slot into a page inside the hinted context.
func (p *Pool) open(ctx context.Context, e *browserEntry, hints Hints) (*Lease, error) {
	bc, err := p.contextFor(ctx, e, hints)
	if err != nil {
		p.unreserve(e)
		return nil, err
	}

	page, err := bc.NewPage(ctx)
	if err != nil {
		p.dropContext(e, hints.key(), bc)
		p.unreserve(e)
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}

	l := &Lease{Page: page, Context: bc, BrowserID: e.id, pool: p, entry: e}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		l.closePage()
		p.unreserve(e)
		return nil, models.NewScrapeError(models.ErrCodeShutdown, "pool is shut down", nil)
	}
	p.leases[l] = struct{}{}
	p.mu.Unlock()
	return l, nil
}

// dropContext forgets bc as the context for key on e so the next job
// creates a fresh one. Pages still open in bc fail on their own.
func (p *Pool) dropContext(e *browserEntry, key string, bc BrowsingContext) {
	p.mu.Lock()
	ce, ok := e.contexts[key]
	if ok && ce.bc == bc {
		delete(e.contexts, key)
	}
	p.mu.Unlock()
	if ok && ce.bc == bc {
		p.log.Warn("pool: dropping broken browsing context", "browser", e.id, "context", key)
		go func() { _ = bc.Close() }()
	}
}

// contextFor returns the context for hints on e, creating it at most once
// per (browser, key) even under concurrent demand.
func (p *Pool) contextFor(ctx context.Context, e *browserEntry, hints Hints) (BrowsingContext, error) {
	key := hints.key()

	p.mu.Lock()
	if ce, ok := e.contexts[key]; ok {
		p.mu.Unlock()
		return ce.bc, nil
	}
	p.mu.Unlock()

	v, err, _ := p.contexts.Do(e.id+"|"+key, func() (any, error) {
		p.mu.Lock()
		if ce, ok := e.contexts[key]; ok {
			p.mu.Unlock()
			return ce.bc, nil
		}
		p.mu.Unlock()

		var state *models.SessionState
		if hints.SessionID != "" && p.loader != nil {
			st, err := p.loader(ctx, hints.SessionID)
			if err != nil {
				p.log.Warn("pool: session load failed, using empty context",
					"session", hints.SessionID, "error", err)
			} else {
				state = st
			}
		}

		bc, err := e.b.NewContext(ctx, state)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to create browsing context", err)
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if e.removed || p.closed {
			_ = bc.Close()
			return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "browser went away during context creation", nil)
		}
		e.contexts[key] = &contextEntry{bc: bc, created: time.Now()}
		return bc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(BrowsingContext), nil
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Browsers  int `json:"browsers"`
	Launching int `json:"launching"`
	Pages     int `json:"pages"`
	Contexts  int `json:"contexts"`
	Waiting   int `json:"waiting"`
	Capacity  int `json:"capacity"`
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{
		Browsers:  len(p.browsers),
		Launching: p.launching,
		Waiting:   int(p.waiting.Load()),
		Capacity:  p.Capacity(),
	}
	for _, e := range p.browsers {
		s.Pages += e.pages
		s.Contexts += len(e.contexts)
	}
	return s
}

// BrowserInfo describes one pooled browser.
type BrowserInfo struct {
	ID       string    `json:"id"`
	Pages    int       `json:"pages"`
	Contexts int       `json:"contexts"`
	Created  time.Time `json:"created"`
}

// Browsers lists live browsers ordered by id.
func (p *Pool) Browsers() []BrowserInfo {
	p.mu.Lock()
	out := make([]BrowserInfo, 0, len(p.browsers))
	for _, e := range p.browsers {
		out = append(out, BrowserInfo{ID: e.id, Pages: e.pages, Contexts: len(e.contexts), Created: e.created})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown closes every page, then every context, then every browser.
// Errors are logged and swallowed. Safe to call more than once; Acquire
// fails after the first call.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	leases := make([]*Lease, 0, len(p.leases))
	for l := range p.leases {
		leases = append(leases, l)
	}
	browsers := p.browsers
	p.browsers = nil
	p.broadcastLocked()
	p.mu.Unlock()

	p.log.Info("pool shutting down", "pages", len(leases), "browsers", len(browsers))

	for _, l := range leases {
		l.closePage()
	}

	for _, e := range browsers {
		p.mu.Lock()
		e.removed = true
		contexts := e.contexts
		e.contexts = map[string]*contextEntry{}
		p.mu.Unlock()
		for key, ce := range contexts {
			if err := ce.bc.Close(); err != nil {
				p.log.Warn("pool: context close failed", "browser", e.id, "context", key, "error", err)
			}
		}
	}

	var g errgroup.Group
	for _, e := range browsers {
		g.Go(func() error {
			if err := e.b.Close(); err != nil {
				p.log.Warn("pool: browser close failed", "browser", e.id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	p.log.Info("pool shutdown complete")
}

// Lease is exclusive use of one page. Release must be called exactly once
// the job is done with it; later calls are no-ops.
type Lease struct {
	Page      Page
	Context   BrowsingContext
	BrowserID string

	pool      *Pool
	entry     *browserEntry
	closeOnce sync.Once
	relOnce   sync.Once
}

func (l *Lease) closePage() {
	l.closeOnce.Do(func() {
		if err := l.Page.Close(); err != nil && !errors.Is(err, context.Canceled) {
			l.pool.log.Debug("pool: page close failed", "browser", l.BrowserID, "error", err)
		}
	})
}

// Release closes the page and frees its slot.
func (l *Lease) Release() {
	l.relOnce.Do(func() {
		l.closePage()
		p := l.pool
		p.mu.Lock()
		delete(p.leases, l)
		l.entry.pages--
		p.broadcastLocked()
		p.mu.Unlock()
	})
}
