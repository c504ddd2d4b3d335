// Package cache keeps recent scrape results keyed by a request fingerprint.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/harvest/models"
)

// entry holds a cached result with its expiry.
type entry struct {
	result    *models.ScrapeResult
	expiresAt time.Time
}

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the cache; a random entry is evicted when full.
	MaxEntries int
	// DefaultTTL is used by Put when the caller passes ttl <= 0.
	DefaultTTL time.Duration
	// ReapInterval is the period of the expired-entry sweep. 0 means 5m.
	ReapInterval time.Duration
	// Now overrides the time source for tests.
	Now func() time.Time
}

// Cache is an in-memory TTL cache for scrape results.
// It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	store map[string]*entry
	opts  Options
	now   func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Cache and starts its reaper goroutine.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Hour
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 5 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Cache{
		store: make(map[string]*entry),
		opts:  opts,
		now:   now,
		done:  make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// fingerprintInput lists the request fields that change what a page
// yields. Timeouts, viewport, retries, identity and cache directives are
// deliberately absent.
type fingerprintInput struct {
	URL             string                 `json:"u"`
	Script          string                 `json:"s,omitempty"`
	WaitForSelector string                 `json:"w,omitempty"`
	Click           string                 `json:"c,omitempty"`
	Type            *models.TypeAction     `json:"t,omitempty"`
	InfiniteScroll  *models.InfiniteScroll `json:"i,omitempty"`
	Actions         []models.Action        `json:"a,omitempty"`
	Extract         [8]bool                `json:"x"`
}

// Fingerprint hashes the content-relevant fields of req. Requests that
// differ only in irrelevant fields share a fingerprint.
func Fingerprint(req *models.ScrapeRequest) string {
	in := fingerprintInput{
		URL:             req.URL,
		Script:          req.Script,
		WaitForSelector: req.WaitForSelector,
		Click:           req.Click,
		Type:            req.Type,
		InfiniteScroll:  req.InfiniteScroll,
		Actions:         req.Actions,
		Extract: [8]bool{
			req.Screenshot, req.FullPage, req.ExtractLinks, req.ExtractImages,
			req.ExtractTables, req.ExtractStructuredData, req.ExtractMarkdown,
			req.Script != "",
		},
	}
	// Marshal of these plain types cannot fail.
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the cached result for req, marked Cached. Expired
// entries are treated as absent and removed.
func (c *Cache) Get(req *models.ScrapeRequest) (*models.ScrapeResult, bool) {
	key := Fingerprint(req)

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.store[key]; still && cur == e {
			delete(c.store, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	res := e.result.Clone()
	res.Cached = true
	return res, true
}

// Put stores a copy of result for req. ttl <= 0 uses the default TTL.
func (c *Cache) Put(req *models.ScrapeRequest, result *models.ScrapeResult, ttl time.Duration) {
	if result == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	key := Fingerprint(req)
	e := &entry{result: result.Clone(), expiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict one random entry if at capacity (map iteration is random in Go).
	if _, exists := c.store[key]; !exists && len(c.store) >= c.opts.MaxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}
	c.store[key] = e
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.store = make(map[string]*entry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet reaped.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Stop terminates the reaper. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// reap deletes every expired entry and returns how many were removed.
func (c *Cache) reap() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.store {
		if now.After(e.expiresAt) {
			delete(c.store, k)
			n++
		}
	}
	return n
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.reap()
		}
	}
}
