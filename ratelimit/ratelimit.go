// Package ratelimit throttles outgoing navigations per target host.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock is the time source of a Limiter.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config parametrizes the per-host bucket.
type Config struct {
	// Capacity is the bucket size; a fresh host may burst this many requests.
	Capacity int
	// Refill tokens are added every Interval.
	Refill float64
	// Interval is both the refill period and the sleep between attempts.
	Interval time.Duration
	// IdleTTL evicts buckets unused for this long. 0 means one hour. It is
	// raised to the time a drained bucket needs to refill completely.
	IdleTTL time.Duration
	// Clock overrides the time source. nil means the wall clock.
	Clock Clock
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per host. It never rejects a caller, it
// only delays it.
type Limiter struct {
	cfg   Config
	clock Clock
	limit rate.Limit

	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Limiter and starts its idle-bucket janitor.
func New(cfg Config) *Limiter {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Refill <= 0 {
		cfg.Refill = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	// A bucket may only be forgotten once it would have refilled.
	if full := time.Duration(float64(cfg.Capacity) / cfg.Refill * float64(cfg.Interval)); cfg.IdleTTL < full {
		cfg.IdleTTL = full
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	l := &Limiter{
		cfg:     cfg,
		clock:   clock,
		limit:   rate.Limit(cfg.Refill / cfg.Interval.Seconds()),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) bucketFor(host string) *rate.Limiter {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.cfg.Capacity)}
		l.buckets[host] = b
	}
	b.lastSeen = l.clock.Now()
	return b.limiter
}

// Wait blocks until a token for host is available and consumes it.
// It returns early only when ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	lim := l.bucketFor(host)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// AllowN never reserves ahead, so the bucket cannot go negative.
		if lim.AllowN(l.clock.Now(), 1) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(l.cfg.Interval):
		}
	}
}

// Tokens returns the tokens currently available for host. Unseen hosts
// report a full bucket.
func (l *Limiter) Tokens(host string) float64 {
	l.mu.Lock()
	b, ok := l.buckets[strings.ToLower(host)]
	l.mu.Unlock()
	if !ok {
		return float64(l.cfg.Capacity)
	}
	return b.limiter.TokensAt(l.clock.Now())
}

// Hosts returns the number of tracked buckets.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop terminates the janitor. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// evictIdle drops buckets not used since cutoff. With cutoff at least
// IdleTTL in the past a dropped bucket has refilled, so recreating it
// full loses nothing.
func (l *Limiter) evictIdle(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for host, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, host)
			n++
		}
	}
	return n
}

func (l *Limiter) idleCutoff() time.Time {
	return l.clock.Now().Add(-l.cfg.IdleTTL)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.IdleTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictIdle(l.idleCutoff())
		}
	}
}
