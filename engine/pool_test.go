package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/engine/enginetest"
	"github.com/use-agent/harvest/logging"
	"github.com/use-agent/harvest/models"
)

func newPool(t *testing.T, cfg engine.PoolConfig, l engine.Launcher, loader engine.StateLoader) *engine.Pool {
	t.Helper()
	cfg.Logger = logging.Discard()
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	cfg.RecheckInterval = 10 * time.Millisecond
	p := engine.NewPool(cfg, l, loader)
	t.Cleanup(p.Shutdown)
	return p
}

func codeOf(err error) string {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func TestAcquireReusesBrowsersBeforeLaunching(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 3, MaxPagesPerBrowser: 2}, l, nil)

	var leases []*engine.Lease
	for i := 0; i < 4; i++ {
		lease, err := p.Acquire(context.Background(), engine.Hints{})
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		leases = append(leases, lease)
	}
	if n := len(l.Browsers()); n != 2 {
		t.Errorf("launched %d browsers for 4 pages at 2 per browser, want 2", n)
	}
	st := p.Stats()
	if st.Pages != 4 || st.Browsers != 2 {
		t.Errorf("stats = %+v", st)
	}

	for _, lease := range leases {
		lease.Release()
	}
	if l.OpenPages() != 0 {
		t.Errorf("open pages after release = %d", l.OpenPages())
	}
	if got := p.Stats().Pages; got != 0 {
		t.Errorf("pool pages after release = %d", got)
	}
}

func TestPoolBoundUnderConcurrency(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	l.LaunchDelay = 5 * time.Millisecond
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 2, MaxPagesPerBrowser: 3, AcquireTimeout: 5 * time.Second}, l, nil)

	const jobs = 40
	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.Acquire(context.Background(), engine.Hints{})
			if err != nil {
				errs <- err
				return
			}
			time.Sleep(2 * time.Millisecond)
			lease.Release()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Acquire: %v", err)
	}

	if max := l.MaxOpenPages(); max > 6 {
		t.Errorf("max simultaneous pages = %d, want <= 6", max)
	}
	if n := len(l.Browsers()); n > 2 {
		t.Errorf("launched %d browsers, want <= 2", n)
	}
}

func TestAcquireTimesOutWhenSaturated(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 1, AcquireTimeout: 50 * time.Millisecond}, l, nil)

	held, err := p.Acquire(context.Background(), engine.Hints{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	start := time.Now()
	_, err = p.Acquire(context.Background(), engine.Hints{})
	if code := codeOf(err); code != models.ErrCodePoolTimeout {
		t.Fatalf("got %v, want POOL_TIMEOUT", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}
}

func TestWaiterWakesOnRelease(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 1}, l, nil)

	held, err := p.Acquire(context.Background(), engine.Hints{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		lease, err := p.Acquire(context.Background(), engine.Hints{})
		if err == nil {
			lease.Release()
		}
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	held.Release()

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("waiter: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by release")
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 1, AcquireTimeout: time.Minute}, l, nil)

	held, _ := p.Acquire(context.Background(), engine.Hints{})
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Acquire(ctx, engine.Hints{})
	if err == nil {
		t.Fatal("expected error on cancellation")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 2}, l, nil)

	lease, _ := p.Acquire(context.Background(), engine.Hints{})
	other, _ := p.Acquire(context.Background(), engine.Hints{})
	lease.Release()
	lease.Release()

	if got := p.Stats().Pages; got != 1 {
		t.Errorf("pages = %d after double release, want 1", got)
	}
	other.Release()
}

func TestContextsKeyedBySession(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	loads := 0
	loader := func(_ context.Context, id string) (*models.SessionState, error) {
		loads++
		return &models.SessionState{Cookies: []models.Cookie{{Name: "sid", Value: id}}}, nil
	}
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 5}, l, loader)

	a, _ := p.Acquire(context.Background(), engine.Hints{SessionID: "alice"})
	b, _ := p.Acquire(context.Background(), engine.Hints{SessionID: "alice"})
	c, _ := p.Acquire(context.Background(), engine.Hints{})
	defer a.Release()
	defer b.Release()
	defer c.Release()

	if a.Context != b.Context {
		t.Error("same session should share a context")
	}
	if a.Context == c.Context {
		t.Error("anonymous lease should not share the session context")
	}
	if loads != 1 {
		t.Errorf("session loaded %d times, want 1", loads)
	}
	fc := a.Context.(*enginetest.Context)
	if fc.Restored == nil || fc.Restored.Cookies[0].Value != "alice" {
		t.Errorf("context not seeded from session: %+v", fc.Restored)
	}
}

func TestSessionLoadFailureYieldsEmptyContext(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	loader := func(context.Context, string) (*models.SessionState, error) {
		return nil, errors.New("disk on fire")
	}
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 1}, l, loader)

	lease, err := p.Acquire(context.Background(), engine.Hints{SessionID: "bob"})
	if err != nil {
		t.Fatalf("Acquire should succeed despite load failure: %v", err)
	}
	defer lease.Release()
	if fc := lease.Context.(*enginetest.Context); fc.Restored != nil {
		t.Error("context should be empty after load failure")
	}
}

func TestDeadBrowserIsEvicted(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 1}, l, nil)

	lease, _ := p.Acquire(context.Background(), engine.Hints{})
	l.Browsers()[0].Kill()

	// The crashed browser's slot is reclaimed without waiting for Release.
	next, err := p.Acquire(context.Background(), engine.Hints{})
	if err != nil {
		t.Fatalf("Acquire after crash: %v", err)
	}
	defer next.Release()
	lease.Release()

	if n := len(l.Browsers()); n != 2 {
		t.Errorf("expected a replacement browser, launched %d", n)
	}
	if next.BrowserID == lease.BrowserID {
		t.Error("lease landed on the dead browser")
	}
}

func TestLaunchFailureSurfaces(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	l.FailLaunches(errors.New("no chromium"))
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 1}, l, nil)

	_, err := p.Acquire(context.Background(), engine.Hints{})
	if code := codeOf(err); code != models.ErrCodeBrowserCrash {
		t.Fatalf("got %v, want BROWSER_CRASH", err)
	}
	if st := p.Stats(); st.Launching != 0 || st.Browsers != 0 {
		t.Errorf("launch slot leaked: %+v", st)
	}

	l.FailLaunches(nil)
	lease, err := p.Acquire(context.Background(), engine.Hints{})
	if err != nil {
		t.Fatalf("Acquire after recovery: %v", err)
	}
	lease.Release()
}

func TestMemoryGuardBlocksGrowth(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{
		MaxBrowsers:        3,
		MaxPagesPerBrowser: 1,
		AcquireTimeout:     50 * time.Millisecond,
		MemThreshold:       0.8,
		MemUsage:           func() (float64, error) { return 0.95, nil },
	}, l, nil)

	first, err := p.Acquire(context.Background(), engine.Hints{})
	if err != nil {
		t.Fatalf("first browser must always launch: %v", err)
	}
	defer first.Release()

	if _, err := p.Acquire(context.Background(), engine.Hints{}); codeOf(err) != models.ErrCodePoolTimeout {
		t.Fatalf("got %v, want POOL_TIMEOUT under memory pressure", err)
	}
	if n := len(l.Browsers()); n != 1 {
		t.Errorf("launched %d browsers under memory pressure", n)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 2, MaxPagesPerBrowser: 1}, l, nil)

	a, _ := p.Acquire(context.Background(), engine.Hints{})
	b, _ := p.Acquire(context.Background(), engine.Hints{SessionID: "s"})

	p.Shutdown()
	p.Shutdown()

	if l.OpenPages() != 0 {
		t.Errorf("open pages after shutdown = %d", l.OpenPages())
	}
	for _, br := range l.Browsers() {
		if !br.Closed() {
			t.Error("browser left open")
		}
		for _, c := range br.Contexts() {
			if !c.Closed() {
				t.Error("context left open")
			}
		}
	}

	// Late releases are harmless.
	a.Release()
	b.Release()

	if _, err := p.Acquire(context.Background(), engine.Hints{}); codeOf(err) != models.ErrCodeShutdown {
		t.Errorf("Acquire after shutdown: %v", err)
	}
}

func TestAcquireReplacesDeadContext(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.NewSite())
	p := newPool(t, engine.PoolConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 2}, l, nil)
	hints := engine.Hints{SessionID: "s1"}

	first, err := p.Acquire(context.Background(), hints)
	if err != nil {
		t.Fatal(err)
	}
	dead := first.Context
	_ = dead.Close()
	first.Release()

	// The first acquire after the context died may fail once; the broken
	// context must not be handed out again after that.
	var lease *engine.Lease
	for i := 0; i < 2 && lease == nil; i++ {
		lease, err = p.Acquire(context.Background(), hints)
		if lease == nil && codeOf(err) != models.ErrCodeBrowserCrash {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if lease == nil {
		t.Fatalf("pool kept the dead context: %v", err)
	}
	defer lease.Release()
	if lease.Context == dead {
		t.Error("lease reuses the closed context")
	}
	if n := len(l.Browsers()); n != 1 {
		t.Errorf("launched %d browsers, want 1", n)
	}
}
