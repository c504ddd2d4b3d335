package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// connProbeTimeout bounds the liveness check after a failed CDP call.
const connProbeTimeout = 3 * time.Second

// RodLauncher starts Chromium processes through go-rod.
type RodLauncher struct {
	cfg config.BrowserConfig
	log *slog.Logger
}

// NewRodLauncher returns a launcher for the given browser settings.
func NewRodLauncher(cfg config.BrowserConfig, log *slog.Logger) *RodLauncher {
	if log == nil {
		log = slog.Default()
	}
	return &RodLauncher{cfg: cfg, log: log}
}

// Launch starts a new browser process and connects to it. The process is
// not tied to ctx; ctx only aborts the launch before it starts.
func (rl *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := launcher.New().
		Headless(rl.cfg.Headless).
		NoSandbox(rl.cfg.NoSandbox)

	if rl.cfg.BrowserBin != "" {
		l = l.Bin(rl.cfg.BrowserBin)
	}

	var proxyUser, proxyPass string
	if rl.cfg.Proxy != "" {
		server, user, pass, err := splitProxy(rl.cfg.Proxy)
		if err != nil {
			return nil, err
		}
		l = l.Proxy(server)
		proxyUser, proxyPass = user, pass
	}

	// ── Stealth and resource flags ───────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("mute-audio"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	if proxyUser != "" {
		// Each HandleAuth call answers one challenge; loop until the
		// connection closes.
		go func() {
			for {
				if err := b.HandleAuth(proxyUser, proxyPass)(); err != nil {
					return
				}
			}
		}()
	}

	rl.log.Debug("browser process started", "pid", l.PID(), "controlURL", controlURL)
	return &rodBrowser{browser: b, launcher: l, pid: l.PID()}, nil
}

// splitProxy separates credentials from a proxy URL; Chromium accepts
// only the bare server on its command line.
func splitProxy(raw string) (server, user, pass string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid proxy url: %w", err)
	}
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
		u.User = nil
	}
	return u.String(), user, pass, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	pid      int
	closed   atomic.Bool
}

func (b *rodBrowser) Alive() bool {
	return !b.closed.Load() && pidAlive(b.pid)
}

// connLost reports whether the CDP connection stopped answering. A lost
// connection marks the browser dead so the pool evicts it even though
// the process may still be running.
func (b *rodBrowser) connLost() bool {
	if b.closed.Load() {
		return true
	}
	if _, err := (proto.BrowserGetVersion{}).Call(b.browser.Timeout(connProbeTimeout)); err != nil {
		b.closed.Store(true)
		return true
	}
	return false
}

func (b *rodBrowser) NewContext(ctx context.Context, state *models.SessionState) (BrowsingContext, error) {
	inc, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		if ctx.Err() == nil && b.connLost() {
			return nil, fmt.Errorf("create incognito context: browser connection lost: %w", err)
		}
		return nil, fmt.Errorf("create incognito context: %w", err)
	}
	// Detach from the request context; the browsing context outlives the job.
	inc = inc.Context(context.Background())

	c := &rodContext{browser: inc, owner: b}
	if !state.Empty() {
		if len(state.Cookies) > 0 {
			if err := inc.SetCookies(toCookieParams(state.Cookies)); err != nil {
				_ = inc.Close()
				return nil, fmt.Errorf("restore cookies: %w", err)
			}
		}
		c.storage = state.LocalStorage
	}
	return c, nil
}

func (b *rodBrowser) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

type rodContext struct {
	browser *rod.Browser
	owner   *rodBrowser
	storage map[string]map[string]string
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		if ctx.Err() == nil && c.owner.connLost() {
			return nil, fmt.Errorf("create page: browser connection lost: %w", err)
		}
		return nil, err
	}
	page = page.Context(context.Background())
	if len(c.storage) > 0 {
		if _, err := page.EvalOnNewDocument(restoreStorageJS(c.storage)); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("restore local storage: %w", err)
		}
	}
	return &rodPage{page: page}, nil
}

func (c *rodContext) Cookies(ctx context.Context) ([]models.Cookie, error) {
	cookies, err := c.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, err
	}
	return fromNetworkCookies(cookies), nil
}

// Close disposes the incognito context and every page still in it.
func (c *rodContext) Close() error {
	return c.browser.Close()
}
