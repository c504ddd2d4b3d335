// Package engine owns browser processes: launching them, isolating
// browsing contexts inside them and lending out pages under a global bound.
package engine

import (
	"context"
	"encoding/json"

	"github.com/use-agent/harvest/models"
)

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	// Alive reports whether the process is still usable. It must be cheap;
	// the pool calls it while scanning.
	Alive() bool

	// NewContext creates an isolated cookie and storage scope, seeded
	// with state when non-nil.
	NewContext(ctx context.Context, state *models.SessionState) (BrowsingContext, error)

	Close() error
}

// BrowsingContext is an isolated scope inside a browser, shared by every
// page opened in it.
type BrowsingContext interface {
	NewPage(ctx context.Context) (Page, error)

	// Cookies returns every cookie currently held by the context.
	Cookies(ctx context.Context) ([]models.Cookie, error)

	Close() error
}

// Page is one browser tab. A page is used by a single job at a time.
type Page interface {
	// Navigate loads url and returns once waitUntil ("load" or
	// "networkidle") is satisfied or ctx ends.
	Navigate(ctx context.Context, url, waitUntil string) error

	// Intercept routes every outgoing request through decide; a true
	// result aborts the request. The returned stop detaches the hook.
	Intercept(decide func(url, resourceType string) bool) (stop func(), err error)

	// InjectScript evaluates js in every new document before page scripts run.
	InjectScript(js string) error

	SetHeaders(headers map[string]string) error
	SetUserAgent(ua string) error
	SetViewport(width, height int) error
	SetCookies(cookies []models.Cookie) error

	WaitSelector(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string, submit bool) error
	Count(ctx context.Context, selector string) (int, error)

	// ScrollToBottom scrolls to the end of the document and returns the
	// resulting scroll height.
	ScrollToBottom(ctx context.Context) (int, error)

	// Scroll moves by amount viewports in direction ("up" or "down").
	Scroll(ctx context.Context, direction string, amount int) error

	// Eval runs a function definition or expression and returns its JSON value.
	Eval(ctx context.Context, js string) (json.RawMessage, error)

	HTML(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)

	// StatusCode is the HTTP status of the main document, 0 if unknown.
	StatusCode(ctx context.Context) (int, error)

	// LocalStorage returns the current origin and its storage items.
	LocalStorage(ctx context.Context) (origin string, items map[string]string, err error)

	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}
