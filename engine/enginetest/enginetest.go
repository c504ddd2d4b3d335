// Package enginetest provides in-memory browsers for testing code built on
// the engine package.
package enginetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
)

// ErrClosed is returned by operations on closed fakes.
var ErrClosed = errors.New("enginetest: closed")

// Resource is a sub-request a document issues while loading.
type Resource struct {
	URL  string
	Type string
}

// Document is what a fake page shows after navigating to a URL.
type Document struct {
	Title    string
	HTML     string
	Text     string
	Status   int
	FinalURL string // defaults to the requested URL

	// Resources pass through the page interceptor during navigation.
	Resources []Resource

	// Selectors maps a selector to its match count.
	Selectors map[string]int

	// ItemSelector grows by ItemsPerScroll on every scroll, up to MaxItems.
	ItemSelector   string
	ItemsPerScroll int
	MaxItems       int

	// Eval maps a script to its JSON result.
	Eval map[string]string

	// SetCookies are stored in the context jar on navigation.
	SetCookies []models.Cookie

	// Storage is the local storage of the document's origin.
	Origin  string
	Storage map[string]string

	NavDelay time.Duration
	NavErr   error
}

// Site routes URLs to documents. Handlers see the 1-based visit number so
// tests can make early attempts fail.
type Site struct {
	mu       sync.Mutex
	handlers map[string]func(visit int) *Document
	visits   map[string]int
}

// NewSite returns an empty site; unknown URLs yield a navigation error.
func NewSite() *Site {
	return &Site{
		handlers: make(map[string]func(int) *Document),
		visits:   make(map[string]int),
	}
}

// Set serves doc for url on every visit.
func (s *Site) Set(url string, doc *Document) {
	s.Handle(url, func(int) *Document { return doc })
}

// Handle serves url through fn.
func (s *Site) Handle(url string, fn func(visit int) *Document) {
	s.mu.Lock()
	s.handlers[url] = fn
	s.mu.Unlock()
}

// Visits returns how many times url was navigated to.
func (s *Site) Visits(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visits[url]
}

func (s *Site) serve(url string) (*Document, error) {
	s.mu.Lock()
	s.visits[url]++
	n := s.visits[url]
	fn, ok := s.handlers[url]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("enginetest: no document for %s", url)
	}
	doc := fn(n)
	if doc == nil {
		return nil, fmt.Errorf("enginetest: nil document for %s", url)
	}
	if doc.NavErr != nil {
		return doc, doc.NavErr
	}
	return doc, nil
}

// Launcher creates fake browsers sharing one Site.
type Launcher struct {
	Site        *Site
	LaunchDelay time.Duration

	mu        sync.Mutex
	browsers  []*Browser
	launchErr error

	openPages atomic.Int32
	maxPages  atomic.Int32
}

// NewLauncher returns a launcher serving site.
func NewLauncher(site *Site) *Launcher {
	return &Launcher{Site: site}
}

// FailLaunches makes subsequent launches fail with err (nil to clear).
func (l *Launcher) FailLaunches(err error) {
	l.mu.Lock()
	l.launchErr = err
	l.mu.Unlock()
}

func (l *Launcher) Launch(ctx context.Context) (engine.Browser, error) {
	if l.LaunchDelay > 0 {
		select {
		case <-time.After(l.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	b := &Browser{launcher: l, alive: true}
	l.browsers = append(l.browsers, b)
	return b, nil
}

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// OpenPages returns the number of currently open pages.
func (l *Launcher) OpenPages() int { return int(l.openPages.Load()) }

// MaxOpenPages returns the highest number of simultaneously open pages.
func (l *Launcher) MaxOpenPages() int { return int(l.maxPages.Load()) }

func (l *Launcher) pageOpened() {
	n := l.openPages.Add(1)
	for {
		m := l.maxPages.Load()
		if n <= m || l.maxPages.CompareAndSwap(m, n) {
			return
		}
	}
}

// Browser is a fake browser process.
type Browser struct {
	launcher *Launcher

	mu       sync.Mutex
	alive    bool
	closed   bool
	contexts []*Context
}

// Kill simulates a crashed process.
func (b *Browser) Kill() {
	b.mu.Lock()
	b.alive = false
	b.mu.Unlock()
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Contexts returns every context created in this browser.
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Context(nil), b.contexts...)
}

func (b *Browser) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive && !b.closed
}

func (b *Browser) NewContext(_ context.Context, state *models.SessionState) (engine.BrowsingContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.alive {
		return nil, ErrClosed
	}
	c := &Context{browser: b, storage: make(map[string]map[string]string)}
	if state != nil {
		c.Restored = state
		c.jar = append(c.jar, state.Cookies...)
		for origin, items := range state.LocalStorage {
			c.storage[origin] = items
		}
	}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Context is a fake browsing context with a cookie jar.
type Context struct {
	browser *Browser
	// Restored is the state the context was created with.
	Restored *models.SessionState

	mu      sync.Mutex
	jar     []models.Cookie
	storage map[string]map[string]string
	pages   []*Page
	closed  bool
}

// Pages returns every page opened in this context.
func (c *Context) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Page(nil), c.pages...)
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) NewPage(context.Context) (engine.Page, error) {
	if !c.browser.Alive() {
		return nil, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	p := &Page{ctx: c}
	c.pages = append(c.pages, p)
	c.browser.launcher.pageOpened()
	return p, nil
}

func (c *Context) Cookies(context.Context) ([]models.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Cookie(nil), c.jar...), nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Context) addCookies(cookies []models.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, nc := range cookies {
		replaced := false
		for i, oc := range c.jar {
			if oc.Name == nc.Name && oc.Domain == nc.Domain {
				c.jar[i] = nc
				replaced = true
				break
			}
		}
		if !replaced {
			c.jar = append(c.jar, nc)
		}
	}
}

// Page is a fake tab.
type Page struct {
	ctx *Context

	mu        sync.Mutex
	doc       *Document
	url       string
	decide    func(url, resourceType string) bool
	scrolls   int
	closed    bool
	Headers   map[string]string
	UserAgent string
	Viewport  [2]int
	Scripts   []string
	Clicks    []string
	Typed     []string
	Blocked   []string
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Scrolls returns how many times the page was scrolled to the bottom since
// the last navigation.
func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

func (p *Page) check() error {
	if p.closed || !p.ctx.browser.Alive() {
		return ErrClosed
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url, _ string) error {
	p.mu.Lock()
	if err := p.check(); err != nil {
		p.mu.Unlock()
		return err
	}
	decide := p.decide
	p.mu.Unlock()

	doc, err := p.ctx.browser.launcher.Site.serve(url)
	if doc != nil && doc.NavDelay > 0 {
		select {
		case <-time.After(doc.NavDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var blocked []string
	if decide != nil {
		for _, r := range doc.Resources {
			if decide(r.URL, r.Type) {
				blocked = append(blocked, r.URL)
			}
		}
	}
	p.ctx.addCookies(doc.SetCookies)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
	p.url = url
	if doc.FinalURL != "" {
		p.url = doc.FinalURL
	}
	p.scrolls = 0
	p.Blocked = append(p.Blocked, blocked...)
	return nil
}

func (p *Page) Intercept(decide func(url, resourceType string) bool) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decide = decide
	return func() {
		p.mu.Lock()
		p.decide = nil
		p.mu.Unlock()
	}, nil
}

func (p *Page) InjectScript(js string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scripts = append(p.Scripts, js)
	return nil
}

func (p *Page) SetHeaders(h map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Headers = h
	return nil
}

func (p *Page) SetUserAgent(ua string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UserAgent = ua
	return nil
}

func (p *Page) SetViewport(w, h int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Viewport = [2]int{w, h}
	return nil
}

func (p *Page) SetCookies(cookies []models.Cookie) error {
	p.ctx.addCookies(cookies)
	return nil
}

func (p *Page) loaded() (*Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return nil, err
	}
	if p.doc == nil {
		return nil, errors.New("enginetest: nothing loaded")
	}
	return p.doc, nil
}

func (p *Page) count(doc *Document, selector string) int {
	n := doc.Selectors[selector]
	if doc.ItemSelector != "" && selector == doc.ItemSelector {
		items := p.scrolls * doc.ItemsPerScroll
		if doc.MaxItems > 0 && items > doc.MaxItems {
			items = doc.MaxItems
		}
		n += items
	}
	return n
}

func (p *Page) WaitSelector(ctx context.Context, selector string) error {
	doc, err := p.loaded()
	if err != nil {
		return err
	}
	p.mu.Lock()
	n := p.count(doc, selector)
	p.mu.Unlock()
	if n > 0 {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *Page) Click(_ context.Context, selector string) error {
	doc, err := p.loaded()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count(doc, selector) == 0 {
		return fmt.Errorf("element %q not found", selector)
	}
	p.Clicks = append(p.Clicks, selector)
	return nil
}

func (p *Page) Type(_ context.Context, selector, text string, submit bool) error {
	doc, err := p.loaded()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count(doc, selector) == 0 {
		return fmt.Errorf("element %q not found", selector)
	}
	entry := selector + "=" + text
	if submit {
		entry += "\n"
	}
	p.Typed = append(p.Typed, entry)
	return nil
}

func (p *Page) Count(_ context.Context, selector string) (int, error) {
	doc, err := p.loaded()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count(doc, selector), nil
}

func (p *Page) ScrollToBottom(context.Context) (int, error) {
	doc, err := p.loaded()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	items := 0
	if doc.ItemSelector != "" {
		items = p.count(doc, doc.ItemSelector)
	}
	return 1000 + items*100, nil
}

func (p *Page) Scroll(context.Context, string, int) error {
	_, err := p.loaded()
	return err
}

func (p *Page) Eval(_ context.Context, js string) (json.RawMessage, error) {
	doc, err := p.loaded()
	if err != nil {
		return nil, err
	}
	if v, ok := doc.Eval[js]; ok {
		return json.RawMessage(v), nil
	}
	return nil, fmt.Errorf("enginetest: script not supported: %s", js)
}

func (p *Page) HTML(context.Context) (string, error) {
	doc, err := p.loaded()
	if err != nil {
		return "", err
	}
	return doc.HTML, nil
}

func (p *Page) Text(context.Context) (string, error) {
	doc, err := p.loaded()
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

func (p *Page) Title(context.Context) (string, error) {
	doc, err := p.loaded()
	if err != nil {
		return "", err
	}
	return doc.Title, nil
}

func (p *Page) URL(context.Context) (string, error) {
	if _, err := p.loaded(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) StatusCode(context.Context) (int, error) {
	doc, err := p.loaded()
	if err != nil {
		return 0, err
	}
	return doc.Status, nil
}

func (p *Page) LocalStorage(context.Context) (string, map[string]string, error) {
	doc, err := p.loaded()
	if err != nil {
		return "", nil, err
	}
	if doc.Origin == "" {
		return "", nil, nil
	}
	items := make(map[string]string)
	p.ctx.mu.Lock()
	for k, v := range p.ctx.storage[doc.Origin] {
		items[k] = v
	}
	p.ctx.mu.Unlock()
	for k, v := range doc.Storage {
		items[k] = v
	}
	return doc.Origin, items, nil
}

func (p *Page) Screenshot(context.Context, bool) ([]byte, error) {
	if _, err := p.loaded(); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.ctx.browser.launcher.openPages.Add(-1)
	return nil
}
