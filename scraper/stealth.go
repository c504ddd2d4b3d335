package scraper

import (
	"math/rand/v2"
	"net/url"

	"github.com/go-rod/stealth"
	"github.com/use-agent/harvest/models"
)

// userAgents are current desktop browsers picked from when stealth is on
// and the request sets no user agent.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

var viewports = []models.Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1680, Height: 1050},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
	{Width: 1366, Height: 768},
}

// profile is the identity a page presents.
type profile struct {
	stealth   bool
	userAgent string
	viewport  models.Viewport
	headers   map[string]string
}

// hintKey groups anonymous jobs that may share a browsing context.
func (p profile) hintKey() string {
	if p.stealth {
		return "stealth"
	}
	return "plain"
}

func (s *Scraper) profileFor(req *models.ScrapeRequest) profile {
	p := profile{
		stealth:   s.cfg.Browser.Stealth,
		userAgent: s.cfg.Browser.UserAgent,
		viewport:  models.Viewport{Width: s.cfg.Browser.ViewportWidth, Height: s.cfg.Browser.ViewportHeight},
	}
	if req.Stealth != nil {
		p.stealth = *req.Stealth
	}
	if p.stealth {
		p.userAgent = userAgents[rand.IntN(len(userAgents))]
		p.viewport = viewports[rand.IntN(len(viewports))]
	}
	if req.UserAgent != "" {
		p.userAgent = req.UserAgent
	}
	if req.Viewport != nil {
		p.viewport = *req.Viewport
	}

	p.headers = make(map[string]string, len(req.Headers)+1)
	if p.stealth {
		// Arriving from a search result looks less like a bot.
		if u, err := url.Parse(req.URL); err == nil {
			p.headers["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	for k, v := range req.Headers {
		p.headers[k] = v
	}
	return p
}

// stealthScript hides the usual automation markers (navigator.webdriver,
// missing plugins, headless chrome runtime).
func stealthScript() string {
	return stealth.JS
}
