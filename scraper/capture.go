package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

// sessionSaveTimeout bounds persisting a session after a successful job.
const sessionSaveTimeout = 10 * time.Second

// capture reads the page into a result. Only the HTML is required; every
// other step that fails is recorded as a warning and left out.
func capture(ctx context.Context, page engine.Page, req *models.ScrapeRequest) (*models.ScrapeResult, *models.ScrapeError) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, classify(ctx, err, models.ErrCodeExtraction, models.ErrCodeExtraction, "failed to extract page HTML")
	}

	res := &models.ScrapeResult{Success: true, URL: req.URL, HTML: html}
	warn := func(step string, err error) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", step, err))
	}

	if text, err := page.Text(ctx); err != nil {
		warn("text", err)
	} else {
		res.Text = text
	}
	if title, err := page.Title(ctx); err != nil {
		warn("title", err)
	} else {
		res.Title = title
	}
	if u, err := page.URL(ctx); err != nil || u == "" {
		res.FinalURL = req.URL
	} else {
		res.FinalURL = u
	}
	if code, err := page.StatusCode(ctx); err != nil {
		warn("status code", err)
	} else {
		res.StatusCode = code
	}

	if doc, err := extract.Parse(html, res.FinalURL); err != nil {
		warn("parse", err)
	} else {
		res.Metadata = doc.Metadata()
		if req.ExtractLinks {
			res.Links = doc.Links()
		}
		if req.ExtractImages {
			res.Images = doc.Images()
		}
		if req.ExtractTables {
			res.Tables = doc.Tables()
		}
		if req.ExtractStructuredData {
			res.StructuredData = doc.StructuredData()
		}
	}

	if req.ExtractMarkdown {
		if md, err := extract.Markdown(html, res.FinalURL); err != nil {
			warn("markdown", err)
		} else {
			res.Markdown = md
		}
	}
	if req.Script != "" {
		if v, err := page.Eval(ctx, req.Script); err != nil {
			warn("script", err)
		} else {
			res.ScriptResult = v
		}
	}
	if req.Screenshot {
		if png, err := page.Screenshot(ctx, req.FullPage); err != nil {
			warn("screenshot", err)
		} else {
			res.Screenshot = png
		}
	}
	return res, nil
}

// saveSession persists the lease's cookies and the page's local storage
// under id. Storage of other origins saved earlier is kept. Failures
// become warnings on res.
func (s *Scraper) saveSession(ctx context.Context, lease *engine.Lease, id string, res *models.ScrapeResult) {
	warn := func(err error) {
		s.log.Warn("session save failed", "session", id, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("session: %v", err))
	}
	if s.sessions == nil {
		warn(fmt.Errorf("no session store configured"))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionSaveTimeout)
	defer cancel()

	cookies, err := lease.Context.Cookies(ctx)
	if err != nil {
		warn(fmt.Errorf("read cookies: %w", err))
		return
	}
	state := &models.SessionState{
		Cookies:      cookies,
		LocalStorage: make(map[string]map[string]string),
		SavedAt:      time.Now().UTC(),
	}
	if prev, err := s.sessions.Load(ctx, id); err == nil && prev != nil {
		for origin, items := range prev.LocalStorage {
			state.LocalStorage[origin] = items
		}
	}
	origin, items, err := lease.Page.LocalStorage(ctx)
	if err != nil {
		warn(fmt.Errorf("read local storage: %w", err))
	} else if origin != "" && origin != "null" {
		state.LocalStorage[origin] = items
	}

	if err := s.sessions.Save(ctx, id, state); err != nil {
		warn(err)
		return
	}
	s.log.Debug("session saved", "session", id, "cookies", len(cookies), "origins", len(state.LocalStorage))
}
