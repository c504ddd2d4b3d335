package scraper

import (
	"context"

	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

// Extract loads req.URL with req.Options and reads each named field from
// the rendered HTML. A field that fails to extract is reported in Errors and
// does not fail the others.
func (s *Scraper) Extract(ctx context.Context, req *models.ExtractRequest) *models.MultiExtractResult {
	out := &models.MultiExtractResult{URL: req.URL, Data: map[string]any{}}
	if err := req.Validate(); err != nil {
		out.Error = models.AsScrapeError(err, models.ErrCodeInvalidInput).ToDetail()
		return out
	}

	opts := req.Options
	opts.URL = req.URL
	res := s.Scrape(ctx, &opts)
	if !res.Success {
		out.Error = res.Error
		return out
	}

	doc, err := extract.Parse(res.HTML, res.FinalURL)
	if err != nil {
		out.Error = models.NewScrapeError(models.ErrCodeExtraction, "failed to parse page HTML", err).ToDetail()
		return out
	}
	data, errs := doc.Fields(req.Fields)
	out.Success = true
	out.Data = data
	if len(errs) > 0 {
		out.Errors = errs
	}
	return out
}

// MultiExtract is Extract with default scrape options.
func (s *Scraper) MultiExtract(ctx context.Context, url string, fields map[string]models.FieldSelector) *models.MultiExtractResult {
	return s.Extract(ctx, &models.ExtractRequest{URL: url, Fields: fields})
}
