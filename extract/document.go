// Package extract pulls structured data out of rendered page HTML.
package extract

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/harvest/models"
)

// Document is parsed page HTML bound to the URL it was loaded from.
// Relative references resolve against the page URL, or against <base href>
// when the page declares one.
type Document struct {
	doc  *goquery.Document
	base *url.URL
}

// Parse parses rawHTML. pageURL may be empty, in which case relative links
// are left out of link and image results.
func Parse(rawHTML, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	d := &Document{doc: doc}
	if pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil && u.IsAbs() {
			d.base = u
		}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && d.base != nil {
		if u, err := d.base.Parse(strings.TrimSpace(href)); err == nil {
			d.base = u
		}
	}
	return d, nil
}

func (d *Document) resolve(ref string) (*url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	if d.base != nil {
		u = d.base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, false
	}
	return u, true
}

// Links returns the unique http(s) anchors of the page with absolute hrefs.
// Fragments are stripped so #section links to the same page collapse.
func (d *Document) Links() []models.Link {
	links := []models.Link{}
	seen := make(map[string]struct{})

	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, ok := d.resolve(href)
		if !ok || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		u.Fragment = ""
		abs := u.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}

		internal := d.base != nil && strings.EqualFold(u.Hostname(), d.base.Hostname())
		links = append(links, models.Link{
			Href:     abs,
			Text:     collapseSpace(s.Text()),
			Internal: internal,
		})
	})
	return links
}

// Images returns unique image sources, skipping inline data URIs.
func (d *Document) Images() []models.Image {
	images := []models.Image{}
	seen := make(map[string]struct{})

	d.doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" {
			// Lazy loaders keep the real source in data-src.
			src, _ = s.Attr("data-src")
		}
		u, ok := d.resolve(src)
		if !ok || u.Scheme == "data" {
			return
		}
		abs := u.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}

		alt, _ := s.Attr("alt")
		images = append(images, models.Image{Src: abs, Alt: strings.TrimSpace(alt)})
	})
	return images
}

// Metadata reads description, Open Graph and article tags from <head>.
func (d *Document) Metadata() *models.Metadata {
	m := &models.Metadata{}

	d.doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		key := s.AttrOr("property", "")
		if key == "" {
			key = s.AttrOr("name", "")
		}
		switch strings.ToLower(key) {
		case "description":
			m.Description = content
		case "keywords":
			m.Keywords = content
		case "author", "article:author":
			if m.Author == "" {
				m.Author = content
			}
		case "og:title":
			m.OGTitle = content
		case "og:description":
			m.OGDescription = content
		case "og:image":
			if u, ok := d.resolve(content); ok {
				m.OGImage = u.String()
			} else {
				m.OGImage = content
			}
		case "og:type":
			m.OGType = content
		case "og:site_name":
			m.SiteName = content
		case "article:published_time":
			m.PublishedTime = content
		case "article:modified_time", "og:updated_time":
			if m.ModifiedTime == "" {
				m.ModifiedTime = content
			}
		}
	})

	if m.Description == "" {
		m.Description = m.OGDescription
	}
	m.Language = strings.TrimSpace(d.doc.Find("html").AttrOr("lang", ""))
	if href, ok := d.doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if u, ok := d.resolve(href); ok {
			m.Canonical = u.String()
		}
	}
	return m
}

// Tables flattens every <table> to cell text. The first row becomes the
// header when it is made of <th> cells or sits in <thead>.
func (d *Document) Tables() []models.Table {
	tables := []models.Table{}

	d.doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		var tbl models.Table
		// Nested tables are reported on their own.
		rows := t.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Closest("table").IsSelection(t)
		})
		rows.Each(func(i int, tr *goquery.Selection) {
			cells := tr.ChildrenFiltered("th, td")
			row := make([]string, 0, cells.Length())
			cells.Each(func(_ int, c *goquery.Selection) {
				row = append(row, collapseSpace(c.Text()))
			})
			if len(row) == 0 {
				return
			}
			isHeader := tr.ParentsFiltered("thead").Length() > 0 ||
				cells.Length() == tr.ChildrenFiltered("th").Length()
			if i == 0 && isHeader {
				tbl.Headers = row
				return
			}
			tbl.Rows = append(tbl.Rows, row)
		})
		if tbl.Rows == nil {
			tbl.Rows = [][]string{}
		}
		if len(tbl.Headers) > 0 || len(tbl.Rows) > 0 {
			tables = append(tables, tbl)
		}
	})
	return tables
}

// StructuredData returns the JSON-LD blocks of the page. Blocks that are
// not valid JSON are skipped; a top-level array contributes each element.
func (d *Document) StructuredData() []json.RawMessage {
	out := []json.RawMessage{}

	d.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" || !json.Valid([]byte(raw)) {
			return
		}
		if strings.HasPrefix(raw, "[") {
			var items []json.RawMessage
			if err := json.Unmarshal([]byte(raw), &items); err == nil {
				out = append(out, items...)
				return
			}
		}
		out = append(out, json.RawMessage(raw))
	})
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
