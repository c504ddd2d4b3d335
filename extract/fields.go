package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/harvest/models"
	"golang.org/x/net/html"
)

// Field types understood by Fields.
const (
	FieldText      = "text"
	FieldHTML      = "html"
	FieldAttribute = "attribute"
	FieldHref      = "href"
	FieldSrc       = "src"
)

// Fields evaluates each named selector against the document. A field that
// fails (bad selector, no match, missing attribute) is reported in errs and
// left out of data; the remaining fields are still extracted.
func (d *Document) Fields(fields map[string]models.FieldSelector) (data map[string]any, errs map[string]string) {
	data = make(map[string]any, len(fields))
	errs = make(map[string]string)

	for name, f := range fields {
		v, err := d.Field(f)
		if err != nil {
			errs[name] = err.Error()
			continue
		}
		data[name] = v
	}
	return data, errs
}

// Field evaluates a single selector. With Multiple it returns []string of
// every match, otherwise the value of the first match.
func (d *Document) Field(f models.FieldSelector) (any, error) {
	sel, err := cascadia.Compile(f.Selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", f.Selector, err)
	}
	matches := d.doc.FindMatcher(sel)
	if matches.Length() == 0 {
		return nil, fmt.Errorf("no element matches %q", f.Selector)
	}

	if !f.Multiple {
		v, ok, err := d.value(matches.First(), f)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("element %q has no %s", f.Selector, describe(f))
		}
		return v, nil
	}

	values := []string{}
	var firstErr error
	matches.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok, err := d.value(s, f)
		if err != nil {
			firstErr = err
			return false
		}
		if ok {
			values = append(values, v)
		}
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return values, nil
}

func (d *Document) value(s *goquery.Selection, f models.FieldSelector) (string, bool, error) {
	switch f.Type {
	case "", FieldText:
		return collapseSpace(s.Text()), true, nil
	case FieldHTML:
		h, err := outerHTML(s)
		return h, err == nil, err
	case FieldAttribute:
		v, ok := s.Attr(f.Attribute)
		return strings.TrimSpace(v), ok, nil
	case FieldHref, FieldSrc:
		v, ok := s.Attr(f.Type)
		if !ok {
			return "", false, nil
		}
		if u, ok := d.resolve(v); ok {
			return u.String(), true, nil
		}
		return strings.TrimSpace(v), true, nil
	default:
		return "", false, fmt.Errorf("unknown field type %q", f.Type)
	}
}

func outerHTML(s *goquery.Selection) (string, error) {
	var buf bytes.Buffer
	for _, n := range s.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func describe(f models.FieldSelector) string {
	if f.Type == FieldAttribute {
		return fmt.Sprintf("attribute %q", f.Attribute)
	}
	return f.Type
}
