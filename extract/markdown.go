package extract

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// minArticleLength is the shortest readability text accepted as the main
// content; anything shorter falls back to the stripped body.
const minArticleLength = 50

// boilerplate is removed from the body when readability finds no article.
var boilerplate = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside", "form",
	`[role="navigation"]`, `[role="banner"]`, `[role="contentinfo"]`,
	`[aria-hidden="true"]`,
}

var (
	convOnce sync.Once
	conv     *converter.Converter
)

// markdownConverter is shared by all callers; the converter is safe for
// concurrent use.
func markdownConverter() *converter.Converter {
	convOnce.Do(func() {
		conv = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(
					table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
				),
			),
		)
	})
	return conv
}

// Markdown renders the main content of the page as Markdown. Links and
// images are made absolute against pageURL.
func Markdown(rawHTML, pageURL string) (string, error) {
	content := MainContent(rawHTML, pageURL)

	var (
		md  string
		err error
	)
	if u, perr := url.Parse(pageURL); perr == nil && u.Host != "" {
		md, err = markdownConverter().ConvertString(content, converter.WithDomain(u.Scheme+"://"+u.Host))
	} else {
		md, err = markdownConverter().ConvertString(content)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// MainContent returns the article HTML found by readability, or the body
// with navigation and other boilerplate removed when no article is found.
func MainContent(rawHTML, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err == nil {
		article, err := readability.FromReader(strings.NewReader(rawHTML), u)
		switch {
		case err != nil:
			slog.Debug("readability failed, using stripped body", "url", pageURL, "error", err)
		case len(strings.TrimSpace(article.TextContent)) < minArticleLength:
			slog.Debug("readability content too short, using stripped body",
				"url", pageURL, "length", len(article.TextContent))
		default:
			return article.Content
		}
	}
	return stripBoilerplate(rawHTML)
}

func stripBoilerplate(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	for _, sel := range boilerplate {
		root.Find(sel).Remove()
	}
	h, err := root.Html()
	if err != nil {
		return rawHTML
	}
	return h
}
