package simhash

import (
	"strings"

	"golang.org/x/net/html"
)

// Page fingerprints a rendered page. Visible text decides when there is
// any; pages without text (canvas apps, image galleries) fall back to
// their tag structure.
func Page(text, rawHTML string) uint64 {
	if fp := Fingerprint(text); fp != 0 {
		return fp
	}
	return FingerprintDOM(rawHTML)
}

// FingerprintDOM fingerprints the sequence of opening tags of a document,
// ignoring text and attributes. Tags are grouped into 3-tag shingles so
// nesting order matters.
func FingerprintDOM(rawHTML string) uint64 {
	tags := extractTags(rawHTML)
	if len(tags) == 0 {
		return 0
	}
	shingles := makeShingles(tags, 3)
	if len(shingles) == 0 {
		return Fingerprint(strings.Join(tags, " "))
	}
	return Fingerprint(strings.Join(shingles, " "))
}

func extractTags(rawHTML string) []string {
	z := html.NewTokenizer(strings.NewReader(rawHTML))
	var tags []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tags = append(tags, string(name))
		}
	}
}

func makeShingles(items []string, n int) []string {
	if len(items) < n {
		return nil
	}
	out := make([]string, 0, len(items)-n+1)
	for i := 0; i+n <= len(items); i++ {
		out = append(out, strings.Join(items[i:i+n], "_"))
	}
	return out
}
