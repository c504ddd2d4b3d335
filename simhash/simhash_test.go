package simhash

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFingerprintDeterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	if Fingerprint(text) != Fingerprint(text) {
		t.Error("identical texts produced different fingerprints")
	}
}

func TestFingerprintIgnoresCaseAndPunctuation(t *testing.T) {
	a := Fingerprint("Hello, World! Welcome to the shop.")
	b := Fingerprint("hello world welcome to the shop")
	if a != b {
		t.Errorf("normalized texts differ by %d bits", Distance(a, b))
	}
}

func TestFingerprintSimilarAndDifferent(t *testing.T) {
	base := Fingerprint("the quick brown fox jumps over the lazy dog")
	near := Fingerprint("the quick brown fox leaps over the lazy dog")
	far := Fingerprint("completely unrelated content about quantum physics and mathematics")

	if d := Distance(base, near); d > 10 {
		t.Errorf("one-word edit moved %d bits", d)
	}
	if d := Distance(base, far); d < 5 {
		t.Errorf("unrelated texts only %d bits apart", d)
	}
}

func TestFingerprintEmpty(t *testing.T) {
	for _, in := range []string{"", "   \t\n ", "... !!! --"} {
		if fp := Fingerprint(in); fp != 0 {
			t.Errorf("Fingerprint(%q) = %x, want 0", in, fp)
		}
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		want int
	}{
		{"identical", 0xFF, 0xFF, 0},
		{"all different", 0, ^uint64(0), 64},
		{"one bit", 0, 1, 1},
		{"two bits", 0, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance(%x, %x) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilarThresholdIsInclusive(t *testing.T) {
	a := Fingerprint("the quick brown fox")
	b := Fingerprint("a completely different text about nothing related")
	d := Distance(a, b)
	if Similar(a, b, d-1) || !Similar(a, b, d) {
		t.Errorf("threshold boundary wrong at distance %d", d)
	}
}

func TestFingerprintDOM(t *testing.T) {
	same1 := `<html><body><div><h1>Hello</h1><p>World</p></div></body></html>`
	same2 := `<html><body><div><h1>Hi</h1><p>Earth</p></div></body></html>`
	other := `<html><body><table><tr><td>A</td><td>B</td></tr><tr><td>C</td></tr></table></body></html>`

	if FingerprintDOM(same1) != FingerprintDOM(same2) {
		t.Error("same structure with different text should match")
	}
	if d := Distance(FingerprintDOM(same1), FingerprintDOM(other)); d < 3 {
		t.Errorf("different structures only %d bits apart", d)
	}
	if FingerprintDOM("plain text, no tags") != 0 {
		t.Error("text without tags should fingerprint to 0")
	}
	if FingerprintDOM("<br/>") == 0 {
		t.Error("a single tag should still fingerprint")
	}
}

func TestPagePrefersText(t *testing.T) {
	html := `<div><p>x</p></div>`
	if Page("some words", html) != Fingerprint("some words") {
		t.Error("text fingerprint not used")
	}
	if Page("", html) != FingerprintDOM(html) {
		t.Error("empty text should fall back to structure")
	}
}

func TestExtractTagsAndShingles(t *testing.T) {
	tags := extractTags(`<html><head><title>T</title></head><body><div><p>x</p></div></body></html>`)
	if want := []string{"html", "head", "title", "body", "div", "p"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("extractTags = %v, want %v", tags, want)
	}
	if got := makeShingles([]string{"a", "b", "c", "d"}, 3); !reflect.DeepEqual(got, []string{"a_b_c", "b_c_d"}) {
		t.Errorf("makeShingles = %v", got)
	}
	if got := makeShingles([]string{"a"}, 3); got != nil {
		t.Errorf("short input gave %v", got)
	}
}

func TestIndexSeen(t *testing.T) {
	ix := NewIndex(-1)
	a := Fingerprint("the quick brown fox jumps over the lazy dog")

	if ix.Seen(a) {
		t.Fatal("first fingerprint reported as seen")
	}
	if !ix.Seen(a) {
		t.Error("repeat fingerprint not reported")
	}
	if !ix.Seen(a ^ 0b101) {
		t.Error("fingerprint 2 bits away should be a duplicate at the default threshold")
	}
	if ix.Seen(^a) {
		t.Error("inverted fingerprint reported as duplicate")
	}
	if ix.Seen(0) || ix.Seen(0) {
		t.Error("empty content must never be a duplicate")
	}
	if ix.Len() != 2 {
		t.Errorf("Len = %d, want 2", ix.Len())
	}
}

func TestIndexConcurrentFirstWins(t *testing.T) {
	ix := NewIndex(DefaultThreshold)
	fp := Fingerprint("same page body")

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !ix.Seen(fp) {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	if fresh.Load() != 1 {
		t.Errorf("%d callers saw fresh content, want 1", fresh.Load())
	}
}
