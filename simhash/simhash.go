// Package simhash detects near-duplicate pages with 64-bit SimHash
// fingerprints.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"sync"
	"unicode"
)

// DefaultThreshold is the Hamming distance at or below which two pages
// count as the same content.
const DefaultThreshold = 3

// Fingerprint computes a 64-bit SimHash of the words of text. Words are
// lower-cased and stripped of surrounding punctuation first, so trivial
// formatting differences do not change the result.
func Fingerprint(text string) uint64 {
	words := tokens(text)
	if len(words) == 0 {
		return 0
	}

	var vector [64]int
	h := fnv.New64a()
	for _, word := range words {
		h.Reset()
		h.Write([]byte(word))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

func tokens(text string) []string {
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f == "" {
			continue
		}
		out = append(out, strings.ToLower(f))
	}
	return out
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether a and b are within threshold bits of each other.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}

// Index remembers fingerprints and answers whether a new one is a near
// duplicate of any seen so far. It is safe for concurrent use.
type Index struct {
	threshold int

	mu     sync.Mutex
	prints []uint64
}

// NewIndex returns an empty index; threshold < 0 selects DefaultThreshold.
func NewIndex(threshold int) *Index {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Index{threshold: threshold}
}

// Seen reports whether fp is within the threshold of a fingerprint already
// in the index. A new fingerprint is added, so of two concurrent callers
// with similar content exactly one sees false. The zero fingerprint (empty
// content) is never considered a duplicate.
func (ix *Index) Seen(fp uint64) bool {
	if fp == 0 {
		return false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, p := range ix.prints {
		if Similar(p, fp, ix.threshold) {
			return true
		}
	}
	ix.prints = append(ix.prints, fp)
	return false
}

// Len returns the number of distinct fingerprints stored.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.prints)
}
