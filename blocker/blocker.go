// Package blocker decides which outgoing browser requests are aborted.
package blocker

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/use-agent/harvest/models"
)

// Blocker builds per-page rulesets and keeps the process-wide count of
// blocked requests.
type Blocker struct {
	defaultTypes []string
	blocked      atomic.Int64
}

// New creates a Blocker that always blocks the given resource types
// (CDP names such as "Image", "Media", "Font").
func New(defaultTypes []string) *Blocker {
	return &Blocker{defaultTypes: defaultTypes}
}

// Blocked returns the number of requests blocked since start.
func (b *Blocker) Blocked() int64 {
	return b.blocked.Load()
}

// Ruleset is the compiled set of rules for one page. It is safe for
// concurrent use by the interception goroutine and the job.
type Ruleset struct {
	parent   *Blocker
	types    map[string]struct{}
	domains  map[string]struct{}
	patterns []*regexp.Regexp
	ads      bool
	hits     atomic.Int64
}

// Rules compiles the defaults plus the request's rules into a fresh Ruleset.
func (b *Blocker) Rules(rules *models.BlockRules, blockAds bool) (*Ruleset, error) {
	rs := &Ruleset{
		parent:  b,
		types:   make(map[string]struct{}),
		domains: make(map[string]struct{}),
		ads:     blockAds,
	}
	for _, t := range b.defaultTypes {
		rs.types[strings.ToLower(t)] = struct{}{}
	}
	if rules != nil {
		for _, t := range rules.ResourceTypes {
			rs.types[strings.ToLower(t)] = struct{}{}
		}
		for _, d := range rules.Domains {
			d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
			if d != "" {
				rs.domains[d] = struct{}{}
			}
		}
		for _, p := range rules.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("blocker: pattern %q: %w", p, err)
			}
			rs.patterns = append(rs.patterns, re)
		}
	}
	return rs, nil
}

// Empty reports whether the ruleset can never block anything, in which case
// interception need not be installed.
func (r *Ruleset) Empty() bool {
	return len(r.types) == 0 && len(r.domains) == 0 && len(r.patterns) == 0 && !r.ads
}

// Match reports whether a request should be blocked and which rule matched.
func (r *Ruleset) Match(rawURL, resourceType string) (bool, string) {
	if _, ok := r.types[strings.ToLower(resourceType)]; ok {
		return true, "type:" + resourceType
	}

	var host string
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	if host != "" {
		if d, ok := matchDomain(host, r.domains); ok {
			return true, "domain:" + d
		}
		if r.ads && IsAdDomain(host) {
			return true, "ads:" + host
		}
	}

	for _, re := range r.patterns {
		if re.MatchString(rawURL) {
			return true, "pattern:" + re.String()
		}
	}
	return false, ""
}

// Decide is Match plus bookkeeping: a positive decision increments both the
// page counter and the process-wide counter.
func (r *Ruleset) Decide(rawURL, resourceType string) bool {
	block, _ := r.Match(rawURL, resourceType)
	if block {
		r.hits.Add(1)
		r.parent.blocked.Add(1)
	}
	return block
}

// Hits returns the number of requests this ruleset blocked.
func (r *Ruleset) Hits() int64 {
	return r.hits.Load()
}

// matchDomain checks host and each of its parent domains against set.
func matchDomain(host string, set map[string]struct{}) (string, bool) {
	if len(set) == 0 {
		return "", false
	}
	for {
		if _, ok := set[host]; ok {
			return host, true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return "", false
		}
		host = host[idx+1:]
	}
}
