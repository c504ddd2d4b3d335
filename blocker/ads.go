package blocker

// adDomains covers ad networks, trackers and consent beacons. Subdomains
// match through parent-domain lookup.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"facebook.net":          {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"mixpanel.com":          {},
	"segment.io":            {},
	"analytics.twitter.com": {},
	"ads-twitter.com":       {},
	"chartbeat.com":         {},
	"chartbeat.net":         {},
	"zedo.com":              {},
	"media.net":             {},
	"bidswitch.net":         {},
	"openx.net":             {},
	"casalemedia.com":       {},
	"demdex.net":            {},
	"krxd.net":              {},
	"bluekai.com":           {},
	"mathtag.com":           {},
	"serving-sys.com":       {},
	"rlcdn.com":             {},
	"adform.net":            {},
	"smartadserver.com":     {},
	"yieldmo.com":           {},
	"3lift.com":             {},
	"sharethis.com":         {},
	"addthis.com":           {},
	"consensu.org":          {},
}

// IsAdDomain reports whether host or any parent domain is a known ad or
// tracking domain.
func IsAdDomain(host string) bool {
	_, ok := matchDomain(host, adDomains)
	return ok
}
