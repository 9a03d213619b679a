package main

import (
	"net/url"
	"strings"
)

// matchCORSOrigin reports whether origin is allowed by patterns. A pattern is "*", an exact
// origin, or scheme://*.domain which matches any subdomain (not the bare domain) on that scheme.
func matchCORSOrigin(origin string, patterns []string) bool {
	o, err := url.Parse(origin)
	if err != nil || o.Host == "" {
		return false
	}
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if strings.EqualFold(p, origin) {
			return true
		}
		pu, err := url.Parse(p)
		if err != nil || !strings.HasPrefix(pu.Host, "*.") {
			continue
		}
		if !strings.EqualFold(pu.Scheme, o.Scheme) {
			continue
		}
		suffix := strings.ToLower(pu.Host[1:])
		if strings.HasSuffix(strings.ToLower(o.Host), suffix) {
			return true
		}
	}
	return false
}
