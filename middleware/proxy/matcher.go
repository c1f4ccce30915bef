package proxy

import (
	"strings"
)

// DefaultExcludedPrefixes lists the paths the proxy never handles.
var DefaultExcludedPrefixes = []string{
	"/api",
	"/static",
	"/img",
	"/favicon.ico",
	"/metrics",
	"/healthz",
}

// Matcher selects the requests the proxy runs for.
type Matcher struct {
	excluded []string
}

// NewMatcher returns a matcher skipping the given prefixes. With no
// prefixes it uses DefaultExcludedPrefixes.
func NewMatcher(excluded ...string) *Matcher {
	if len(excluded) == 0 {
		excluded = DefaultExcludedPrefixes
	}
	m := &Matcher{excluded: make([]string, 0, len(excluded))}
	for _, p := range excluded {
		p = "/" + strings.Trim(p, "/")
		m.excluded = append(m.excluded, p)
	}
	return m
}

// Match reports whether path must go through the proxy.
func (m *Matcher) Match(path string) bool {
	if path == "" {
		path = "/"
	}

	for _, segment := range strings.Split(path, "/") {
		if segment == ".well-known" {
			return false
		}
	}

	for _, p := range m.excluded {
		if path == p || strings.HasPrefix(path, p+"/") {
			return false
		}
	}

	return true
}
