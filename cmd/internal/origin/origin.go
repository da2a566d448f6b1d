// Package origin matches request Origin headers against a configured
// allow-list. The HTTP CORS middleware and the websocket handshake share it
// so both layers agree on what is allowed.
//
// Entries are either "*" (anything), a full origin such as
// "https://app.example.com", or a glob over the full origin such as
// "http://127.0.0.1:*" or "https://*.example.com". A full origin without an
// explicit port also admits the same host on any port, so "http://localhost"
// covers local dev servers.
package origin

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

type rule struct {
	pattern string
	glob    glob.Glob
	host    string // set for literal entries without a port
}

// Matcher is an immutable compiled allow-list. It is safe for concurrent use.
type Matcher struct {
	any   bool
	rules []rule
}

// NewMatcher compiles allowed. Blank entries are ignored.
func NewMatcher(allowed []string) (*Matcher, error) {
	m := &Matcher{}
	for i, raw := range allowed {
		p := strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
		if p == "" {
			continue
		}
		if p == "*" {
			m.any = true
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("origin %d (%q): %w", i, raw, err)
		}
		r := rule{pattern: p, glob: g}
		if !strings.ContainsAny(p, "*?[{") {
			if u, err := url.Parse(p); err == nil && u.Host != "" && u.Port() == "" {
				r.host = u.Hostname()
			}
		}
		m.rules = append(m.rules, r)
	}
	return m, nil
}

// MustMatcher is NewMatcher for static configuration; it panics on a bad pattern.
func MustMatcher(allowed ...string) *Matcher {
	m, err := NewMatcher(allowed)
	if err != nil {
		panic(err)
	}
	return m
}

// Empty reports whether the allow-list admits nothing.
func (m *Matcher) Empty() bool {
	return m == nil || (!m.any && len(m.rules) == 0)
}

// Allowed reports whether origin is on the allow-list. An empty origin is
// never allowed; callers decide separately whether Origin is required.
func (m *Matcher) Allowed(origin string) bool {
	if m == nil {
		return false
	}
	origin = strings.ToLower(strings.TrimSpace(origin))
	if origin == "" || origin == "null" {
		return false
	}
	if m.any {
		return true
	}

	host := Hostname(origin)
	for _, r := range m.rules {
		if r.glob.Match(origin) {
			return true
		}
		if r.host != "" && host != "" && r.host == host {
			return true
		}
	}
	return false
}

// Hostname returns the lower-cased host of an origin, without port.
func Hostname(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Host returns the lower-cased host[:port] of an origin.
func Host(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

// AcceptPattern returns a pattern that authorizes exactly origin's host for
// websocket.AcceptOptions.OriginPatterns, which uses path.Match syntax.
func AcceptPattern(origin string) string {
	h := Host(origin)
	if h == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(h)
}
