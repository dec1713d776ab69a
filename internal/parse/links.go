package parse

import (
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var jsLocationPattern = regexp.MustCompile(`location\.href ?= ?['"](.*?)['"]`)

// LinkScope selects which links Links returns.
type LinkScope int

const (
	// AllLinks keeps every link.
	AllLinks LinkScope = iota
	// LocalLinks keeps links on the same registrable domain as the page.
	LocalLinks
	// ExternalLinks keeps links to other domains.
	ExternalLinks
)

// Links returns the unique absolute http(s) links of the page in document
// order: anchors, then iframes, then location.href assignments in
// scripts. Fragments are dropped. Scope filtering needs a base URL and is
// skipped without one.
func (d *Document) Links(scope LinkScope) []string {
	var raw []string
	raw = append(raw, d.Attr("a", "href")...)
	raw = append(raw, d.Attr("iframe", "src")...)
	for _, m := range jsLocationPattern.FindAllStringSubmatch(d.raw, -1) {
		raw = append(raw, m[1])
	}

	seen := make(map[string]struct{}, len(raw))
	links := make([]string, 0, len(raw))
	for _, href := range raw {
		link, ok := d.normalizeLink(href)
		if !ok {
			continue
		}
		if d.base != nil && scope != AllLinks {
			same := SameDomain(d.base.String(), link)
			if (scope == LocalLinks) != same {
				continue
			}
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	return links
}

func (d *Document) normalizeLink(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
	default:
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	if d.base != nil {
		u = d.base.ResolveReference(u)
	}
	s := u.String()
	if s == "" {
		return "", false
	}
	return s, true
}

// Domain returns the registrable domain of rawURL, for example
// "google.com.au" for "http://www.google.com.au/tos". IP hosts are
// returned unchanged.
func Domain(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// SameDomain reports whether a and b share a registrable domain.
func SameDomain(a, b string) bool {
	da, db := Domain(a), Domain(b)
	return da != "" && da == db
}

// Filter decides which URL paths a crawl follows. Ignore patterns win over
// Follow patterns; an empty Follow list allows every path.
//
// Patterns are globs: "/admin/*" matches everything below /admin and
// "*.pdf" matches by extension anywhere.
type Filter struct {
	Ignore []string
	Follow []string
}

// Allow reports whether rawURL passes the filter.
func (f Filter) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	for _, pattern := range f.Ignore {
		if MatchPattern(pattern, p) {
			return false
		}
	}
	if len(f.Follow) == 0 {
		return true
	}
	for _, pattern := range f.Follow {
		if MatchPattern(pattern, p) {
			return true
		}
	}
	return false
}

// MatchPattern reports whether a URL path matches a glob pattern.
func MatchPattern(pattern, p string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	if ext, ok := strings.CutPrefix(pattern, "*."); ok && strings.HasSuffix(p, "."+ext) {
		return true
	}
	if matched, err := path.Match(pattern, p); err == nil && matched {
		return true
	}
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := path.Match(pattern, path.Base(p))
		return err == nil && matched
	}
	return false
}
