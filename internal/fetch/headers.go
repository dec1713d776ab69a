package fetch

import "strings"

// DefaultUserAgent is sent when neither the request nor the engine sets one.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// DefaultHeaders returns the header set merged into every request.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	}
}

// MergeHeaders returns explicit plus every default header, User-Agent and
// Referer that explicit does not already set. Names are compared
// case-insensitively; explicit values always win.
func MergeHeaders(explicit, defaults map[string]string, userAgent, referer string) map[string]string {
	merged := make(map[string]string, len(explicit)+len(defaults)+2)
	present := make(map[string]bool, len(explicit))
	for k, v := range explicit {
		merged[k] = v
		present[strings.ToLower(k)] = true
	}

	add := func(name, value string) {
		if value == "" || present[strings.ToLower(name)] {
			return
		}
		merged[name] = value
		present[strings.ToLower(name)] = true
	}
	for k, v := range defaults {
		add(k, v)
	}
	add("User-Agent", userAgent)
	add("Referer", referer)
	return merged
}
