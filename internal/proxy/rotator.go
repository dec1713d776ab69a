package proxy

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
)

// DefaultMaxFailures is the number of consecutive failures after which a
// proxy is evicted.
const DefaultMaxFailures = 5

// Rotator is a concurrency-safe round-robin proxy list.
type Rotator struct {
	mu sync.Mutex

	// all is the configured list, in order, used by Reset.
	all []string

	// ring holds the proxies still in rotation. Next takes from the front
	// and appends to the back.
	ring []string

	failures    map[string]int
	maxFailures int
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithMaxFailures sets the eviction threshold. Zero disables eviction.
func WithMaxFailures(n int) Option {
	return func(r *Rotator) {
		if n >= 0 {
			r.maxFailures = n
		}
	}
}

// NewRotator creates a Rotator over proxies. Blank and duplicate entries
// are dropped. Entries without a scheme are treated as http proxies.
func NewRotator(proxies []string, opts ...Option) (*Rotator, error) {
	r := &Rotator{
		failures:    make(map[string]int),
		maxFailures: DefaultMaxFailures,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.set(proxies); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotator) set(proxies []string) error {
	seen := make(map[string]bool, len(proxies))
	list := make([]string, 0, len(proxies))
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		normalized, err := Normalize(p)
		if err != nil {
			return err
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		list = append(list, normalized)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = list
	r.ring = slices.Clone(list)
	r.failures = make(map[string]int, len(list))
	return nil
}

// Normalize validates p and adds the http scheme when it is missing.
// Supported schemes are http, https, socks5 and socks5h.
func Normalize(p string) (string, error) {
	if !strings.Contains(p, "://") {
		p = "http://" + p
	}
	u, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidProxy, p, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidProxy, p)
	}
	return u.String(), nil
}

// LoadFile replaces the proxy list with the entries of path, one per line.
// Blank lines and lines starting with # are skipped.
func (r *Rotator) LoadFile(path string) error {
	proxies, err := ReadFile(path)
	if err != nil {
		return err
	}
	return r.set(proxies)
}

// ReadFile reads a proxy list file.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer f.Close()

	var proxies []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxies = append(proxies, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}
	if len(proxies) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return proxies, nil
}

// Add appends p to the rotation if it is not already configured.
func (r *Rotator) Add(p string) error {
	normalized, err := Normalize(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.all, normalized) {
		return nil
	}
	r.all = append(r.all, normalized)
	r.ring = append(r.ring, normalized)
	return nil
}

// Next returns the next proxy in rotation and moves it to the back.
// It returns false when no proxy is available.
func (r *Rotator) Next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ring) == 0 {
		return "", false
	}
	p := r.ring[0]
	r.ring = append(r.ring[1:], p)
	return p, true
}

// RecordFailure counts a failed request through p and evicts p once it
// reaches the failure limit. It reports whether p was evicted by this call.
func (r *Rotator) RecordFailure(p string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !slices.Contains(r.all, p) {
		return false
	}
	r.failures[p]++
	if r.maxFailures == 0 || r.failures[p] < r.maxFailures {
		return false
	}
	i := slices.Index(r.ring, p)
	if i < 0 {
		return false
	}
	r.ring = slices.Delete(r.ring, i, i+1)
	return true
}

// RecordSuccess resets the consecutive failure count of p.
func (r *Rotator) RecordSuccess(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, p)
}

// Reset restores every configured proxy and clears failure counts.
func (r *Rotator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring = slices.Clone(r.all)
	r.failures = make(map[string]int, len(r.all))
}

// Proxies returns the proxies currently in rotation, in rotation order.
func (r *Rotator) Proxies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ring)
}

// Failures returns the consecutive failure count of p.
func (r *Rotator) Failures(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[p]
}

// Len returns the number of proxies in rotation.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ring)
}
