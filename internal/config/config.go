package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/crawlcache/internal/model"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "crawlcache"

	// DefaultCacheFileName is the file name of the cache inside the XDG
	// cache directory.
	DefaultCacheFileName = "cache.db"

	// DefaultDelay is the minimum spacing between attempts on one route.
	DefaultDelay = time.Second

	// DefaultMaxRetries is the number of attempts after the first.
	DefaultMaxRetries = 1

	// DefaultTimeout bounds each attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultWorkers is the number of concurrent fetches during a crawl.
	DefaultWorkers = 4

	// DefaultMaxQueue is the number of pending tasks scheduled per window.
	DefaultMaxQueue = 1000

	// DefaultMaxDepth limits link following from the seeds.
	DefaultMaxDepth = 2

	// DefaultMaxPages stops a crawl after this many pages. Zero disables
	// the limit.
	DefaultMaxPages = 100

	// DefaultMaxBodySize limits the bytes read from one response.
	DefaultMaxBodySize = 10 * 1024 * 1024

	// DefaultMaxRedirects limits the redirects followed by one attempt.
	DefaultMaxRedirects = 10

	// DefaultCompressionLevel is the zlib level of cached values.
	DefaultCompressionLevel = 6

	// DefaultMaxProxyFailures evicts a proxy after this many consecutive
	// transport failures.
	DefaultMaxProxyFailures = 5

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultUserAgent is sent when neither the request nor the site
	// configuration sets one.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0"

	// NoExpiry keeps cached entries fresh forever.
	NoExpiry time.Duration = -1
)

// Config holds all options of a crawlcache run. It is populated from CLI
// flags and passed down explicitly.
type Config struct {
	// Targets are the URLs to fetch or the seeds of a crawl.
	Targets []string

	// CacheFile is the sqlite cache path. Empty uses DefaultCacheFile().
	CacheFile string

	// CacheExpiry is how long cached entries stay fresh. NoExpiry keeps
	// them forever.
	CacheExpiry time.Duration

	// CompressionLevel is the zlib level (0..9) of cached values. HTML
	// compresses well, so the default trades a little CPU for a much
	// smaller cache file.
	CompressionLevel int

	// ReadCache serves fresh cached responses without downloading.
	ReadCache bool

	// WriteCache stores downloaded responses.
	WriteCache bool

	// Delay is the minimum spacing between attempts on one route. A route
	// is a (proxy, domain) pair, so adding proxies raises throughput against
	// a single site without hitting it faster through any one exit.
	Delay time.Duration

	// MaxRetries is the number of attempts after the first.
	MaxRetries int

	// Timeout bounds each attempt.
	Timeout time.Duration

	// UserAgent is sent when a request does not set one.
	UserAgent string

	// VerifyTLS enables certificate verification.
	VerifyTLS bool

	// MaxBodySize limits the bytes read from one response.
	MaxBodySize int64

	// MaxRedirects limits the redirects followed by one attempt.
	MaxRedirects int

	// SuccessStatus lists the statuses that end the retry loop successfully.
	SuccessStatus []int

	// NonRetriableStatus lists the statuses that end the retry loop as a
	// failure.
	NonRetriableStatus []int

	// RateLimit caps attempts per second across all routes. Zero disables
	// the cap.
	RateLimit float64

	// RateBurst is the burst allowed by RateLimit.
	RateBurst int

	// Proxies is the proxy pool. Entries without a scheme are treated as
	// HTTP proxies.
	Proxies []string

	// ProxyFile is a file with one proxy per line, added to Proxies.
	ProxyFile string

	// MaxProxyFailures evicts a proxy after this many consecutive transport
	// failures. Zero never evicts.
	MaxProxyFailures int

	// UseTor starts an embedded Tor daemon and adds it to the proxy pool.
	UseTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// Workers is the number of concurrent fetches during a crawl.
	Workers int

	// MaxQueue is the number of pending tasks scheduled per window. Tasks
	// beyond it stay queued so that a large frontier does not hold open
	// goroutines waiting on the throttle.
	MaxQueue int

	// MaxDepth limits link following from the seeds. Zero fetches only
	// the seeds.
	MaxDepth int

	// MaxPages stops a crawl after this many pages. Zero disables the limit.
	MaxPages int

	// ExternalLinks also follows links that leave the seed's domain.
	ExternalLinks bool

	// RespectRobots skips URLs disallowed by robots.txt.
	RespectRobots bool

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string

	// Verbose enables debug logging.
	Verbose bool

	// LogJSON selects JSON log output.
	LogJSON bool

	// ConfigFilePath is the path of the YAML configuration file. When
	// empty, .crawlcache is searched in the current and home directories.
	ConfigFilePath string

	// SiteConfigs holds the site overrides loaded from the config file.
	// It is nil when no file was found; GetSiteConfig handles that case
	// and returns empty settings.
	SiteConfigs *File

	// JSONReport writes the crawl summary as JSON.
	JSONReport bool

	// MarkdownReport writes the crawl summary as Markdown.
	MarkdownReport bool

	// ReportFile receives the crawl summary instead of stderr.
	ReportFile string
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		CacheExpiry:        NoExpiry,
		CompressionLevel:   DefaultCompressionLevel,
		ReadCache:          true,
		WriteCache:         true,
		Delay:              DefaultDelay,
		MaxRetries:         DefaultMaxRetries,
		Timeout:            DefaultTimeout,
		UserAgent:          DefaultUserAgent,
		VerifyTLS:          true,
		MaxBodySize:        DefaultMaxBodySize,
		MaxRedirects:       DefaultMaxRedirects,
		SuccessStatus:      model.DefaultSuccessStatus().Codes(),
		NonRetriableStatus: model.DefaultNonRetriableStatus().Codes(),
		MaxProxyFailures:   DefaultMaxProxyFailures,
		TorStartupTimeout:  DefaultTorStartupTimeout,
		Workers:            DefaultWorkers,
		MaxQueue:           DefaultMaxQueue,
		MaxDepth:           DefaultMaxDepth,
		MaxPages:           DefaultMaxPages,
	}
}

// XDGDataDir returns the XDG data directory for crawlcache.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for crawlcache.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for crawlcache.
// On Linux: ~/.cache/crawlcache
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// DefaultCacheFile returns the default sqlite cache path.
func DefaultCacheFile() string {
	return filepath.Join(XDGCacheDir(), DefaultCacheFileName)
}

// CachePath returns CacheFile, or the default path when it is empty.
func (c *Config) CachePath() string {
	if c.CacheFile != "" {
		return c.CacheFile
	}
	return DefaultCacheFile()
}

// Policy returns the status classification described by c.
func (c *Config) Policy() model.Policy {
	return model.Policy{
		Success:      model.NewStatusSet(c.SuccessStatus...),
		NonRetriable: model.NewStatusSet(c.NonRetriableStatus...),
	}
}

// ValidateSettings checks every option except Targets. Commands that do
// not download anything use it directly.
func (c *Config) ValidateSettings() error {
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Delay < 0 {
		return ErrInvalidDelay
	}
	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxQueue <= 0 {
		return ErrInvalidQueue
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return ErrInvalidCompressionLevel
	}
	if len(c.SuccessStatus) == 0 {
		return ErrEmptySuccessStatus
	}
	for _, codes := range [][]int{c.SuccessStatus, c.NonRetriableStatus} {
		for _, code := range codes {
			if code < 100 || code > 599 {
				return fmt.Errorf("%w: got %d", ErrInvalidStatus, code)
			}
		}
	}
	if c.RateLimit < 0 {
		return ErrInvalidRateLimit
	}
	if c.MaxProxyFailures < 0 {
		return ErrInvalidMaxFailures
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

// Validate checks the configuration of a fetch or crawl run and returns
// the first problem found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	return c.ValidateSettings()
}
