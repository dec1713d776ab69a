package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nao1215/crawlcache/internal/config"
)

// registerFetchFlags adds the download flags shared by fetch and crawl.
func registerFetchFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	// Cache flags
	f.Duration("expiry", 0,
		"Refetch cached responses older than this (0: cached responses never expire)")
	f.Int("compression", config.DefaultCompressionLevel,
		"zlib level of cached values, 0 disables compression")
	f.Bool("no-read-cache", false, "Download even when a fresh cached response exists")
	f.Bool("no-write-cache", false, "Do not store downloaded responses")

	// Download flags
	f.Duration("delay", config.DefaultDelay, "Minimum delay between requests through one proxy")
	f.Int("retries", config.DefaultMaxRetries, "Attempts after the first for retriable statuses")
	f.DurationP("timeout", "t", config.DefaultTimeout, "Timeout of each attempt")
	f.String("user-agent", config.DefaultUserAgent, "User-Agent header")
	f.Bool("insecure", false, "Skip TLS certificate verification")
	f.Int64("max-body-size", config.DefaultMaxBodySize, "Maximum bytes read from one response")
	f.Int("max-redirects", config.DefaultMaxRedirects, "Maximum redirects followed by one attempt")
	f.IntSlice("success-status", nil, "Statuses treated as success (default 200)")
	f.IntSlice("non-retriable-status", nil, "Statuses that fail without retrying (default 400,401,402,403,404,405,406,410)")
	f.Float64("rate-limit", 0, "Maximum requests per second across all proxies (0: unlimited)")
	f.Int("rate-burst", 1, "Burst allowed by --rate-limit")

	// Proxy flags
	f.StringSlice("proxy", nil, "Proxy URL (http, https, socks5, socks5h); repeatable")
	f.String("proxy-file", "", "File with one proxy per line")
	f.Int("max-proxy-failures", config.DefaultMaxProxyFailures,
		"Evict a proxy after this many consecutive failures (0: never)")
	f.Bool("tor", false, "Start an embedded Tor daemon and route requests through it")
	f.Duration("tor-timeout", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")

	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

// readFlag stores the value of the named flag in dst. The flag is looked
// up on the command, then on the root's persistent flags. Undefined flags
// leave dst untouched.
func readFlag[V any](cmd *cobra.Command, name string, get func(*pflag.FlagSet, string) (V, error), dst *V) error {
	fs := cmd.Flags()
	if fs.Lookup(name) == nil {
		fs = cmd.Root().PersistentFlags()
		if fs.Lookup(name) == nil {
			return nil
		}
	}
	v, err := get(fs, name)
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", name, err)
	}
	*dst = v
	return nil
}

// buildConfig creates a Config from the command flags and the
// configuration file. Flags the command does not define keep their
// defaults.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Targets = args

	var (
		noReadCache, noWriteCache, insecure bool
		successStatus, nonRetriable         []int
	)
	expiry := time.Duration(-1)

	reads := []error{
		readFlag(cmd, "verbose", (*pflag.FlagSet).GetBool, &cfg.Verbose),
		readFlag(cmd, "log-json", (*pflag.FlagSet).GetBool, &cfg.LogJSON),
		readFlag(cmd, "config", (*pflag.FlagSet).GetString, &cfg.ConfigFilePath),
		readFlag(cmd, "cache-file", (*pflag.FlagSet).GetString, &cfg.CacheFile),

		readFlag(cmd, "expiry", (*pflag.FlagSet).GetDuration, &expiry),
		readFlag(cmd, "compression", (*pflag.FlagSet).GetInt, &cfg.CompressionLevel),
		readFlag(cmd, "no-read-cache", (*pflag.FlagSet).GetBool, &noReadCache),
		readFlag(cmd, "no-write-cache", (*pflag.FlagSet).GetBool, &noWriteCache),

		readFlag(cmd, "delay", (*pflag.FlagSet).GetDuration, &cfg.Delay),
		readFlag(cmd, "retries", (*pflag.FlagSet).GetInt, &cfg.MaxRetries),
		readFlag(cmd, "timeout", (*pflag.FlagSet).GetDuration, &cfg.Timeout),
		readFlag(cmd, "user-agent", (*pflag.FlagSet).GetString, &cfg.UserAgent),
		readFlag(cmd, "insecure", (*pflag.FlagSet).GetBool, &insecure),
		readFlag(cmd, "max-body-size", (*pflag.FlagSet).GetInt64, &cfg.MaxBodySize),
		readFlag(cmd, "max-redirects", (*pflag.FlagSet).GetInt, &cfg.MaxRedirects),
		readFlag(cmd, "success-status", (*pflag.FlagSet).GetIntSlice, &successStatus),
		readFlag(cmd, "non-retriable-status", (*pflag.FlagSet).GetIntSlice, &nonRetriable),
		readFlag(cmd, "rate-limit", (*pflag.FlagSet).GetFloat64, &cfg.RateLimit),
		readFlag(cmd, "rate-burst", (*pflag.FlagSet).GetInt, &cfg.RateBurst),

		readFlag(cmd, "proxy", (*pflag.FlagSet).GetStringSlice, &cfg.Proxies),
		readFlag(cmd, "proxy-file", (*pflag.FlagSet).GetString, &cfg.ProxyFile),
		readFlag(cmd, "max-proxy-failures", (*pflag.FlagSet).GetInt, &cfg.MaxProxyFailures),
		readFlag(cmd, "tor", (*pflag.FlagSet).GetBool, &cfg.UseTor),
		readFlag(cmd, "tor-timeout", (*pflag.FlagSet).GetDuration, &cfg.TorStartupTimeout),
		readFlag(cmd, "metrics-addr", (*pflag.FlagSet).GetString, &cfg.MetricsAddr),

		readFlag(cmd, "workers", (*pflag.FlagSet).GetInt, &cfg.Workers),
		readFlag(cmd, "max-queue", (*pflag.FlagSet).GetInt, &cfg.MaxQueue),
		readFlag(cmd, "depth", (*pflag.FlagSet).GetInt, &cfg.MaxDepth),
		readFlag(cmd, "max-pages", (*pflag.FlagSet).GetInt, &cfg.MaxPages),
		readFlag(cmd, "external", (*pflag.FlagSet).GetBool, &cfg.ExternalLinks),
		readFlag(cmd, "robots", (*pflag.FlagSet).GetBool, &cfg.RespectRobots),

		readFlag(cmd, "json", (*pflag.FlagSet).GetBool, &cfg.JSONReport),
		readFlag(cmd, "markdown", (*pflag.FlagSet).GetBool, &cfg.MarkdownReport),
		readFlag(cmd, "output", (*pflag.FlagSet).GetString, &cfg.ReportFile),
	}
	for _, err := range reads {
		if err != nil {
			return nil, err
		}
	}

	switch {
	case expiry == 0:
		cfg.CacheExpiry = config.NoExpiry
	case expiry > 0:
		cfg.CacheExpiry = expiry
	}
	cfg.ReadCache = !noReadCache
	cfg.WriteCache = !noWriteCache
	cfg.VerifyTLS = !insecure
	if len(successStatus) > 0 {
		cfg.SuccessStatus = successStatus
	}
	if len(nonRetriable) > 0 {
		cfg.NonRetriableStatus = nonRetriable
	}

	siteConfigs, err := config.Load(cfg.ConfigFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.SiteConfigs = siteConfigs

	return cfg, nil
}
