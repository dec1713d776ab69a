package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nao1215/crawlcache/internal/cache"
	"github.com/nao1215/crawlcache/internal/config"
	"github.com/nao1215/crawlcache/internal/fetch"
	"github.com/nao1215/crawlcache/internal/metrics"
	"github.com/nao1215/crawlcache/internal/proxy"
	"github.com/nao1215/crawlcache/internal/throttle"
	"github.com/nao1215/crawlcache/internal/transport"
)

// session owns the collaborators of one fetch or crawl run.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *cache.Store
	rotator   *proxy.Rotator
	transport *fetch.HTTPTransport
	engine    *fetch.Engine
	metrics   *metrics.Metrics
	server    *http.Server
	tor       *transport.EmbeddedTor
}

// openStore opens the cache described by cfg.
func openStore(cfg *config.Config) (*cache.Store, error) {
	opts := cache.DefaultOptions()
	opts.Expiry = cfg.CacheExpiry
	opts.CompressionLevel = cfg.CompressionLevel

	store, err := cache.Open(cfg.CachePath(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", cfg.CachePath(), err)
	}
	return store, nil
}

// openSession wires the cache, proxies, throttle and transport into an
// engine. The caller must Close the session.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *session, err error) {
	s := &session{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close() //nolint:errcheck // best effort cleanup
		}
	}()

	if s.store, err = openStore(cfg); err != nil {
		return nil, err
	}

	proxies := cfg.Proxies
	if cfg.ProxyFile != "" {
		fromFile, err := proxy.ReadFile(cfg.ProxyFile)
		if err != nil {
			return nil, err
		}
		proxies = append(append([]string(nil), proxies...), fromFile...)
	}
	if s.rotator, err = proxy.NewRotator(proxies, proxy.WithMaxFailures(cfg.MaxProxyFailures)); err != nil {
		return nil, fmt.Errorf("invalid proxy list: %w", err)
	}

	if cfg.UseTor {
		if err := s.startTor(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.MetricsAddr != "" {
		s.metrics = metrics.New()
		s.server = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           s.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	s.transport = fetch.NewHTTPTransport(
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithMaxRedirects(cfg.MaxRedirects),
	)

	s.engine, err = fetch.New(fetch.Config{
		Store:      s.store,
		Rotator:    s.rotator,
		Throttle:   throttle.New(throttle.WithRateLimit(cfg.RateLimit, cfg.RateBurst)),
		Transport:  s.transport,
		Headers:    fetch.DefaultHeaders(),
		Policy:     cfg.Policy(),
		UserAgent:  cfg.UserAgent,
		Delay:      cfg.Delay,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout,
		VerifyTLS:  cfg.VerifyTLS,
		Logger:     logger,
		Metrics:    s.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return s, nil
}

func (s *session) startTor(ctx context.Context) error {
	s.logger.Warn("starting embedded Tor daemon, this may take a few minutes")

	s.tor = transport.NewEmbeddedTor(transport.WithStartupTimeout(s.cfg.TorStartupTimeout))
	if err := s.tor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	if status := transport.CheckSOCKS5(ctx, s.tor.SocksAddr()); status != transport.ProxyStatusOK {
		return fmt.Errorf("embedded Tor proxy check failed: %s", status)
	}

	proxyURL, err := s.tor.ProxyURL()
	if err != nil {
		return err
	}
	if err := s.rotator.Add(proxyURL); err != nil {
		return err
	}
	s.logger.Info("embedded Tor daemon started", "socksAddr", s.tor.SocksAddr())
	return nil
}

// fetchOptions returns the per-request options selected by the cache
// flags.
func (s *session) fetchOptions() []fetch.Option {
	return []fetch.Option{
		fetch.WithReadCache(s.cfg.ReadCache),
		fetch.WithWriteCache(s.cfg.WriteCache),
	}
}

// Close releases every collaborator. It is safe to call on a partially
// opened session.
func (s *session) Close() error {
	var errs []error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.server.Shutdown(ctx))
		cancel()
	}
	if s.transport != nil {
		s.transport.CloseIdle()
	}
	if s.tor != nil {
		errs = append(errs, s.tor.Stop())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
