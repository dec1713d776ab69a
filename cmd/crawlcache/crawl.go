package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/crawlcache/internal/config"
	"github.com/nao1215/crawlcache/internal/crawler"
	"github.com/nao1215/crawlcache/internal/fetch"
	"github.com/nao1215/crawlcache/internal/model"
	"github.com/nao1215/crawlcache/internal/parse"
	"github.com/nao1215/crawlcache/internal/report"
	"github.com/nao1215/crawlcache/internal/robots"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>...",
		Short: "Crawl sites by following links through the cache",
		Long: `Crawl downloads the seed URLs and follows the links found on every HTML
page, up to --depth links away from a seed.

Pages already in the cache are not downloaded again, so an interrupted
crawl can be resumed by running the same command. Every visited page is
printed to stdout as one JSON object per line; a summary is written to
stderr, or to --output.

Examples:
  # Crawl a site two links deep with 8 workers
  crawlcache crawl -d 2 -w 8 https://example.com/

  # Follow links to other domains and honour robots.txt
  crawlcache crawl --external --robots https://example.com/

  # Write a Markdown summary to a file
  crawlcache crawl -m -o summary.md https://example.com/

Configuration file (.crawlcache) example:
  sites:
    example.com:
      cookie: "session_id=abc123"
      delay: 2s
      depth: 3
      ignorePatterns:
        - "/logout*"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCrawlCmd,
	}

	registerFetchFlags(cmd)

	cmd.Flags().IntP("workers", "w", config.DefaultWorkers, "Number of concurrent downloads")
	cmd.Flags().Int("max-queue", config.DefaultMaxQueue, "Pending requests scheduled per batch")
	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth, "Maximum number of links followed from a seed")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages, "Stop after this many pages (0: unlimited)")
	cmd.Flags().Bool("external", false, "Follow links to other domains")
	cmd.Flags().Bool("robots", false, "Skip URLs disallowed by robots.txt")
	cmd.Flags().Bool("no-dedup", false, "Visit a URL again each time it is linked")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Write the summary as JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Write the summary as Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the summary to the specified file (creates directories if needed)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if !cfg.WriteCache {
		return errors.New("--no-write-cache is not supported by crawl")
	}
	noDedup, err := cmd.Flags().GetBool("no-dedup")
	if err != nil {
		return err
	}
	for _, seed := range cfg.Targets {
		if !isHTTPURL(seed) {
			return fmt.Errorf("invalid seed URL %q", seed)
		}
	}

	logger := newLogger(cmd)

	// Set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("failed to close session", "error", err)
		}
	}()

	summary, err := runCrawl(ctx, s, cmd.OutOrStdout(), !noDedup)
	if err != nil {
		return err
	}
	return writeSummary(cmd, cfg, summary)
}

// runCrawl crawls cfg.Targets, streams pages to out as JSON lines and
// returns the summary of the run.
func runCrawl(ctx context.Context, s *session, out io.Writer, dedup bool) (*model.CrawlReport, error) {
	cfg := s.cfg
	summary := model.NewCrawlReport(cfg.Targets)
	summary.CachePath = s.store.Path()

	v := &visitor{
		cfg:    cfg,
		policy: s.engine.Policy(),
		logger: s.logger,
	}
	if cfg.RespectRobots {
		v.robots = robots.New(s.engine, cfg.UserAgent, s.logger)
	}

	opts := []crawler.Option{
		crawler.WithMaxWorkers(cfg.Workers),
		crawler.WithMaxQueue(cfg.MaxQueue),
		crawler.WithDeduplicate(dedup),
		crawler.WithLogger(s.logger),
		crawler.WithMetrics(s.metrics),
		crawler.WithFetchOptions(fetch.WithDelay(v.delay(ctx))),
	}
	if !cfg.ReadCache {
		opts = append(opts, crawler.WithExpiry(0))
	}
	c, err := crawler.New[model.PageResult](s.engine, s.store, opts...)
	if err != nil {
		return nil, err
	}

	seeds := make([]crawler.Task[model.PageResult], 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		if v.robots != nil && !v.robots.Allowed(ctx, target) {
			s.logger.Warn("seed disallowed by robots.txt", "url", target)
			continue
		}
		seeds = append(seeds, v.task(target, 0))
	}

	jw := report.NewJSONWriter(out)
	for page := range c.Run(ctx, seeds) {
		summary.AddPage(page)
		if _, err := jw.WriteValue(page); err != nil {
			return nil, fmt.Errorf("failed to write page: %w", err)
		}
		if cfg.MaxPages > 0 && len(summary.Pages) >= cfg.MaxPages {
			s.logger.Info("page limit reached", "max_pages", cfg.MaxPages)
			break
		}
	}

	stats := c.Stats()
	summary.Fetched = stats.Fetched
	summary.CacheHits = stats.CacheHits
	summary.Duplicates = stats.Duplicates
	summary.ContinuationFailures = stats.ContinuationFailures
	summary.ProxiesLeft = s.rotator.Len()
	summary.Cancelled = ctx.Err() != nil
	summary.Finish()
	return summary, nil
}

// visitor turns responses into page results and follow-up tasks.
// Continuations never run concurrently, so it needs no locking.
type visitor struct {
	cfg    *config.Config
	policy model.Policy
	robots *robots.Policy
	logger *slog.Logger
}

// site returns the configuration of the host of rawURL.
func (v *visitor) site(rawURL string) config.SiteConfig {
	u, err := url.Parse(rawURL)
	if err != nil {
		return v.cfg.SiteConfigs.GetSiteConfig("")
	}
	return v.cfg.SiteConfigs.GetSiteConfig(u.Hostname())
}

// delay is the spacing used for the whole crawl: the largest of the
// global delay, the seed sites' delays and their robots.txt crawl delays.
func (v *visitor) delay(ctx context.Context) time.Duration {
	d := v.cfg.Delay
	for _, seed := range v.cfg.Targets {
		d = max(d, v.site(seed).Delay)
		if v.robots != nil {
			d = max(d, v.robots.CrawlDelay(ctx, seed))
		}
	}
	return d
}

// task creates the crawl task for rawURL found depth links away from a seed.
func (v *visitor) task(rawURL string, depth int) crawler.Task[model.PageResult] {
	req := applySiteConfig(model.NewRequest(rawURL), v.site(rawURL))
	return crawler.NewTask[model.PageResult](req, func(ctx context.Context, req model.Request, resp *model.Response) ([]crawler.Yielded[model.PageResult], error) {
		return v.visit(ctx, req, resp, depth)
	})
}

// visit emits the page and follows its links while depth allows.
func (v *visitor) visit(ctx context.Context, req model.Request, resp *model.Response, depth int) ([]crawler.Yielded[model.PageResult], error) {
	page := model.PageResult{
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Reason:     resp.Reason,
		Size:       len(resp.Body),
		Depth:      depth,
	}
	if !v.policy.IsSuccess(resp) || !isHTML(resp.ContentType) {
		return []crawler.Yielded[model.PageResult]{crawler.Emit(page)}, nil
	}

	doc, err := parse.FromResponse(req, resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", req.URL, err)
	}

	scope := parse.LocalLinks
	if v.cfg.ExternalLinks {
		scope = parse.AllLinks
	}
	links := doc.Links(scope)

	page.Title = doc.Title()
	page.Links = len(links)
	page.Emails = parse.ExtractEmails(resp.Text())
	out := []crawler.Yielded[model.PageResult]{crawler.Emit(page)}

	site := v.site(req.URL)
	maxDepth := v.cfg.MaxDepth
	if site.Depth > 0 {
		maxDepth = site.Depth
	}
	if depth >= maxDepth {
		return out, nil
	}

	filter := parse.Filter{Ignore: site.IgnorePatterns, Follow: site.FollowPatterns}
	for _, link := range links {
		if !filter.Allow(link) {
			continue
		}
		if v.robots != nil && !v.robots.Allowed(ctx, link) {
			v.logger.Debug("disallowed by robots.txt", "url", link)
			continue
		}
		out = append(out, crawler.Follow(v.task(link, depth+1)))
	}
	return out, nil
}

// isHTML reports whether a response with contentType should be parsed for
// links. Responses without a content type are sniffed as HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "html")
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// writeSummary writes the crawl summary in the requested format.
func writeSummary(cmd *cobra.Command, cfg *config.Config, summary *model.CrawlReport) error {
	output := cmd.ErrOrStderr()
	if cfg.ReportFile != "" {
		// Create directories if they don't exist
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Summaries list cache paths and URLs, keep them private
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewFullJSONWriter(output, getVersion(), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		w = report.NewSimpleWriter(output)
	}
	_, err := w.Write(summary)
	return err
}
