package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/crawlcache/internal/config"
	"github.com/nao1215/crawlcache/internal/fetch"
	"github.com/nao1215/crawlcache/internal/model"
	"github.com/nao1215/crawlcache/internal/report"
)

// errRequestsFailed is returned when at least one download did not end
// with a success status.
var errRequestsFailed = errors.New("some requests failed")

// fetchResult is the JSON form of one fetched response.
type fetchResult struct {
	URL          string `json:"url"`
	Key          string `json:"key"`
	StatusCode   int    `json:"status_code"`
	Reason       string `json:"reason,omitempty"`
	RedirectedTo string `json:"redirected_to,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	Encoding     string `json:"encoding,omitempty"`
	Size         int    `json:"size"`
	Digest       string `json:"digest"`
	Body         string `json:"body,omitempty"`
}

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Download URLs through the cache",
		Long: `Fetch downloads each URL, or serves it from the cache when a fresh copy
exists, and prints one status line per URL.

Retriable failures are retried with a delay. A response is cached even
when it failed, and a cached failure that would be retried is downloaded
again on the next run.

Examples:
  # Fetch a page and print the status line
  crawlcache fetch https://example.com/

  # Print the body instead
  crawlcache fetch --body https://example.com/

  # Submit a form as a POST request
  crawlcache fetch -d q=golang -d page=2 https://example.com/search

  # Bypass the cache and go through a proxy
  crawlcache fetch --no-read-cache --proxy socks5://127.0.0.1:9050 https://example.com/`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFetchCmd,
	}

	registerFetchFlags(cmd)
	cmd.Flags().StringArrayP("data", "d", nil, "Form field name=value; sends a POST request")
	cmd.Flags().StringArrayP("header", "H", nil, `Extra header "Name: value"`)
	cmd.Flags().String("key", "", "Cache key to use instead of the one derived from the request (single URL only)")
	cmd.Flags().Bool("body", false, "Print response bodies instead of status lines")
	cmd.Flags().BoolP("json", "j", false, "Print one JSON object per response")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers, "Number of concurrent downloads")

	return cmd
}

// runFetchCmd executes the fetch command.
func runFetchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	requests, err := buildRequests(cmd, cfg)
	if err != nil {
		return err
	}

	key, err := cmd.Flags().GetString("key")
	if err != nil {
		return err
	}
	if key != "" && len(requests) > 1 {
		return errors.New("--key can only be used with a single URL")
	}

	logger := newLogger(cmd)
	s, err := openSession(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("failed to close session", "error", err)
		}
	}()

	opts := s.fetchOptions()
	if key != "" {
		opts = append(opts, fetch.WithKey(key))
	}
	responses := fetchAll(cmd.Context(), s, requests, cfg, opts)

	if err := printResponses(cmd, requests, responses, key); err != nil {
		return err
	}

	failed := 0
	for _, resp := range responses {
		if !s.engine.Policy().IsSuccess(resp) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRequestsFailed, failed, len(responses))
	}
	return nil
}

// buildRequests turns the URL arguments, form data and headers into
// requests, layering site configuration under the explicit headers.
func buildRequests(cmd *cobra.Command, cfg *config.Config) ([]model.Request, error) {
	data, err := cmd.Flags().GetStringArray("data")
	if err != nil {
		return nil, err
	}
	headers, err := cmd.Flags().GetStringArray("header")
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	for _, field := range data {
		name, value, _ := strings.Cut(field, "=")
		if name == "" {
			return nil, fmt.Errorf("invalid form field %q (want name=value)", field)
		}
		form.Add(name, value)
	}

	extra := make(map[string]string, len(headers))
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q (want \"Name: value\")", h)
		}
		extra[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	requests := make([]model.Request, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid URL %q", target)
		}

		req := model.NewRequest(target)
		if len(form) > 0 {
			req = model.NewFormRequest(target, form)
		}
		req = applySiteConfig(req, cfg.SiteConfigs.GetSiteConfig(u.Hostname()))
		for name, value := range extra {
			req = req.WithHeader(name, value)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// applySiteConfig adds the headers, cookie and user agent configured for
// the request's host.
func applySiteConfig(req model.Request, site config.SiteConfig) model.Request {
	for name, value := range site.RequestHeaders() {
		req = req.WithHeader(name, value)
	}
	if site.UserAgent != "" {
		req = req.WithHeader("User-Agent", site.UserAgent)
	}
	return req
}

// fetchAll downloads requests with at most cfg.Workers in flight and
// returns the responses in request order.
func fetchAll(ctx context.Context, s *session, requests []model.Request, cfg *config.Config, opts []fetch.Option) []*model.Response {
	responses := make([]*model.Response, len(requests))

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, req := range requests {
		reqOpts := opts
		if u, err := url.Parse(req.URL); err == nil {
			if site := cfg.SiteConfigs.GetSiteConfig(u.Hostname()); site.Delay > 0 {
				reqOpts = append(append([]fetch.Option(nil), opts...), fetch.WithDelay(site.Delay))
			}
		}
		g.Go(func() error {
			responses[i] = s.engine.Fetch(ctx, req, reqOpts...)
			s.logger.Debug("fetched", slog.String("url", req.URL), slog.Int("status", responses[i].StatusCode))
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never fail

	return responses
}

// printResponses writes the responses in the format selected by the flags.
func printResponses(cmd *cobra.Command, requests []model.Request, responses []*model.Response, key string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	withBody, err := cmd.Flags().GetBool("body")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	jw := report.NewJSONWriter(out)
	for i, resp := range responses {
		req := requests[i]
		switch {
		case asJSON:
			result := fetchResult{
				URL:          req.URL,
				Key:          req.Key(),
				StatusCode:   resp.StatusCode,
				Reason:       resp.Reason,
				RedirectedTo: resp.RedirectedTo,
				ContentType:  resp.ContentType,
				Encoding:     resp.Encoding,
				Size:         len(resp.Body),
				Digest:       resp.Digest(),
			}
			if key != "" {
				result.Key = key
			}
			if withBody {
				result.Body = resp.Text()
			}
			if _, err := jw.WriteValue(result); err != nil {
				return err
			}
		case withBody:
			if _, err := out.Write(resp.Body); err != nil {
				return err
			}
			if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
				if _, err := io.WriteString(out, "\n"); err != nil {
					return err
				}
			}
		default:
			if _, err := fmt.Fprintf(out, "%d %s %s (%d bytes)\n",
				resp.StatusCode, statusReason(resp), req.URL, len(resp.Body)); err != nil {
				return err
			}
		}
	}
	return nil
}

func statusReason(resp *model.Response) string {
	if resp.Reason == "" {
		return "-"
	}
	// transport failures carry the whole error text
	if i := strings.IndexByte(resp.Reason, '\n'); i >= 0 {
		return resp.Reason[:i]
	}
	return resp.Reason
}
