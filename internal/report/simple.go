package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/crawlcache/internal/model"
)

const ruleWidth = 70

// SimpleWriter outputs human-readable text reports.
type SimpleWriter struct {
	baseWriter

	// showPages lists every visited page, not only failures.
	showPages bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowPages lists every visited page in the output.
func WithShowPages(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showPages = show
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeCounters(&sb, report)
	w.writeStatuses(&sb, report)
	w.writePages(&sb, report)
	w.writeEmails(&sb, report)
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.CrawlReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("                          CRAWL SUMMARY\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Run:        %s\n", report.RunID)
	fmt.Fprintf(sb, "Seeds:      %s\n", strings.Join(report.Seeds, ", "))
	fmt.Fprintf(sb, "Started:    %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Duration:   %s\n", report.Duration().Round(time.Millisecond))
	if report.CachePath != "" {
		fmt.Fprintf(sb, "Cache:      %s\n", report.CachePath)
	}

	switch {
	case report.Error != "":
		fmt.Fprintf(sb, "Status:     ERROR - %s\n", report.Error)
	case report.Cancelled:
		sb.WriteString("Status:     CANCELLED (partial results)\n")
	default:
		sb.WriteString("Status:     Complete\n")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeCounters(sb *strings.Builder, report *model.CrawlReport) {
	w.writeSection(sb, "REQUESTS")
	fmt.Fprintf(sb, "  Downloaded:             %d\n", report.Fetched)
	fmt.Fprintf(sb, "  Cache hits:             %d\n", report.CacheHits)
	fmt.Fprintf(sb, "  Duplicates skipped:     %d\n", report.Duplicates)
	fmt.Fprintf(sb, "  Continuation failures:  %d\n", report.ContinuationFailures)
	fmt.Fprintf(sb, "  Pages:                  %d\n", len(report.Pages))
	if report.ProxiesLeft > 0 {
		fmt.Fprintf(sb, "  Proxies left:           %d\n", report.ProxiesLeft)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeStatuses(sb *strings.Builder, report *model.CrawlReport) {
	counts := report.StatusCounts()
	if len(counts) == 0 {
		return
	}

	w.writeSection(sb, "STATUS CODES")
	for _, sc := range counts {
		fmt.Fprintf(sb, "  %3d: %d\n", sc.StatusCode, sc.Count)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writePages(sb *strings.Builder, report *model.CrawlReport) {
	pages := report.FailedPages()
	title := "FAILED PAGES"
	if w.showPages {
		pages = report.Pages
		title = "PAGES"
	}
	if len(pages) == 0 {
		return
	}

	w.writeSection(sb, title)
	for _, p := range pages {
		fmt.Fprintf(sb, "  [%d] %s\n", p.StatusCode, p.URL)
		if p.Title != "" {
			fmt.Fprintf(sb, "        %s\n", p.Title)
		}
		if p.Reason != "" && (p.StatusCode < 200 || p.StatusCode >= 300) {
			fmt.Fprintf(sb, "        %s\n", p.Reason)
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeEmails(sb *strings.Builder, report *model.CrawlReport) {
	emails := report.Emails()
	if len(emails) == 0 {
		return
	}

	w.writeSection(sb, "EMAIL ADDRESSES")
	for _, e := range emails {
		fmt.Fprintf(sb, "  [+] %s\n", e)
	}
	sb.WriteString("\n")
}
