package report

import (
	"io"
	"strconv"

	"github.com/nao1215/crawlcache/internal/model"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs reports in Markdown format.
// The output targets GitHub, so it can be pasted into issues or job
// summaries as is.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeRequests(md, report)
	w.writeStatuses(md, report)
	w.writePages(md, report)
	w.writeEmails(md, report)
	w.writeFooter(md, report)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.CrawlReport) {
	md.H1("Crawl Summary")
	md.PlainText("")

	rows := [][]string{
		{"Run", "`" + report.RunID + "`"},
		{"Started", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{"Duration", report.Duration().String()},
		{"Status", w.statusText(report)},
	}
	for _, seed := range report.Seeds {
		rows = append(rows, []string{"Seed", seed})
	}
	if report.CachePath != "" {
		rows = append(rows, []string{"Cache", "`" + report.CachePath + "`"})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) statusText(report *model.CrawlReport) string {
	if report.Error != "" {
		return "❌ Error - " + report.Error
	}
	if report.Cancelled {
		return "⚠️ Cancelled (partial results)"
	}
	return "✅ Complete"
}

func (w *MarkdownWriter) writeRequests(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Requests")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Counter", "Value"},
		Rows: [][]string{
			{"Downloaded", strconv.FormatInt(report.Fetched, 10)},
			{"Cache hits", strconv.FormatInt(report.CacheHits, 10)},
			{"Duplicates skipped", strconv.FormatInt(report.Duplicates, 10)},
			{"Continuation failures", strconv.FormatInt(report.ContinuationFailures, 10)},
			{"Pages", strconv.Itoa(len(report.Pages))},
			{"Proxies left", strconv.Itoa(report.ProxiesLeft)},
		},
	})
	md.PlainText("")

	if report.Requests() > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Cache Hits vs Downloads"),
			piechart.WithShowData(true),
		)
		if report.CacheHits > 0 {
			chart.LabelAndIntValue("Cache hits", uint64(report.CacheHits))
		}
		if report.Fetched > 0 {
			chart.LabelAndIntValue("Downloads", uint64(report.Fetched))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case report.ContinuationFailures > 0:
		md.Warningf("%d continuation(s) failed. Their pages were skipped.", report.ContinuationFailures)
	case report.Fetched == 0 && report.CacheHits > 0:
		md.Tip("Every request was served from the cache.")
	default:
		md.Note("All continuations completed.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeStatuses(md *markdown.Markdown, report *model.CrawlReport) {
	classes := statusClasses(report)
	if len(classes) == 0 {
		return
	}

	md.H2("Status Codes")
	md.PlainText("")

	rows := make([][]string, 0, len(report.StatusCounts()))
	for _, sc := range report.StatusCounts() {
		rows = append(rows, []string{strconv.Itoa(sc.StatusCode), strconv.Itoa(sc.Count)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Status", "Pages"},
		Rows:   rows,
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Status Classes"),
		piechart.WithShowData(true),
	)
	for _, c := range classes {
		chart.LabelAndIntValue(c.class, uint64(c.count))
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	if failed := len(report.FailedPages()); failed > 0 {
		md.Cautionf("%d page(s) did not return a 2xx status.", failed)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writePages(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Pages")
	md.PlainText("")

	if len(report.Pages) == 0 {
		md.PlainText("No pages were visited.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Pages))
	for i, p := range report.Pages {
		title := p.Title
		if title == "" {
			title = "-"
		}
		rows[i] = []string{
			truncateString(p.URL, 60),
			strconv.Itoa(p.StatusCode),
			truncateString(title, 40),
			strconv.Itoa(p.Depth),
			strconv.Itoa(p.Links),
			strconv.Itoa(p.Size),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Status", "Title", "Depth", "Links", "Bytes"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, p := range report.FailedPages() {
		if p.Reason != "" {
			md.Details(p.URL, p.Reason)
		}
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeEmails(md *markdown.Markdown, report *model.CrawlReport) {
	emails := report.Emails()
	if len(emails) == 0 {
		return
	}

	md.H2("Email Addresses")
	md.PlainText("")
	md.BulletList(emails...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, report *model.CrawlReport) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by crawlcache, run %s*", report.RunID)
}
