package report

import (
	"io"
	"strconv"

	"github.com/nao1215/crawlcache/internal/model"
)

// Writer outputs a crawl summary.
type Writer interface {
	// Write outputs the report and returns the number of bytes written.
	Write(report *model.CrawlReport) (int, error)
}

// MultiWriter writes the same report to several Writers.
// Errors stop the fan-out so that a failing file does not hide behind
// a successful terminal write.
type MultiWriter struct {
	// writers are called in order.
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to every Writer, stopping at the first error.
func (m *MultiWriter) Write(report *model.CrawlReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter holds the destination shared by every format. Writers embed
// it so that a report can be sent to stdout, a file or a test buffer
// without each format handling files itself.
type baseWriter struct {
	// output receives the rendered report.
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// statusClass groups a status code into "2xx", "3xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

type classCount struct {
	class string
	count int
}

// statusClasses tallies pages by status class in ascending order.
func statusClasses(report *model.CrawlReport) []classCount {
	var out []classCount
	for _, sc := range report.StatusCounts() {
		class := statusClass(sc.StatusCode)
		if n := len(out); n > 0 && out[n-1].class == class {
			out[n-1].count += sc.Count
			continue
		}
		out = append(out, classCount{class: class, count: sc.Count})
	}
	return out
}
