// Package report writes crawl summaries.
//
// Three formats are available:
//   - SimpleWriter: plain text for the terminal
//   - JSONWriter: JSON for other tools, also used to stream results as JSON lines
//   - MarkdownWriter: GitHub flavored Markdown with a status chart
//
// All of them implement Writer and can be combined with MultiWriter.
package report
