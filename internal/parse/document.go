package parse

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/crawlcache/internal/model"
)

// Document is a parsed HTML page.
type Document struct {
	doc  *goquery.Document
	base *url.URL
	raw  string
}

// NewDocument parses body. baseURL resolves relative references and may
// be empty, in which case links are returned as written.
func NewDocument(body []byte, baseURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	d := &Document{doc: doc, raw: string(body)}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
		}
		d.base = base
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			if d.base != nil {
				ref = d.base.ResolveReference(ref)
			}
			if ref.IsAbs() {
				d.base = ref
			}
		}
	}
	return d, nil
}

// FromResponse parses resp, resolving against the final URL of the
// request.
func FromResponse(req model.Request, resp *model.Response) (*Document, error) {
	base := req.URL
	if resp.RedirectedTo != "" {
		base = resp.RedirectedTo
	}
	return NewDocument(resp.Body, base)
}

// Base returns the URL relative references resolve against, or "".
func (d *Document) Base() string {
	if d.base == nil {
		return ""
	}
	return d.base.String()
}

// Selection exposes the underlying goquery selection of the whole page.
func (d *Document) Selection() *goquery.Selection {
	return d.doc.Selection
}

// Title returns the trimmed page title.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// Find returns the trimmed text of every element matching selector.
func (d *Document) Find(selector string) []string {
	sel := d.doc.Find(selector)
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

// First returns the trimmed text of the first element matching selector.
func (d *Document) First(selector string) string {
	return strings.TrimSpace(d.doc.Find(selector).First().Text())
}

// Attr returns attribute attr of every element matching selector that
// has it.
func (d *Document) Attr(selector, attr string) []string {
	var out []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok {
			out = append(out, v)
		}
	})
	return out
}

// Regex returns the first capture group of every match of expr in the raw
// markup, or the whole match when expr has no groups.
func (d *Document) Regex(expr string) ([]string, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range re.FindAllStringSubmatch(d.raw, -1) {
		if len(m) > 1 {
			out = append(out, m[1])
		} else {
			out = append(out, m[0])
		}
	}
	return out, nil
}

// Resolve makes ref absolute against the document base.
func (d *Document) Resolve(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if d.base != nil {
		u = d.base.ResolveReference(u)
	}
	return u.String(), nil
}
