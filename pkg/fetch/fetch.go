// Package fetch downloads fund pages and reduces them to indexable text.
// Exit-load details found anywhere on the page are pulled to the front under
// a marker line so the segmenter can keep them in one passage.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mffacts/mffacts/pkg/exitload"
	"github.com/mffacts/mffacts/pkg/resilience"
)

const (
	// UserAgent is a desktop browser string; some fund sites reject bots.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	// DefaultTimeout bounds one page download.
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 10 << 20
)

// ErrStatus is returned for non-2xx responses.
var ErrStatus = errors.New("fetch: unexpected status")

// exitLoadSelectors locate blocks that usually hold exit-load details.
var exitLoadSelectors = []string{
	"[data-testid*='exitLoad']",
	"table",
	"div.fund-attributes",
	"div.fund-details",
	"div.key-information",
	"p",
	"li",
}

// blockSelector lists the elements whose text becomes a paragraph.
const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, td, th, dt, dd, pre, blockquote"

// Fetcher downloads pages over HTTP.
type Fetcher struct {
	client  *http.Client
	limiter *resilience.Limiter
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithLimiter spaces out requests.
func WithLimiter(l *resilience.Limiter) Option { return func(f *Fetcher) { f.limiter = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: DefaultTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch downloads url and returns its extracted text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("fetch: %s: %w", url, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: %s: %w", url, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s: %d", ErrStatus, url, resp.StatusCode)
	}

	text, err := Extract(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("fetch: %s: %w", url, err)
	}
	f.logger.Debug("fetched page", "url", url, "chars", len(text))
	return text, nil
}

// Extract parses HTML and returns its readable text. Block elements become
// paragraphs separated by blank lines. Elements mentioning exit load are
// repeated at the top under exitload.Marker, one per line.
func Extract(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer, header, aside").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	exitLoad := exitLoadItems(body)
	paragraphs := blockText(body)

	var b strings.Builder
	if len(exitLoad) > 0 {
		b.WriteString(exitload.Marker)
		b.WriteString("\n")
		b.WriteString(strings.Join(exitLoad, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(strings.Join(paragraphs, "\n\n"))
	return strings.TrimSpace(b.String()), nil
}

// exitLoadItems collects the innermost matching elements that mention exit
// load. Tables are flattened to one "a | b" line per row.
func exitLoadItems(root *goquery.Selection) []string {
	seen := map[string]bool{}
	var items []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			items = append(items, s)
		}
	}

	for _, sel := range exitLoadSelectors {
		root.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if !exitload.Mentioned(s.Text()) {
				return
			}
			if goquery.NodeName(s) == "table" {
				add(tableRows(s))
				return
			}
			if s.Find("table, div, p, li").FilterFunction(mentionsExitLoad).Length() > 0 {
				return
			}
			add(collapse(s.Text()))
		})
	}
	return items
}

// tableRows renders each row with cells joined by " | ".
func tableRows(table *goquery.Selection) string {
	var rows []string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td, th").Each(func(_ int, td *goquery.Selection) {
			if t := collapse(td.Text()); t != "" {
				cells = append(cells, t)
			}
		})
		if len(cells) > 0 {
			rows = append(rows, strings.Join(cells, " | "))
		}
	})
	return strings.Join(rows, "\n")
}

// blockText returns the text of leaf block elements in document order.
// Pages without block markup fall back to their whole text.
func blockText(root *goquery.Selection) []string {
	var out []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if t := collapse(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	if len(out) == 0 {
		if t := collapse(root.Text()); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func mentionsExitLoad(_ int, s *goquery.Selection) bool {
	return exitload.Mentioned(s.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
