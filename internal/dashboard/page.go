// Package dashboard reads a seller's live dashboard: which stream it shows, the
// stream's metrics and whether the stream has ended.
package dashboard

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("livescrape/dashboard")

// DefaultURLTemplate is the canonical dashboard url, `{stream_id}` is replaced.
const DefaultURLTemplate = "https://www.whatnot.com/dashboard/live/{stream_id}"

var streamIdRegex = regexp.MustCompile(`/live/([A-Za-z0-9_-]+)`)

// StreamID returns the stream id embedded in a dashboard url.
func StreamID(rawUrl string) (string, bool) {
	parsed, err := url.Parse(rawUrl)
	path := rawUrl
	if err == nil {
		path = parsed.Path
	}
	match := streamIdRegex.FindStringSubmatch(path)
	if len(match) < 2 {
		return "", false
	}
	return match[1], true
}

// IsDashboard reports whether the url is a live dashboard page.
func IsDashboard(rawUrl string) bool {
	return strings.Contains(rawUrl, "/dashboard/live/")
}

// CanonicalURL renders the url template for a stream id, whatever variant of the
// page the id came from.
func CanonicalURL(template, streamId string) string {
	if template == "" {
		template = DefaultURLTemplate
	}
	return strings.ReplaceAll(template, "{stream_id}", streamId)
}

// Page is one rendered snapshot of the dashboard.
type Page struct {
	URL        *url.URL
	Doc        *goquery.Document
	CapturedAt time.Time
}

func ParsePage(rawUrl string, body io.Reader, capturedAt time.Time) (Page, error) {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return Page{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return Page{}, fmt.Errorf("parse page html: %w", err)
	}
	return Page{
		URL:        parsed,
		Doc:        doc,
		CapturedAt: capturedAt,
	}, nil
}

func ParsePageBytes(rawUrl string, body []byte, capturedAt time.Time) (Page, error) {
	return ParsePage(rawUrl, bytes.NewReader(body), capturedAt)
}
