package dashboard

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"livescrape/internal/components/assert"
	"livescrape/internal/components/telemetry"
	"livescrape/internal/extract"
	"livescrape/internal/locate"
	"livescrape/internal/record"
	"livescrape/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_extractor_gross_sales      = "extractor.gross-sales"
	report_extractor_estimated_orders = "extractor.estimated-orders"
	report_extractor_tips             = "extractor.tips"
	report_extractor_show_time        = "extractor.show-time"
	report_extractor_scheduled        = "extractor.scheduled"
	report_extractor_recover          = "extractor.recover-end-time"
)

var ErrNoStreamID = errors.New("page url has no stream id")

const (
	GrossSalesLabel      = "Gross Sales"
	EstimatedOrdersLabel = "Estimated Orders"
)

var showTimeLabelRegex = regexp.MustCompile(`(?i)show\s*time`)

// a label on its own ("Show Time") or with its value in the same text
var showTimeQueryRegex = regexp.MustCompile(`(?i)^show\s*time:?(\s*\d{1,3}:\d{2}(:\d{2})?)?$`)

var userPathRegex = regexp.MustCompile(`^/user/([A-Za-z0-9_.-]+)/?$`)

type Options struct {
	// URLTemplate is the canonical stream url, see CanonicalURL.
	URLTemplate string
	Policy      SignalPolicy
	// Location is the timezone scheduled start labels are written in.
	Location *time.Location

	EndBanner     *regexp.Regexp
	LiveIndicator *regexp.Regexp
	Feed          locate.FeedQuery
}

func (o Options) withDefaults() Options {
	if o.URLTemplate == "" {
		o.URLTemplate = DefaultURLTemplate
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.EndBanner == nil {
		o.EndBanner = DefaultEndBanner
	}
	if o.LiveIndicator == nil {
		o.LiveIndicator = DefaultLiveIndicator
	}
	return o
}

// Extractor assembles records out of dashboard pages. It holds no per-session
// state and is safe for concurrent use.
type Extractor struct {
	opts Options
	tel  telemetry.API
}

func NewExtractor(opts Options, tel telemetry.API) Extractor {
	assert.NotNil(tel)
	return Extractor{
		opts: opts.withDefaults(),
		tel:  telemetry.NewScopedAPI("dashboard", tel),
	}
}

// CanonicalURL is the url records of streamId are stored under.
func (e Extractor) CanonicalURL(streamId string) string {
	return CanonicalURL(e.opts.URLTemplate, streamId)
}

func (e Extractor) Policy() SignalPolicy {
	return e.opts.Policy
}

var (
	grossSalesQuery = locate.Query{
		Label:     GrossSalesLabel,
		Plausible: locate.Currency,
		Exclude:   []string{EstimatedOrdersLabel, extract.TipsLabel},
	}
	estimatedOrdersQuery = locate.Query{
		Label:     EstimatedOrdersLabel,
		Plausible: locate.BareInteger,
		Exclude:   []string{GrossSalesLabel, extract.TipsLabel},
	}
	tipsQuery = locate.Query{
		Label:     extract.TipsLabel,
		Plausible: locate.Currency,
		Exclude:   []string{GrossSalesLabel, EstimatedOrdersLabel},
	}
	showTimeQuery = locate.Query{
		Label:      extract.ShowTimeLabel,
		MatchLabel: showTimeQueryRegex.MatchString,
	}
)

// afterLabel drops everything up to and including the first occurrence of label,
// so that digits in earlier metrics are not mistaken for this one's.
func afterLabel(text, label string) string {
	idx := strings.Index(text, label)
	if idx < 0 {
		return text
	}
	return text[idx+len(label):]
}

func findValue[T any](root *goquery.Selection, q locate.Query, parse func(string) (T, bool)) (*T, locate.Strategy, bool) {
	_, candidates, ok := locate.Find(root, q)
	if !ok {
		return nil, 0, false
	}
	for _, c := range candidates {
		value, ok := parse(afterLabel(c.Text(), q.Label))
		if ok {
			return &value, c.Strategy, true
		}
	}
	return nil, 0, false
}

func (e Extractor) grossSales(root *goquery.Selection) *float64 {
	value, strategy, ok := findValue(root, grossSalesQuery, extract.ParseCurrencyAmount)
	if !ok {
		e.tel.ReportDebug(report_extractor_gross_sales, "not found")
		return nil
	}
	e.tel.ReportDebug(report_extractor_gross_sales, *value, strategy.String())
	return value
}

func (e Extractor) estimatedOrders(root *goquery.Selection) *int64 {
	value, strategy, ok := findValue(root, estimatedOrdersQuery, extract.ParseCount)
	if !ok {
		e.tel.ReportDebug(report_extractor_estimated_orders, "not found")
		return nil
	}
	e.tel.ReportDebug(report_extractor_estimated_orders, *value, strategy.String())
	return value
}

// metricsContainer is the smallest element holding both the gross sales and the
// estimated orders labels.
func metricsContainer(root *goquery.Selection) (*goquery.Selection, bool) {
	gross, ok := locate.FindLabel(root, grossSalesQuery)
	if !ok {
		return nil, false
	}
	orders, ok := locate.FindLabel(root, estimatedOrdersQuery)
	if !ok {
		return nil, false
	}
	container := locate.CommonAncestor(gross, orders)
	return container, container != nil
}

func parseTips(text string) (float64, bool) {
	if extract.HasTipsLabel(text) {
		return extract.ParseTips(text)
	}
	return extract.ParseTipsAmount(text)
}

// tips are only read from a label inside the metrics container, small dollar
// amounts elsewhere (quick tip buttons) have their own "Tips" labels.
func (e Extractor) tips(root *goquery.Selection) *float64 {
	container, ok := metricsContainer(root)
	if !ok {
		e.tel.ReportDebug(report_extractor_tips, "no metrics container")
		return nil
	}
	label, ok := locate.FindLabel(container, tipsQuery)
	if !ok {
		e.tel.ReportDebug(report_extractor_tips, "no label in metrics container")
		return nil
	}
	for _, c := range locate.Candidates(label, tipsQuery) {
		if value, ok := parseTips(c.Text()); ok {
			e.tel.ReportDebug(report_extractor_tips, value, c.Strategy.String())
			return &value
		}
	}
	e.tel.ReportDebug(report_extractor_tips, "label without amount")
	return nil
}

func (e Extractor) hoursStreamed(root *goquery.Selection) *float64 {
	label, ok := locate.FindLabel(root, showTimeQuery)
	if !ok {
		return nil
	}
	if value, ok := extract.ParseElapsedDuration(htmlutil.Text(label)); ok {
		return &value
	}
	for _, c := range locate.Candidates(label, showTimeQuery) {
		if value, ok := extract.ParseElapsedDuration(c.Text()); ok {
			return &value
		}
	}
	e.tel.ReportDebug(report_extractor_show_time, "label without duration")
	return nil
}

func (e Extractor) scheduled(root *goquery.Selection, year int) (string, *time.Time) {
	raw, ok := extract.FindScheduledLabel(htmlutil.Text(root.Find("body")))
	if !ok {
		return "", nil
	}
	start, ok := extract.ParseScheduledTime(raw, year, e.opts.Location)
	if !ok {
		e.tel.ReportWarning(report_extractor_scheduled, "unparsable scheduled label", raw)
		return raw, nil
	}
	return raw, &start
}

func (e Extractor) streamerUsername(page Page) string {
	for _, anchor := range htmlutil.GetAnchors(page.URL, page.Doc.Find("a[href]")) {
		if anchor.Url == nil || anchor.Url.Host != page.URL.Host {
			continue
		}
		match := userPathRegex.FindStringSubmatch(anchor.Url.Path)
		if len(match) == 2 {
			return match[1]
		}
	}
	return ""
}

// Capture is a record together with the signals seen on the same page.
type Capture struct {
	Record  record.Record
	Signals Signals
}

// Extract builds a record out of a page, the record is never marked as ended.
// A page whose url has no stream id yields ErrNoStreamID.
func (e Extractor) Extract(ctx context.Context, page Page) (Capture, error) {
	_, span := tracer.Start(ctx, "Extract")
	defer span.End()

	streamId, ok := StreamID(page.URL.String())
	if !ok {
		span.RecordError(ErrNoStreamID)
		span.SetStatus(codes.Error, ErrNoStreamID.Error())
		return Capture{}, ErrNoStreamID
	}
	span.SetAttributes(attribute.String("stream_id", streamId))

	root := page.Doc.Selection
	rec := record.Record{
		Timestamp:        page.CapturedAt,
		StreamID:         streamId,
		StreamURL:        e.CanonicalURL(streamId),
		GrossSales:       e.grossSales(root),
		EstimatedOrders:  e.estimatedOrders(root),
		Tips:             e.tips(root),
		HoursStreamed:    e.hoursStreamed(root),
		StreamerUsername: e.streamerUsername(page),
	}
	rec.ScheduledLabel, rec.ScheduledStart = e.scheduled(root, page.CapturedAt.In(e.opts.Location).Year())

	span.SetAttributes(
		attribute.Bool("gross_sales_found", rec.GrossSales != nil),
		attribute.Bool("estimated_orders_found", rec.EstimatedOrders != nil),
	)

	return Capture{
		Record:  rec,
		Signals: e.signals(page),
	}, nil
}
