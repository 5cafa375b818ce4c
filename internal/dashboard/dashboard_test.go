package dashboard

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"livescrape/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

const liveUrl = "https://www.whatnot.com/dashboard/live/abc123?tab=overview"

var capturedAt = time.Date(2025, time.November, 23, 18, 0, 0, 0, time.UTC)

func loadPage(t testing.TB, rawUrl, file string) Page {
	body, err := os.ReadFile(file)
	require.NoError(t, err)
	page, err := ParsePageBytes(rawUrl, body, capturedAt)
	require.NoError(t, err)
	return page
}

func pageFromString(t testing.TB, rawUrl, body string) Page {
	page, err := ParsePage(rawUrl, strings.NewReader(body), capturedAt)
	require.NoError(t, err)
	return page
}

func newExtractor(opts Options) Extractor {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return NewExtractor(opts, telemetry.NewRecorder())
}

func TestStreamID(t *testing.T) {
	cases := []struct {
		url      string
		expected string
		ok       bool
	}{
		{url: "https://www.whatnot.com/dashboard/live/abc123", expected: "abc123", ok: true},
		{url: "https://www.whatnot.com/dashboard/live/abc-123_x/?tab=sales", expected: "abc-123_x", ok: true},
		{url: "https://www.whatnot.com/live/f00d", expected: "f00d", ok: true},
		{url: "https://www.whatnot.com/dashboard", ok: false},
		{url: "", ok: false},
	}
	for _, test := range cases {
		id, ok := StreamID(test.url)
		require.Equal(t, test.ok, ok, test.url)
		require.Equal(t, test.expected, id, test.url)
	}

	require.Equal(t, "https://www.whatnot.com/dashboard/live/abc123", CanonicalURL("", "abc123"))
	require.Equal(t, "http://localhost/s/abc123", CanonicalURL("http://localhost/s/{stream_id}", "abc123"))
	require.True(t, IsDashboard(liveUrl))
	require.False(t, IsDashboard("https://www.whatnot.com/user/cardshop"))
}

func TestExtractLivePage(t *testing.T) {
	extractor := newExtractor(Options{Policy: DefaultSignalPolicy()})
	page := loadPage(t, liveUrl, "testdata/live.html")

	capture, err := extractor.Extract(context.Background(), page)
	require.NoError(t, err)

	rec := capture.Record
	require.Equal(t, "abc123", rec.StreamID)
	require.Equal(t, "https://www.whatnot.com/dashboard/live/abc123", rec.StreamURL)
	require.Equal(t, capturedAt, rec.Timestamp)
	require.NotNil(t, rec.GrossSales)
	require.Equal(t, 1810.0, *rec.GrossSales)
	require.NotNil(t, rec.EstimatedOrders)
	require.Equal(t, int64(40), *rec.EstimatedOrders)
	require.NotNil(t, rec.Tips)
	require.Equal(t, 12.5, *rec.Tips)
	require.NotNil(t, rec.HoursStreamed)
	require.Equal(t, 2.26, *rec.HoursStreamed)
	require.Equal(t, "11/23 10:00AM", rec.ScheduledLabel)
	require.NotNil(t, rec.ScheduledStart)
	require.Equal(t, time.Date(2025, time.November, 23, 10, 0, 0, 0, time.UTC), *rec.ScheduledStart)
	require.Equal(t, "cardshop", rec.StreamerUsername)
	require.False(t, rec.StreamEnded)

	require.Equal(t, Signals{LiveIndicator: true, ElapsedCounter: true}, capture.Signals)
	require.False(t, extractor.Ended(page))
}

func TestExtractWithoutStreamID(t *testing.T) {
	extractor := newExtractor(Options{})
	page := loadPage(t, "https://www.whatnot.com/dashboard", "testdata/live.html")
	_, err := extractor.Extract(context.Background(), page)
	require.ErrorIs(t, err, ErrNoStreamID)
}

func TestTipsNeedMetricsContainer(t *testing.T) {
	extractor := newExtractor(Options{})
	page := pageFromString(t, liveUrl, `<body>
		<div><span>Gross Sales</span><span>$50.00</span></div>
		<div class="quick"><span>Tips</span><button>$5.00</button></div>
	</body>`)

	capture, err := extractor.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Nil(t, capture.Record.Tips)
	require.Nil(t, capture.Record.EstimatedOrders)
	require.Equal(t, 50.0, *capture.Record.GrossSales)

	page = pageFromString(t, liveUrl, `<body><div>
		<p><span>Gross Sales</span> $50.00</p>
		<p><span>Estimated Orders</span> 3</p>
		<p><span>Tips</span> $0</p>
	</div></body>`)
	capture, err = extractor.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, int64(3), *capture.Record.EstimatedOrders)
	require.NotNil(t, capture.Record.Tips)
	require.Equal(t, 0.0, *capture.Record.Tips)
}

func TestTipsIgnoreQuickTipRow(t *testing.T) {
	extractor := newExtractor(Options{})
	page := pageFromString(t, liveUrl, `<body>
		<div class="quick-tip"><span>Tips</span><button>$1.00</button></div>
		<section class="metrics">
			<div><span>Gross Sales</span><span>$120.00</span></div>
			<div><span>Estimated Orders</span><span>7</span></div>
			<div><span>Tips</span><span>$0.00</span></div>
		</section>
	</body>`)

	capture, err := extractor.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, 120.0, *capture.Record.GrossSales)
	require.Equal(t, int64(7), *capture.Record.EstimatedOrders)
	require.NotNil(t, capture.Record.Tips)
	require.Equal(t, 0.0, *capture.Record.Tips)

	page = pageFromString(t, liveUrl, `<body>
		<div class="quick-tip"><span>Tips</span><button>$1.00</button></div>
		<section class="metrics">
			<div><span>Gross Sales</span><span>$120.00</span></div>
			<div><span>Estimated Orders</span><span>7</span></div>
			<div><div>Tips</div></div>
			<div>$2.50</div>
		</section>
	</body>`)
	capture, err = extractor.Extract(context.Background(), page)
	require.NoError(t, err)
	require.NotNil(t, capture.Record.Tips)
	require.Equal(t, 2.5, *capture.Record.Tips)
}

func TestEndSignalPolicy(t *testing.T) {
	bannerAndTimer := `<body>
		<div class="banner">Show ended</div>
		<div><span>Show Time</span> <span>1:02:03</span></div>
	</body>`
	bannerOnly := `<body>
		<div class="banner">This show has ended.</div>
		<span style="visibility: hidden">LIVE</span>
	</body>`
	hiddenBanner := `<body><div class="banner" data-box-width="0">Show ended</div></body>`

	suppressing := newExtractor(Options{Policy: SignalPolicy{LiveSuppressesEnd: true}})
	permissive := newExtractor(Options{Policy: SignalPolicy{LiveSuppressesEnd: false}})

	page := pageFromString(t, liveUrl, bannerAndTimer)
	require.Equal(t, Signals{EndBanner: true, ElapsedCounter: true}, suppressing.Signals(page))
	require.False(t, suppressing.Ended(page))
	require.True(t, permissive.Ended(page))

	page = pageFromString(t, liveUrl, bannerOnly)
	require.True(t, suppressing.Ended(page))

	page = pageFromString(t, liveUrl, hiddenBanner)
	require.False(t, suppressing.Ended(page))
	require.False(t, permissive.Ended(page))
}

func TestRecoverEndTime(t *testing.T) {
	extractor := newExtractor(Options{})
	page := loadPage(t, liveUrl, "testdata/live.html")

	end, ok := extractor.RecoverEndTime(page)
	require.True(t, ok)
	// 8d ago is outside the plausible window, 15m is the oldest remaining
	require.Equal(t, capturedAt.Add(-15*time.Minute), end)

	page = pageFromString(t, liveUrl, `<body><ul>
		<li>a bought X just now</li>
		<li>b bought Y 9d ago</li>
	</ul></body>`)
	_, ok = extractor.RecoverEndTime(page)
	require.False(t, ok)

	page = pageFromString(t, liveUrl, `<body>nothing here</body>`)
	_, ok = extractor.RecoverEndTime(page)
	require.False(t, ok)
}

func TestRecoverEndTimeReportsStaleFeed(t *testing.T) {
	recorder := telemetry.NewRecorder()
	extractor := NewExtractor(Options{Location: time.UTC}, recorder)
	page := pageFromString(t, liveUrl, `<body><ul>
		<li>a bought X 9d ago</li>
		<li>b bought Y 10d ago</li>
	</ul></body>`)

	_, ok := extractor.RecoverEndTime(page)
	require.False(t, ok)

	reports := recorder.Reports(telemetry.REPORT_DEBUG, report_extractor_recover)
	require.Len(t, reports, 1)
	require.Equal(t, "dashboard: "+report_extractor_recover, reports[0].Id)
	require.Equal(t, []any{"no plausible feed entry", 2}, reports[0].Params)
}
