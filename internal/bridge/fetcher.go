package bridge

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"livescrape/internal/components/assert"
	"livescrape/internal/components/chrono"
	"livescrape/internal/components/telemetry"
	"livescrape/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const report_fetcher_snapshot = "fetcher.snapshot"

// PageFetcher requests the current page directly with the browser session's
// cookies. It only sees server rendered markup, so it is a fallback for when no
// browser snapshot is available.
type PageFetcher struct {
	http    *resty.Client
	cookies CookieProvider
	time    chrono.TimeAPI
	tel     telemetry.API

	mutex sync.Mutex
	url   string
}

func NewPageFetcher(startUrl string, cookies CookieProvider, timeApi chrono.TimeAPI, tel telemetry.API) *PageFetcher {
	assert.NotNil(cookies)
	assert.NotNil(timeApi)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("bridge", tel)

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 30)

	// the dashboard is polled, one request per second is plenty
	rateLimiter := rate.NewLimiter(1, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, tel)

	return &PageFetcher{
		http:    client,
		cookies: cookies,
		time:    timeApi,
		tel:     tel,
		url:     startUrl,
	}
}

func (f *PageFetcher) DumpTo(output restyutil.Output) {
	restyutil.Dump(f.http, "fetcher", output)
}

func (f *PageFetcher) currentUrl() string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.url
}

func (f *PageFetcher) CurrentURL(context.Context) (string, error) {
	return f.currentUrl(), nil
}

func (f *PageFetcher) Navigate(_ context.Context, url string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.url = url
	return nil
}

func (f *PageFetcher) Snapshot(ctx context.Context) (Snapshot, error) {
	target := f.currentUrl()
	if target == "" {
		return Snapshot{}, fmt.Errorf("fetch page: no url to fetch")
	}

	creds, err := f.cookies.Credentials(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch page: credentials: %w", err)
	}

	req := f.http.R().SetContext(ctx)
	for key, value := range creds.Headers {
		req.SetHeader(key, value)
	}
	if creds.CookieHeader != "" {
		req.SetHeader("cookie", creds.CookieHeader)
	}

	res, err := req.Get(target)
	if err != nil {
		f.tel.ReportWarning(report_fetcher_snapshot, err, target)
		return Snapshot{}, fmt.Errorf("fetch page: %w", err)
	}
	if res.IsError() {
		err := fmt.Errorf("fetch page: unexpected status %d", res.StatusCode())
		f.tel.ReportWarning(report_fetcher_snapshot, err, target)
		return Snapshot{}, err
	}

	finalUrl := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL.String()
	}
	return Snapshot{
		URL:        finalUrl,
		HTML:       res.String(),
		CapturedAt: f.time.Now(),
	}, nil
}

// FileSource serves a saved page, it is what one-shot extraction runs on.
type FileSource struct {
	Path string
	URL  string
	Time chrono.TimeAPI
}

func (s FileSource) Snapshot(context.Context) (Snapshot, error) {
	body, err := os.ReadFile(s.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read page file: %w", err)
	}
	capturedAt := time.Now()
	if s.Time != nil {
		capturedAt = s.Time.Now()
	}
	return Snapshot{
		URL:        s.URL,
		HTML:       string(body),
		CapturedAt: capturedAt,
	}, nil
}

func (s FileSource) CurrentURL(context.Context) (string, error) {
	return s.URL, nil
}
