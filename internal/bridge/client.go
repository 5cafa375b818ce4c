package bridge

import (
	"context"
	"fmt"
	"time"

	"livescrape/internal/components/assert"
	"livescrape/internal/components/chrono"
	"livescrape/internal/components/telemetry"
	"livescrape/lib/restyutil"

	"github.com/go-resty/resty/v2"
)

const (
	report_client_credentials = "client.credentials"
	report_client_navigate    = "client.navigate"
	report_client_snapshot    = "client.snapshot"
)

const (
	actionGetAuthHeaders = "get-auth-headers"
	actionScrapeUrl      = "scrape-url"
	actionSnapshot       = "snapshot"
)

type actionRequest struct {
	Action string `json:"action"`
	Url    string `json:"url,omitempty"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Url     string `json:"url"`

	Headers    *Credentials `json:"headers"`
	Html       string       `json:"html"`
	CapturedAt string       `json:"capturedAt"`
}

// Client speaks the bridge server's `POST / {"action": ...}` protocol.
type Client struct {
	http *resty.Client
	time chrono.TimeAPI
	tel  telemetry.API
}

func NewClient(bridgeUrl string, timeout time.Duration, timeApi chrono.TimeAPI, tel telemetry.API) *Client {
	assert.NotEmptyStr(bridgeUrl)
	assert.NotNil(timeApi)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("bridge", tel)

	client := resty.New()
	client.SetBaseURL(bridgeUrl)
	client.SetHeader("content-type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	telemetry.InstrumentResty(client, tel)

	return &Client{
		http: client,
		time: timeApi,
		tel:  tel,
	}
}

// DumpTo writes the client's traffic to output.
func (c *Client) DumpTo(output restyutil.Output) {
	restyutil.Dump(c.http, "bridge", output)
}

func (c *Client) do(ctx context.Context, req actionRequest) (actionResponse, error) {
	var out actionResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/")
	if err != nil {
		return actionResponse{}, fmt.Errorf("bridge %s: %w", req.Action, err)
	}
	if res.IsError() {
		if out.Error != "" {
			return actionResponse{}, fmt.Errorf("bridge %s: %s (status %d)", req.Action, out.Error, res.StatusCode())
		}
		return actionResponse{}, fmt.Errorf("bridge %s: unexpected status %d", req.Action, res.StatusCode())
	}
	if !out.Success {
		return actionResponse{}, fmt.Errorf("bridge %s: unsuccessful: %s", req.Action, out.Error)
	}
	return out, nil
}

func (c *Client) Credentials(ctx context.Context) (Credentials, error) {
	res, err := c.do(ctx, actionRequest{Action: actionGetAuthHeaders})
	if err != nil {
		c.tel.ReportWarning(report_client_credentials, err)
		return Credentials{}, err
	}
	if res.Headers == nil {
		err := fmt.Errorf("bridge %s: response without headers", actionGetAuthHeaders)
		c.tel.ReportBroken(report_client_credentials, err)
		return Credentials{}, err
	}
	return *res.Headers, nil
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	_, err := c.do(ctx, actionRequest{Action: actionScrapeUrl, Url: url})
	if err != nil {
		c.tel.ReportWarning(report_client_navigate, err, url)
		return err
	}
	c.tel.ReportDebug(report_client_navigate, url)
	return nil
}

func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	res, err := c.do(ctx, actionRequest{Action: actionSnapshot})
	if err != nil {
		c.tel.ReportWarning(report_client_snapshot, err)
		return Snapshot{}, err
	}

	capturedAt := c.time.Now()
	if res.CapturedAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, res.CapturedAt)
		if err == nil {
			capturedAt = parsed
		} else {
			c.tel.ReportDebug(report_client_snapshot, "unparsable capturedAt", res.CapturedAt)
		}
	}
	return Snapshot{
		URL:        res.Url,
		HTML:       res.Html,
		CapturedAt: capturedAt,
	}, nil
}
