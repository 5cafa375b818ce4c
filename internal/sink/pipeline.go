// Package sink delivers records to the remote datastore.
//
// Every delivery is validated first, then attempted a bounded number of times
// with exponential backoff. Records that still fail are dropped: there is no
// durable queue, the journal only keeps an audit trail.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"livescrape/internal/components/assert"
	"livescrape/internal/components/chrono"
	"livescrape/internal/components/telemetry"
	"livescrape/internal/record"
	"livescrape/lib/restyutil"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	report_pipeline_deliver = "pipeline.deliver"
	report_pipeline_attempt = "pipeline.attempt"
	report_pipeline_lookup  = "pipeline.lookup"
	report_pipeline_journal = "pipeline.journal"
)

var tracer = otel.Tracer("livescrape/sink")

// ErrSessionDrift aborts a delivery whose session is no longer the one being watched.
var ErrSessionDrift = errors.New("session changed during delivery")

type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64
}

// DefaultRetryPolicy waits 1s, 2s and 4s between 4 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxRetries:      3,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Hour
	// the attempt count is the only bound
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

type Options struct {
	// BaseURL is the REST root of the datastore, ex. https://xyz.supabase.co/rest/v1
	BaseURL      string
	APIKey       string
	RecordsPath  string
	SchedulePath string
	// RequestsPerSecond limits outgoing requests, 0 means 5.
	RequestsPerSecond float64
	Timeout           time.Duration
	Retry             RetryPolicy
	// Dump receives every request and response when set.
	Dump restyutil.Output
}

func (o Options) withDefaults() Options {
	if o.RecordsPath == "" {
		o.RecordsPath = "/stream_metrics"
	}
	if o.SchedulePath == "" {
		o.SchedulePath = "/scheduled_sessions"
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Retry.InitialInterval <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Retry.Multiplier < 1 {
		o.Retry.Multiplier = 2
	}
	return o
}

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeDropped   Outcome = "dropped"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeDrift     Outcome = "drift"
)

type Result struct {
	Outcome  Outcome
	Attempts int
	// SessionID is the raw id of the matched scheduled session, if any.
	SessionID json.RawMessage
	Err       error
}

// Journal is told about every finished delivery.
type Journal interface {
	Append(ctx context.Context, rec record.Record, res Result) error
}

// SessionFunc returns the stream id currently under observation.
type SessionFunc func() string

type Pipeline struct {
	opts    Options
	http    *resty.Client
	time    chrono.TimeAPI
	journal Journal
	tel     telemetry.API
}

// NewPipeline creates a pipeline, journal may be nil.
func NewPipeline(opts Options, timeApi chrono.TimeAPI, journal Journal, tel telemetry.API) (*Pipeline, error) {
	assert.NotNil(timeApi)
	assert.NotNil(tel)

	opts = opts.withDefaults()
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("sink: base url is required")
	}
	tel = telemetry.NewScopedAPI("sink", tel)

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/"))
	client.SetTimeout(opts.Timeout)
	client.SetHeader("content-type", "application/json")
	if opts.APIKey != "" {
		client.SetHeader("apikey", opts.APIKey)
		client.SetAuthToken(opts.APIKey)
	}

	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if req.Header.Get("x-request-id") != "" {
			return nil
		}
		id, err := random.String(16)
		if err != nil {
			return nil
		}
		req.SetHeader("x-request-id", id)
		return nil
	})

	telemetry.InstrumentResty(client, tel)
	restyutil.Dump(client, "sink", opts.Dump)

	return &Pipeline{
		opts:    opts,
		http:    client,
		time:    timeApi,
		journal: journal,
		tel:     tel,
	}, nil
}

// Deliver sends one record. current, when not nil, is consulted before every
// attempt and a changed session aborts the delivery.
func (p *Pipeline) Deliver(ctx context.Context, rec record.Record, current SessionFunc) Result {
	ctx, span := tracer.Start(ctx, "Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("stream_id", rec.StreamID),
		attribute.String("status", rec.Status()),
	)

	result := p.deliver(ctx, rec, current)

	span.SetAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.Int("attempts", result.Attempts),
	)
	switch result.Outcome {
	case OutcomeDelivered:
		p.tel.ReportDebug(report_pipeline_deliver, rec.StreamID, rec.Status(), result.Attempts)
	case OutcomeDrift:
		p.tel.ReportDebug(report_pipeline_deliver, "session drift, delivery abandoned", rec.StreamID)
	case OutcomeInvalid:
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
		p.tel.ReportWarning(report_pipeline_deliver, result.Err, rec.StreamID)
	case OutcomeDropped:
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
		p.tel.ReportBroken(
			report_pipeline_deliver,
			fmt.Errorf("dropped after %d attempts: %w", result.Attempts, result.Err),
			rec.StreamID,
		)
	}

	if p.journal != nil {
		err := p.journal.Append(ctx, rec, result)
		if err != nil {
			p.tel.ReportBroken(report_pipeline_journal, err, rec.StreamID)
		}
	}
	return result
}

func (p *Pipeline) deliver(ctx context.Context, rec record.Record, current SessionFunc) Result {
	if err := rec.Validate(); err != nil {
		return Result{Outcome: OutcomeInvalid, Err: err}
	}

	result := Result{}
	operation := func() error {
		if current != nil && current() != rec.StreamID {
			return backoff.Permanent(ErrSessionDrift)
		}
		result.Attempts++

		sessionId, err := p.LookupSession(ctx, rec)
		if err != nil {
			// a missing schedule match never blocks the record itself
			p.tel.ReportWarning(report_pipeline_lookup, err, rec.StreamURL)
			sessionId = nil
		}
		result.SessionID = sessionId

		payload, err := rec.Payload(p.time.Now(), sessionId)
		if err != nil {
			return backoff.Permanent(err)
		}
		return p.send(ctx, payload)
	}
	notify := func(err error, wait time.Duration) {
		p.tel.ReportWarning(report_pipeline_attempt, err, rec.StreamID, telemetry.KV{Key: "retry_in", Value: wait.String()})
	}

	err := backoff.RetryNotify(operation, p.opts.Retry.backoff(ctx), notify)
	switch {
	case err == nil:
		result.Outcome = OutcomeDelivered
	case errors.Is(err, ErrSessionDrift):
		result.Outcome = OutcomeDrift
		result.Err = err
	case errors.Is(err, record.ErrValidation):
		result.Outcome = OutcomeInvalid
		result.Err = err
	default:
		result.Outcome = OutcomeDropped
		result.Err = err
	}
	return result
}

func (p *Pipeline) send(ctx context.Context, payload record.Payload) error {
	res, err := p.http.R().
		SetContext(ctx).
		SetHeader("prefer", "return=minimal").
		SetBody(payload).
		Post(p.opts.RecordsPath)
	if err != nil {
		return fmt.Errorf("post record: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("post record: unexpected status %d: %s", res.StatusCode(), truncate(res.String(), 200))
	}
	return nil
}

func truncate(text string, length int) string {
	if len(text) <= length {
		return text
	}
	return text[:length]
}
