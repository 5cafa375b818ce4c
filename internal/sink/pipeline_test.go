package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livescrape/internal/components/telemetry"
	"livescrape/internal/record"

	"github.com/stretchr/testify/require"
)

type fixedTime struct {
	now time.Time
}

func (f fixedTime) Now() time.Time           { return f.now }
func (f fixedTime) Location() *time.Location { return time.UTC }

var now = time.Date(2025, time.November, 23, 18, 30, 0, 0, time.UTC)

type fakeSink struct {
	// failures is how many record posts fail before they start succeeding, -1 fails forever
	failures int32
	sessions string

	attempts  atomic.Int32
	delivered atomic.Int32

	mutex    sync.Mutex
	payloads []map[string]any
	headers  []http.Header
}

func (f *fakeSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/scheduled_sessions":
		w.Header().Set("content-type", "application/json")
		if f.sessions == "" {
			w.Write([]byte("[]"))
			return
		}
		w.Write([]byte(f.sessions))
	case r.Method == http.MethodPost && r.URL.Path == "/stream_metrics":
		attempt := f.attempts.Add(1)
		if f.failures < 0 || attempt <= f.failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mutex.Lock()
		f.payloads = append(f.payloads, payload)
		f.headers = append(f.headers, r.Header.Clone())
		f.mutex.Unlock()
		f.delivered.Add(1)
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type memoryJournal struct {
	mutex   sync.Mutex
	results []Result
}

func (j *memoryJournal) Append(_ context.Context, _ record.Record, res Result) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.results = append(j.results, res)
	return nil
}

func newTestPipeline(t *testing.T, sink *fakeSink) (*Pipeline, *memoryJournal, *telemetry.Recorder) {
	server := httptest.NewServer(sink)
	t.Cleanup(server.Close)

	journal := &memoryJournal{}
	tel := telemetry.NewRecorder()
	pipeline, err := NewPipeline(Options{
		BaseURL:           server.URL,
		APIKey:            "secret",
		RequestsPerSecond: 1000,
		Retry: RetryPolicy{
			InitialInterval: time.Millisecond,
			Multiplier:      2,
			MaxRetries:      3,
		},
	}, fixedTime{now: now}, journal, tel)
	require.NoError(t, err)
	return pipeline, journal, tel
}

func liveRecord() record.Record {
	sales := 1810.0
	orders := int64(40)
	return record.Record{
		Timestamp:        now,
		StreamID:         "abc123",
		StreamURL:        "https://www.whatnot.com/dashboard/live/abc123",
		GrossSales:       &sales,
		EstimatedOrders:  &orders,
		StreamerUsername: "cardshop",
	}
}

func TestRetryThenDeliver(t *testing.T) {
	sink := &fakeSink{failures: 2}
	pipeline, journal, tel := newTestPipeline(t, sink)

	result := pipeline.Deliver(context.Background(), liveRecord(), nil)
	require.Equal(t, OutcomeDelivered, result.Outcome)
	require.NoError(t, result.Err)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, int32(3), sink.attempts.Load())
	require.Equal(t, int32(1), sink.delivered.Load())

	require.Len(t, journal.results, 1)
	require.Len(t, tel.Reports(telemetry.REPORT_WARNING, report_pipeline_attempt), 2)
	require.Empty(t, tel.Reports(telemetry.REPORT_BROKEN, report_pipeline_deliver))

	payload := sink.payloads[0]
	require.Equal(t, "abc123", payload["stream_id"])
	require.Equal(t, "live", payload["status"])
	require.Equal(t, 0.0, payload["tips"])
	require.Equal(t, "2025-11-23T18:30:00.000Z", payload["scraped_at"])
	require.Nil(t, payload["scheduled_session_id"])

	headers := sink.headers[0]
	require.Equal(t, "secret", headers.Get("apikey"))
	require.Equal(t, "Bearer secret", headers.Get("authorization"))
	require.Len(t, headers.Get("x-request-id"), 16)
}

func TestAlwaysFailingSinkDrops(t *testing.T) {
	sink := &fakeSink{failures: -1}
	pipeline, journal, tel := newTestPipeline(t, sink)

	result := pipeline.Deliver(context.Background(), liveRecord(), nil)
	require.Equal(t, OutcomeDropped, result.Outcome)
	require.Error(t, result.Err)
	require.Equal(t, 4, result.Attempts)
	require.Equal(t, int32(4), sink.attempts.Load())
	require.Equal(t, int32(0), sink.delivered.Load())

	require.Len(t, journal.results, 1)
	require.Equal(t, OutcomeDropped, journal.results[0].Outcome)
	require.Len(t, tel.Reports(telemetry.REPORT_BROKEN, report_pipeline_deliver), 1)
}

func TestSessionDriftAbortsRetry(t *testing.T) {
	sink := &fakeSink{failures: -1}
	pipeline, _, tel := newTestPipeline(t, sink)

	var checks atomic.Int32
	current := func() string {
		// the tab moves on to another stream after the first attempt
		if checks.Add(1) > 1 {
			return "other"
		}
		return "abc123"
	}

	result := pipeline.Deliver(context.Background(), liveRecord(), current)
	require.Equal(t, OutcomeDrift, result.Outcome)
	require.ErrorIs(t, result.Err, ErrSessionDrift)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, int32(1), sink.attempts.Load())
	require.Empty(t, tel.Reports(telemetry.REPORT_BROKEN, report_pipeline_deliver))
}

func TestInvalidRecordNeverSent(t *testing.T) {
	sink := &fakeSink{}
	pipeline, journal, _ := newTestPipeline(t, sink)

	rec := liveRecord()
	rec.StreamID = ""
	result := pipeline.Deliver(context.Background(), rec, nil)
	require.Equal(t, OutcomeInvalid, result.Outcome)
	require.ErrorIs(t, result.Err, record.ErrValidation)
	require.Equal(t, 0, result.Attempts)
	require.Equal(t, int32(0), sink.attempts.Load())
	require.Len(t, journal.results, 1)

	rec = liveRecord()
	rec.GrossSales = nil
	rec.EstimatedOrders = nil
	result = pipeline.Deliver(context.Background(), rec, nil)
	require.Equal(t, OutcomeInvalid, result.Outcome)
	require.Equal(t, int32(0), sink.attempts.Load())
}

func TestScheduledSessionMatch(t *testing.T) {
	sink := &fakeSink{
		sessions: `[
			{"id": 11, "streamer_username": "someone_else"},
			{"id": 12, "streamer_username": "cardshop"}
		]`,
	}
	pipeline, _, _ := newTestPipeline(t, sink)

	rec := liveRecord()
	rec.StreamEnded = true
	result := pipeline.Deliver(context.Background(), rec, nil)
	require.Equal(t, OutcomeDelivered, result.Outcome)
	require.JSONEq(t, "12", string(result.SessionID))

	payload := sink.payloads[0]
	require.Equal(t, 12.0, payload["scheduled_session_id"])
	require.Equal(t, "ended", payload["status"])
}

func TestBestSession(t *testing.T) {
	require.Nil(t, bestSession(nil, "x"))

	rows := []scheduledSession{
		{ID: json.RawMessage(`"a"`), StreamerUsername: "vintage_cards"},
		{ID: json.RawMessage(`"b"`), StreamerUsername: "cardshop"},
	}
	require.Equal(t, `"b"`, string(bestSession(rows, "cardshop").ID))
	require.Equal(t, `"a"`, string(bestSession(rows, "").ID))
}
