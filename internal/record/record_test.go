package record

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

var scrapedAt = time.Date(2025, time.November, 23, 18, 30, 0, 0, time.UTC)

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		rec   Record
		valid bool
	}{
		{
			name:  "live with gross sales",
			rec:   Record{StreamID: "abc", StreamURL: "u", GrossSales: ptr(10.0)},
			valid: true,
		},
		{
			name:  "live with orders only",
			rec:   Record{StreamID: "abc", StreamURL: "u", EstimatedOrders: ptr(int64(3))},
			valid: true,
		},
		{
			name:  "live without metrics",
			rec:   Record{StreamID: "abc", StreamURL: "u"},
			valid: false,
		},
		{
			name:  "ended without metrics",
			rec:   Record{StreamID: "abc", StreamURL: "u", StreamEnded: true},
			valid: true,
		},
		{
			name:  "missing stream id",
			rec:   Record{StreamURL: "u", GrossSales: ptr(10.0)},
			valid: false,
		},
		{
			name:  "negative tips",
			rec:   Record{StreamID: "abc", StreamURL: "u", GrossSales: ptr(10.0), Tips: ptr(-1.0)},
			valid: false,
		},
		{
			name:  "nan sales",
			rec:   Record{StreamID: "abc", StreamURL: "u", GrossSales: ptr(math.NaN())},
			valid: false,
		},
	}

	for _, test := range cases {
		err := test.rec.Validate()
		if test.valid {
			require.NoError(t, err, test.name)
			continue
		}
		require.Error(t, err, test.name)
		require.True(t, errors.Is(err, ErrValidation), test.name)
	}
}

func TestPayloadCoercesNulls(t *testing.T) {
	rec := Record{
		StreamID:        "abc",
		StreamURL:       "https://www.whatnot.com/dashboard/live/abc",
		EstimatedOrders: ptr(int64(12)),
	}
	payload, err := rec.Payload(scrapedAt, nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, payload.Tips)
	require.Equal(t, 0.0, payload.RuntimeHours)
	require.Equal(t, StatusLive, payload.Status)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	require.Equal(t, 0.0, wire["tips"])
	require.Equal(t, 0.0, wire["runtime_hours"])
	require.Nil(t, wire["gross_sales"])
	require.Nil(t, wire["scheduled_session_id"])
	require.Nil(t, wire["scheduled_start_time"])
	require.Nil(t, wire["streamer_username"])
	require.Equal(t, 12.0, wire["units_sold"])
	require.Equal(t, "2025-11-23T18:30:00.000Z", wire["scraped_at"])
	require.Contains(t, wire, "tips")
	require.Contains(t, wire, "runtime_hours")
}

func TestPayloadCarriesValues(t *testing.T) {
	start := time.Date(2025, time.November, 23, 10, 0, 0, 0, time.UTC)
	rec := Record{
		StreamID:         "abc",
		StreamURL:        "https://www.whatnot.com/dashboard/live/abc",
		GrossSales:       ptr(1810.0),
		EstimatedOrders:  ptr(int64(40)),
		Tips:             ptr(12.5),
		HoursStreamed:    ptr(2.26),
		ScheduledStart:   &start,
		StreamerUsername: "seller",
		StreamEnded:      true,
	}
	payload, err := rec.Payload(scrapedAt, json.RawMessage(`"4f1c"`))
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	require.Equal(t, "ended", wire["status"])
	require.Equal(t, 12.5, wire["tips"])
	require.Equal(t, 2.26, wire["runtime_hours"])
	require.Equal(t, 1810.0, wire["gross_sales"])
	require.Equal(t, "4f1c", wire["scheduled_session_id"])
	require.Equal(t, "2025-11-23T10:00:00.000Z", wire["scheduled_start_time"])
	require.Equal(t, "seller", wire["streamer_username"])
}

func TestPayloadFailsClosed(t *testing.T) {
	_, err := Record{StreamURL: "u", GrossSales: ptr(1.0)}.Payload(scrapedAt, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = Record{StreamID: "a", StreamURL: "u", GrossSales: ptr(1.0)}.Payload(scrapedAt, json.RawMessage(`{`))
	require.ErrorIs(t, err, ErrValidation)

	payload := Payload{StreamID: "a", Status: StatusLive, RuntimeHours: math.Inf(1)}
	require.ErrorIs(t, payload.Check(), ErrValidation)

	payload = Payload{StreamID: "a", Status: "paused"}
	require.ErrorIs(t, payload.Check(), ErrValidation)
}
