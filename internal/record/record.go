// Package record holds the scraped dashboard record and its wire form.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrValidation marks records that must be dropped instead of retried.
var ErrValidation = errors.New("invalid record")

const (
	StatusLive  = "live"
	StatusEnded = "ended"
)

// IsoFormat is UTC with millisecond precision, the format the sink stores.
const IsoFormat = "2006-01-02T15:04:05.000Z"

func FormatInstant(t time.Time) string {
	return t.UTC().Format(IsoFormat)
}

// Record is one capture of a dashboard. It is rebuilt every cycle, nil pointers
// are metrics that could not be found.
type Record struct {
	// Timestamp is the capture time, or the recovered time of the last activity
	// for a final record.
	Timestamp time.Time `json:"timestamp"`
	StreamID  string    `json:"stream_id"`
	StreamURL string    `json:"stream_url"`

	GrossSales      *float64 `json:"gross_sales"`
	EstimatedOrders *int64   `json:"estimated_orders"`
	Tips            *float64 `json:"tips"`
	HoursStreamed   *float64 `json:"hours_streamed"`

	ScheduledLabel   string     `json:"scheduled_label,omitempty"`
	ScheduledStart   *time.Time `json:"scheduled_start,omitempty"`
	StreamerUsername string     `json:"streamer_username,omitempty"`

	StreamEnded bool `json:"stream_ended"`
}

func (r Record) Status() string {
	if r.StreamEnded {
		return StatusEnded
	}
	return StatusLive
}

// HasPrimary reports whether at least one of gross sales and estimated orders was found.
func (r Record) HasPrimary() bool {
	return r.GrossSales != nil || r.EstimatedOrders != nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func checkAmount(name string, value *float64) error {
	if value == nil {
		return nil
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) {
		return invalid("%s is not finite", name)
	}
	if *value < 0 {
		return invalid("%s is negative (%v)", name, *value)
	}
	return nil
}

// Validate checks the required fields. A live record needs at least one of the
// primary metrics, an ended record is sent best effort with whatever was found.
func (r Record) Validate() error {
	if r.StreamID == "" {
		return invalid("missing stream id")
	}
	if r.StreamURL == "" {
		return invalid("missing stream url")
	}
	if !r.StreamEnded && !r.HasPrimary() {
		return invalid("neither gross sales nor estimated orders present")
	}
	if r.EstimatedOrders != nil && *r.EstimatedOrders < 0 {
		return invalid("estimated orders is negative (%d)", *r.EstimatedOrders)
	}
	for _, amount := range []struct {
		name  string
		value *float64
	}{
		{name: "gross sales", value: r.GrossSales},
		{name: "tips", value: r.Tips},
		{name: "hours streamed", value: r.HoursStreamed},
	} {
		if err := checkAmount(amount.name, amount.value); err != nil {
			return err
		}
	}
	return nil
}

// Payload is the wire form of a record. tips and runtime_hours are never null.
type Payload struct {
	StreamID           string          `json:"stream_id"`
	StreamURL          string          `json:"stream_url"`
	UnitsSold          *int64          `json:"units_sold"`
	GrossSales         *float64        `json:"gross_sales"`
	RuntimeHours       float64         `json:"runtime_hours"`
	ScheduledStartTime *string         `json:"scheduled_start_time"`
	ScheduledSessionID json.RawMessage `json:"scheduled_session_id"`
	StreamerUsername   *string         `json:"streamer_username"`
	ScrapedAt          string          `json:"scraped_at"`
	Tips               float64         `json:"tips"`
	Status             string          `json:"status"`
}

func valueOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return *value
}

// Payload builds the wire form for one transmission attempt made at scrapedAt.
// sessionId is the raw id of the matched scheduled session, nil for no match.
func (r Record) Payload(scrapedAt time.Time, sessionId json.RawMessage) (Payload, error) {
	if err := r.Validate(); err != nil {
		return Payload{}, err
	}

	payload := Payload{
		StreamID:           r.StreamID,
		StreamURL:          r.StreamURL,
		UnitsSold:          r.EstimatedOrders,
		GrossSales:         r.GrossSales,
		RuntimeHours:       valueOr(r.HoursStreamed, 0),
		ScheduledSessionID: sessionId,
		ScrapedAt:          FormatInstant(scrapedAt),
		Tips:               valueOr(r.Tips, 0),
		Status:             r.Status(),
	}
	if r.ScheduledStart != nil {
		formatted := FormatInstant(*r.ScheduledStart)
		payload.ScheduledStartTime = &formatted
	}
	if r.StreamerUsername != "" {
		username := r.StreamerUsername
		payload.StreamerUsername = &username
	}
	return payload, payload.Check()
}

// Check is the last type check before a payload goes on the wire, a payload
// that fails it is not sent.
func (p Payload) Check() error {
	if p.StreamID == "" {
		return invalid("payload without stream id")
	}
	if p.Status != StatusLive && p.Status != StatusEnded {
		return invalid("unknown status %q", p.Status)
	}
	if p.UnitsSold != nil && *p.UnitsSold < 0 {
		return invalid("units_sold is negative")
	}
	if err := checkAmount("gross_sales", p.GrossSales); err != nil {
		return err
	}
	if err := checkAmount("tips", &p.Tips); err != nil {
		return err
	}
	if err := checkAmount("runtime_hours", &p.RuntimeHours); err != nil {
		return err
	}
	if len(p.ScheduledSessionID) > 0 && !json.Valid(p.ScheduledSessionID) {
		return invalid("scheduled_session_id is not valid json")
	}
	return nil
}
