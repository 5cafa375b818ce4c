// Package history keeps an audit log of every delivery the sink finished,
// whether it was delivered or not. Nothing is ever resent from it.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"livescrape/internal/components/assert"
	"livescrape/internal/components/chrono"
	"livescrape/internal/components/telemetry"
	"livescrape/internal/record"
	"livescrape/internal/sink"
	configlibsql "livescrape/lib/configutil/libsql"

	"github.com/google/uuid"
)

//go:embed schema.sql
var Schema string

const (
	report_store_append = "store.append"
	report_store_list   = "store.list"
)

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 50

type Entry struct {
	ID        string
	StreamID  string
	StreamURL string
	Status    string
	Outcome   sink.Outcome
	Attempts  int
	Error     string

	GrossSales      *float64
	EstimatedOrders *int64
	Tips            *float64
	HoursStreamed   *float64

	CapturedAt time.Time
	RecordedAt time.Time
}

type Store struct {
	db   *sql.DB
	qry  *Queries
	time chrono.TimeAPI
	tel  telemetry.API
}

// Open opens the database described by config and applies the schema.
func Open(ctx context.Context, config configlibsql.Struct, timeApi chrono.TimeAPI, tel telemetry.API) (*Store, error) {
	db, err := config.OpenDB()
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	store, err := New(ctx, db, timeApi, tel)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an already opened database, applying the schema.
func New(ctx context.Context, db *sql.DB, timeApi chrono.TimeAPI, tel telemetry.API) (*Store, error) {
	assert.NotNil(db)
	assert.NotNil(timeApi)
	assert.NotNil(tel)

	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{
		db:   db,
		qry:  newQueries(db),
		time: timeApi,
		tel:  telemetry.NewScopedAPI("history", tel),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullInt(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func fromNullFloat(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}

func fromNullInt(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}

// Append implements sink.Journal.
func (s *Store) Append(ctx context.Context, rec record.Record, res sink.Result) error {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	capturedAt := rec.Timestamp
	if capturedAt.IsZero() {
		capturedAt = s.time.Now()
	}

	err := s.qry.InsertCapture(ctx, captureRow{
		ID:              uuid.NewString(),
		StreamID:        rec.StreamID,
		StreamUrl:       rec.StreamURL,
		Status:          rec.Status(),
		Outcome:         string(res.Outcome),
		Attempts:        int64(res.Attempts),
		Error:           errText,
		GrossSales:      nullFloat(rec.GrossSales),
		EstimatedOrders: nullInt(rec.EstimatedOrders),
		Tips:            nullFloat(rec.Tips),
		HoursStreamed:   nullFloat(rec.HoursStreamed),
		CapturedAt:      capturedAt.UnixMilli(),
		RecordedAt:      s.time.Now().UnixMilli(),
	})
	if err != nil {
		s.tel.ReportBroken(report_store_append, err, rec.StreamID)
		return fmt.Errorf("append capture: %w", err)
	}
	return nil
}

// List returns the most recent entries first, streamId may be empty to list
// every stream.
func (s *Store) List(ctx context.Context, streamId string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.qry.ListCaptures(ctx, streamId, int64(limit))
	if err != nil {
		s.tel.ReportBroken(report_store_list, err, streamId)
		return nil, fmt.Errorf("list captures: %w", err)
	}

	loc := s.time.Location()
	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = Entry{
			ID:              row.ID,
			StreamID:        row.StreamID,
			StreamURL:       row.StreamUrl,
			Status:          row.Status,
			Outcome:         sink.Outcome(row.Outcome),
			Attempts:        int(row.Attempts),
			Error:           row.Error,
			GrossSales:      fromNullFloat(row.GrossSales),
			EstimatedOrders: fromNullInt(row.EstimatedOrders),
			Tips:            fromNullFloat(row.Tips),
			HoursStreamed:   fromNullFloat(row.HoursStreamed),
			CapturedAt:      time.UnixMilli(row.CapturedAt).In(loc),
			RecordedAt:      time.UnixMilli(row.RecordedAt).In(loc),
		}
	}
	return entries, nil
}
