package history

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}

type Queries struct {
	db DBTX
}

func newQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type captureRow struct {
	ID              string
	StreamID        string
	StreamUrl       string
	Status          string
	Outcome         string
	Attempts        int64
	Error           string
	GrossSales      sql.NullFloat64
	EstimatedOrders sql.NullInt64
	Tips            sql.NullFloat64
	HoursStreamed   sql.NullFloat64
	CapturedAt      int64
	RecordedAt      int64
}

const insertCapture = `
insert into capture (
    id, stream_id, stream_url, status, outcome, attempts, error,
    gross_sales, estimated_orders, tips, hours_streamed,
    captured_at, recorded_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertCapture(ctx context.Context, arg captureRow) error {
	_, err := q.db.ExecContext(ctx, insertCapture,
		arg.ID,
		arg.StreamID,
		arg.StreamUrl,
		arg.Status,
		arg.Outcome,
		arg.Attempts,
		arg.Error,
		arg.GrossSales,
		arg.EstimatedOrders,
		arg.Tips,
		arg.HoursStreamed,
		arg.CapturedAt,
		arg.RecordedAt,
	)
	return err
}

const listCaptures = `
select id, stream_id, stream_url, status, outcome, attempts, error,
    gross_sales, estimated_orders, tips, hours_streamed,
    captured_at, recorded_at
from capture
where (?1 = '' or stream_id = ?1)
order by recorded_at desc, rowid desc
limit ?2
`

func (q *Queries) ListCaptures(ctx context.Context, streamId string, limit int64) ([]captureRow, error) {
	rows, err := q.db.QueryContext(ctx, listCaptures, streamId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []captureRow
	for rows.Next() {
		var i captureRow
		if err := rows.Scan(
			&i.ID,
			&i.StreamID,
			&i.StreamUrl,
			&i.Status,
			&i.Outcome,
			&i.Attempts,
			&i.Error,
			&i.GrossSales,
			&i.EstimatedOrders,
			&i.Tips,
			&i.HoursStreamed,
			&i.CapturedAt,
			&i.RecordedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
