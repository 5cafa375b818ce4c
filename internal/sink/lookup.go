package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"livescrape/internal/record"

	"github.com/antzucaro/matchr"
)

type scheduledSession struct {
	ID               json.RawMessage `json:"id"`
	StreamerUsername string          `json:"streamer_username"`
}

// LookupSession resolves the scheduled session a record belongs to by exact
// stream url. No match is a nil id without error. Several matches are narrowed
// down by the similarity of their streamer username to the record's.
func (p *Pipeline) LookupSession(ctx context.Context, rec record.Record) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "LookupSession")
	defer span.End()

	var rows []scheduledSession
	res, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("stream_url", "eq."+rec.StreamURL).
		SetQueryParam("select", "id,streamer_username").
		SetResult(&rows).
		Get(p.opts.SchedulePath)
	if err != nil {
		return nil, fmt.Errorf("lookup scheduled session: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("lookup scheduled session: unexpected status %d", res.StatusCode())
	}

	best := bestSession(rows, rec.StreamerUsername)
	if best == nil || len(best.ID) == 0 || string(best.ID) == "null" {
		return nil, nil
	}
	return best.ID, nil
}

func bestSession(rows []scheduledSession, username string) *scheduledSession {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) == 1 || username == "" {
		return &rows[0]
	}

	best := 0
	bestScore := -1.0
	for i, row := range rows {
		score := matchr.JaroWinkler(row.StreamerUsername, username, false)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return &rows[best]
}
