package monitor

import (
	"sync"
	"time"

	"livescrape/internal/lifecycle"
	"livescrape/internal/record"
)

// session is one watched stream. Its mutex is held for a whole cycle, which is
// what keeps the lifecycle single writer.
type session struct {
	streamId  string
	url       string
	startedAt time.Time

	mutex  sync.Mutex
	state  *lifecycle.State
	latest *record.Record
	cycles int

	stopOnce sync.Once
	cancel   func()
	stopped  bool
}

func newSession(streamId, url string, state *lifecycle.State, startedAt time.Time) *session {
	return &session{
		streamId:  streamId,
		url:       url,
		startedAt: startedAt,
		state:     state,
	}
}

// stop cancels the session's timer, it may be called before the timer exists.
// Callers hold the session mutex.
func (s *session) stop() {
	s.stopped = true
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *session) status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := Status{
		StreamID:          s.streamId,
		StreamURL:         s.url,
		StartedAt:         record.FormatInstant(s.startedAt),
		Phase:             s.state.Phase.String(),
		StaleRunLength:    s.state.StaleRunLength,
		ConsecutiveMisses: s.state.ConsecutiveMisses,
		FinalRecordSent:   s.state.FinalRecordSent,
		Cycles:            s.cycles,
	}
	if s.latest != nil {
		latest := *s.latest
		out.Latest = &latest
	}
	return out
}

type Status struct {
	StreamID          string         `json:"stream_id"`
	StreamURL         string         `json:"stream_url"`
	StartedAt         string         `json:"started_at"`
	Phase             string         `json:"phase"`
	StaleRunLength    int            `json:"stale_run_length"`
	ConsecutiveMisses int            `json:"consecutive_misses"`
	FinalRecordSent   bool           `json:"final_record_sent"`
	Cycles            int            `json:"cycles"`
	Latest            *record.Record `json:"latest,omitempty"`
}
