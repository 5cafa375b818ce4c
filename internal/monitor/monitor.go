// Package monitor drives extraction for the session shown in one browser tab:
// a timer per watched stream, a watch for navigation to another stream and an
// on-demand trigger.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livescrape/internal/bridge"
	"livescrape/internal/components/assert"
	"livescrape/internal/components/chrono"
	"livescrape/internal/components/telemetry"
	"livescrape/internal/dashboard"
	"livescrape/internal/lifecycle"
	"livescrape/internal/record"
	"livescrape/internal/sink"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_cycle_capture  = "cycle.capture"
	report_cycle_extract  = "cycle.extract"
	report_cycle_miss     = "cycle.miss"
	report_cycle_finalize = "cycle.finalize"
	report_monitor_watch  = "monitor.watch"
	report_monitor_follow = "monitor.follow"
)

var tracer = otel.Tracer("livescrape/monitor")

var (
	// ErrNoSession is returned when the tab is not on a stream dashboard.
	ErrNoSession = errors.New("no stream session in view")
	// ErrExtractionMiss is returned when neither gross sales nor estimated orders
	// could be found.
	ErrExtractionMiss = errors.New("primary metrics not found")
)

// Deliverer is what records are handed off to, it is implemented by sink.Pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, rec record.Record, current sink.SessionFunc) sink.Result
}

type Monitor struct {
	opts      Options
	interval  time.Duration
	source    bridge.DocumentSource
	navigator bridge.Navigator
	extractor dashboard.Extractor
	sink      Deliverer
	time      chrono.TimeAPI
	cron      chrono.CronAPI
	tel       telemetry.API

	mutex sync.Mutex
	// ctx outlives any single request, session timers and deliveries run on it
	ctx       context.Context
	session   *session
	stopWatch func()
	closed    bool

	deliveries sync.WaitGroup
}

// NewMonitor creates a monitor, navigator may be nil when the document source
// cannot be steered.
func NewMonitor(
	opts Options,
	source bridge.DocumentSource,
	navigator bridge.Navigator,
	extractor dashboard.Extractor,
	deliverer Deliverer,
	timeApi chrono.TimeAPI,
	cronApi chrono.CronAPI,
	tel telemetry.API,
) *Monitor {
	assert.NotNil(source)
	assert.NotNil(deliverer)
	assert.NotNil(timeApi)
	assert.NotNil(cronApi)
	assert.NotNil(tel)

	return &Monitor{
		ctx:       context.Background(),
		opts:      opts,
		interval:  Interval(opts.IntervalSeconds),
		source:    source,
		navigator: navigator,
		extractor: extractor,
		sink:      deliverer,
		time:      timeApi,
		cron:      cronApi,
		tel:       telemetry.NewScopedAPI("monitor", tel),
	}
}

func (m *Monitor) IntervalDuration() time.Duration {
	return m.interval
}

// Start looks at the tab once and then keeps watching it for navigation. Cycles
// and deliveries run until ctx is done or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mutex.Lock()
	m.ctx = ctx
	m.mutex.Unlock()

	m.Watch(ctx)
	if m.opts.NavigationPoll <= 0 {
		return
	}
	stop := m.cron.Every(m.opts.NavigationPoll, func() {
		m.Watch(ctx)
	})

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		stop()
		return
	}
	m.stopWatch = stop
}

// Close stops every timer and waits for in-flight deliveries.
func (m *Monitor) Close() {
	m.mutex.Lock()
	m.closed = true
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	current := m.session
	m.mutex.Unlock()

	if current != nil {
		current.mutex.Lock()
		current.stop()
		current.mutex.Unlock()
	}
	m.deliveries.Wait()
}

// CurrentStreamID returns the stream id being watched, empty when there is none.
func (m *Monitor) CurrentStreamID() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.streamId
}

func (m *Monitor) currentSession() *session {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.session
}

func (m *Monitor) currentUrl(ctx context.Context) (string, error) {
	if locator, ok := m.source.(bridge.Locator); ok {
		return locator.CurrentURL(ctx)
	}
	snapshot, err := m.source.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return snapshot.URL, nil
}

// Watch checks which stream the tab is on and follows it when it changed.
func (m *Monitor) Watch(ctx context.Context) {
	url, err := m.currentUrl(ctx)
	if err != nil {
		m.tel.ReportWarning(report_monitor_watch, err)
		return
	}
	m.follow(url)
}

// follow makes the stream in url the watched one. A url without a stream id
// drops the current session, the same stream id again changes nothing.
func (m *Monitor) follow(url string) {
	streamId, ok := dashboard.StreamID(url)

	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	ctx := m.ctx
	previous := m.session
	if previous != nil && ok && previous.streamId == streamId {
		m.mutex.Unlock()
		return
	}

	var next *session
	if ok {
		next = newSession(
			streamId,
			m.extractor.CanonicalURL(streamId),
			lifecycle.New(m.opts.Lifecycle),
			m.time.Now(),
		)
		// held until the timer is in place so no tick sees a half built session
		next.mutex.Lock()
		defer next.mutex.Unlock()
	}
	m.session = next
	m.mutex.Unlock()

	if previous != nil {
		previous.mutex.Lock()
		previous.stop()
		previous.mutex.Unlock()
		m.tel.ReportDebug(report_monitor_follow, "left session", previous.streamId)
	}
	if next == nil {
		return
	}

	m.tel.ReportDebug(report_monitor_follow, "watching session", streamId, m.interval.String())
	next.cancel = m.cron.Every(m.interval, func() {
		m.cycle(ctx, next)
	})
	if m.opts.StartupDelay >= 0 {
		go func() {
			if !sleep(ctx, m.opts.StartupDelay) {
				return
			}
			m.cycle(ctx, next)
		}()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Monitor) capture(ctx context.Context) (dashboard.Page, error) {
	snapshot, err := m.source.Snapshot(ctx)
	if err != nil {
		return dashboard.Page{}, fmt.Errorf("snapshot: %w", err)
	}
	page, err := dashboard.ParsePageBytes(snapshot.URL, []byte(snapshot.HTML), snapshot.CapturedAt)
	if err != nil {
		return dashboard.Page{}, fmt.Errorf("parse page: %w", err)
	}
	return page, nil
}

// Cycle runs one extraction cycle for the watched session right away.
func (m *Monitor) Cycle(ctx context.Context) error {
	current := m.currentSession()
	if current == nil {
		return ErrNoSession
	}
	m.cycle(ctx, current)
	return nil
}

func (m *Monitor) cycle(ctx context.Context, s *session) {
	spanCtx, span := tracer.Start(ctx, "Cycle")
	span.SetAttributes(attribute.String("stream_id", s.streamId))
	moved, url := m.cycleLocked(spanCtx, s)
	span.End()

	if moved {
		// the session lock is released by now, follow takes it for the old one
		m.follow(url)
	}
}

func (m *Monitor) cycleLocked(ctx context.Context, s *session) (moved bool, url string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped || s.state.Phase == lifecycle.Ended {
		return false, ""
	}
	s.cycles++

	page, err := m.capture(ctx)
	if err != nil {
		m.tel.ReportWarning(report_cycle_capture, err, s.streamId)
		return false, ""
	}
	if streamId, ok := dashboard.StreamID(page.URL.String()); !ok || streamId != s.streamId {
		return true, page.URL.String()
	}

	capture, err := m.extractor.Extract(ctx, page)
	if err != nil {
		m.tel.ReportWarning(report_cycle_extract, err, s.streamId)
		return false, ""
	}
	rec := capture.Record

	outcome := s.state.Observe(lifecycle.Observation{
		GrossSales:      rec.GrossSales,
		EstimatedOrders: rec.EstimatedOrders,
		Ended:           m.extractor.Policy().Ended(capture.Signals),
		Recheck: func() bool {
			fresh, err := m.capture(ctx)
			if err != nil {
				m.tel.ReportWarning(report_cycle_capture, err, s.streamId, "recheck")
				return false
			}
			return m.extractor.Ended(fresh)
		},
	})

	switch outcome.Action {
	case lifecycle.ActionSkip:
	case lifecycle.ActionMiss:
		m.tel.ReportCount(report_cycle_miss, int64(s.state.ConsecutiveMisses))
		if outcome.Escalate {
			m.tel.ReportBroken(
				report_cycle_extract,
				fmt.Errorf("%w for %d consecutive cycles", ErrExtractionMiss, s.state.ConsecutiveMisses),
				s.streamId,
			)
		} else {
			m.tel.ReportWarning(report_cycle_extract, ErrExtractionMiss, s.streamId)
		}
	case lifecycle.ActionEmit:
		s.latest = &rec
		m.deliver(ctx, rec)
	case lifecycle.ActionFinalize:
		m.finalize(ctx, s, page, rec, outcome.Reason)
	}
	return false, ""
}

// finalize sends the final record exactly once and stops the session's timer.
func (m *Monitor) finalize(ctx context.Context, s *session, page dashboard.Page, rec record.Record, reason string) {
	ctx, span := tracer.Start(ctx, "Finalize")
	defer span.End()
	span.SetAttributes(attribute.String("reason", reason))

	if s.state.FinalRecordSent {
		return
	}
	m.tel.ReportDebug(report_cycle_finalize, "session ended", s.streamId, reason)

	page, rec = m.reextract(ctx, s, page, rec)
	if !rec.HasPrimary() && sleep(ctx, m.opts.FinalRetryDelay) {
		page, rec = m.reextract(ctx, s, page, rec)
	}
	if !rec.HasPrimary() {
		span.SetStatus(codes.Error, ErrExtractionMiss.Error())
		m.tel.ReportWarning(report_cycle_finalize, ErrExtractionMiss, s.streamId, "sending best effort final record")
	}

	if endedAt, ok := m.extractor.RecoverEndTime(page); ok {
		rec.Timestamp = endedAt
	} else {
		rec.Timestamp = page.CapturedAt
	}
	rec.StreamEnded = true

	if !s.state.MarkFinalSent() {
		return
	}
	s.latest = &rec
	s.stop()
	m.deliver(ctx, rec)
}

// reextract captures the page again, keeping what it had when that fails.
func (m *Monitor) reextract(ctx context.Context, s *session, page dashboard.Page, rec record.Record) (dashboard.Page, record.Record) {
	fresh, err := m.capture(ctx)
	if err != nil {
		m.tel.ReportWarning(report_cycle_capture, err, s.streamId, "final")
		return page, rec
	}
	capture, err := m.extractor.Extract(ctx, fresh)
	if err != nil || capture.Record.StreamID != s.streamId {
		return page, rec
	}
	return fresh, capture.Record
}

func (m *Monitor) deliver(ctx context.Context, rec record.Record) {
	m.deliveries.Add(1)
	go func() {
		defer m.deliveries.Done()
		m.sink.Deliver(ctx, rec, m.CurrentStreamID)
	}()
}

// ExtractNow extracts the tab's page right away without advancing the session's
// lifecycle. When the page cannot be captured the latest record of the session
// is returned instead.
func (m *Monitor) ExtractNow(ctx context.Context) (record.Record, error) {
	ctx, span := tracer.Start(ctx, "ExtractNow")
	defer span.End()

	page, err := m.capture(ctx)
	if err != nil {
		m.tel.ReportWarning(report_cycle_capture, err, "extract-now")
		if current := m.currentSession(); current != nil {
			current.mutex.Lock()
			latest := current.latest
			current.mutex.Unlock()
			if latest != nil {
				return *latest, nil
			}
		}
		return record.Record{}, err
	}

	capture, err := m.extractor.Extract(ctx, page)
	if errors.Is(err, dashboard.ErrNoStreamID) {
		return record.Record{}, ErrNoSession
	}
	if err != nil {
		return record.Record{}, err
	}
	rec := capture.Record
	if !rec.HasPrimary() {
		return rec, ErrExtractionMiss
	}

	if current := m.currentSession(); current != nil && current.streamId == rec.StreamID {
		current.mutex.Lock()
		if !current.state.FinalRecordSent {
			current.latest = &rec
		}
		current.mutex.Unlock()
	}
	return rec, nil
}

// Navigate asks the browser session to open url and follows it.
func (m *Monitor) Navigate(ctx context.Context, url string) error {
	if m.navigator == nil {
		return fmt.Errorf("navigate: no navigator configured")
	}
	err := m.navigator.Navigate(ctx, url)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	m.Watch(ctx)
	return nil
}

// Status describes the watched session, ok is false when there is none.
func (m *Monitor) Status() (Status, bool) {
	current := m.currentSession()
	if current == nil {
		return Status{}, false
	}
	return current.status(), true
}
