package chrono

import (
	"fmt"
	"time"

	"livescrape/internal/components/telemetry"

	"github.com/robfig/cron/v3"
)

// CronAPI is the interface that anything depending on things to happen periodically should use.
type CronAPI interface {
	// Every runs callback once per interval until the returned cancel func is called.
	// A run that is still in progress when the next one is due causes that next run to be skipped.
	Every(interval time.Duration, callback func()) (cancel func())
}

// StandardCron is the standard implementation of CronAPI using `github.com/robfig/cron/v3`
type StandardCron struct {
	cron   *cron.Cron
	logger cronLogger
}

// NewStandardCron is the constructor of StandardCron, the scheduler stops when Stop is called.
func NewStandardCron(tel telemetry.API, location *time.Location) StandardCron {
	logger := cronLogger{tel: tel}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(location),
	)
	cronner.Start()

	return StandardCron{
		cron:   cronner,
		logger: logger,
	}
}

func (s StandardCron) Every(interval time.Duration, callback func()) func() {
	job := cron.NewChain(
		cron.Recover(s.logger),
		cron.SkipIfStillRunning(s.logger),
	).Then(cron.FuncJob(callback))

	id := s.cron.Schedule(cron.Every(interval), job)
	return func() {
		s.cron.Remove(id)
	}
}

// Stop stops scheduling new runs, it does not wait for running ones.
func (s StandardCron) Stop() {
	s.cron.Stop()
}

type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) formatParams(keysAndValues []any) []any {
	params := []any{}
	for i := 0; i < len(keysAndValues)/2; i++ {
		idx := i * 2
		params = append(params, telemetry.KV{
			Key:   fmt.Sprint(keysAndValues[idx]),
			Value: keysAndValues[idx+1],
		})
	}
	return params
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(
		fmt.Sprintf("cron: %s", msg),
		l.formatParams(keysAndValues)...,
	)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(
		"cron",
		append([]any{fmt.Errorf("%s: %w", msg, err)}, l.formatParams(keysAndValues)...)...,
	)
}
