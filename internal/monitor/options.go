package monitor

import (
	"time"

	"livescrape/internal/lifecycle"
)

const (
	DefaultIntervalSeconds = 30
	MinIntervalSeconds     = 5
	MaxIntervalSeconds     = 3600
)

// Interval turns the configured scrape interval into a duration, values outside
// [MinIntervalSeconds, MaxIntervalSeconds] fall back to DefaultIntervalSeconds.
func Interval(seconds int) time.Duration {
	if seconds < MinIntervalSeconds || seconds > MaxIntervalSeconds {
		seconds = DefaultIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

type Options struct {
	// IntervalSeconds is passed through Interval.
	IntervalSeconds int
	// StartupDelay is the wait before a new session's first cycle, it gives the
	// dashboard time to render. Negative skips the startup cycle entirely.
	StartupDelay time.Duration
	// FinalRetryDelay is the wait before re-extracting a final record that came
	// back without any primary metric.
	FinalRetryDelay time.Duration
	// NavigationPoll is how often the session's url is checked for a change of
	// stream, 0 disables the watch.
	NavigationPoll time.Duration

	Lifecycle lifecycle.Options
}

func DefaultOptions() Options {
	return Options{
		IntervalSeconds: DefaultIntervalSeconds,
		StartupDelay:    time.Second,
		FinalRetryDelay: 2 * time.Second,
		NavigationPoll:  2 * time.Second,
	}
}
