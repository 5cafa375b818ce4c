// Package lifecycle decides, cycle by cycle, whether a monitored session is
// still live and when its final record is due.
package lifecycle

import "fmt"

type Phase int

const (
	Live Phase = iota
	// metrics have stopped changing, which may only be a quiet stretch
	StaleSuspect
	// terminal
	Ended
)

func (p Phase) String() string {
	switch p {
	case Live:
		return "live"
	case StaleSuspect:
		return "stale_suspect"
	case Ended:
		return "ended"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

const (
	DefaultStaleThreshold = 10
	DefaultMissThreshold  = 5
)

type Options struct {
	// StaleThreshold is the stale run length at which the end signal is re-checked.
	StaleThreshold int
	// MissThreshold is the number of consecutive full misses that get escalated.
	MissThreshold int
}

func (o Options) withDefaults() Options {
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = DefaultStaleThreshold
	}
	if o.MissThreshold <= 0 {
		o.MissThreshold = DefaultMissThreshold
	}
	return o
}

type Observation struct {
	GrossSales      *float64
	EstimatedOrders *int64
	// Ended is a visible end banner that was not overruled by a live indicator.
	Ended bool
	// Recheck looks at the page again for the end signal, it is only called once a
	// stale run reaches the threshold. nil means nothing can confirm the end.
	Recheck func() bool
}

type Action int

const (
	// the session already ended, nothing is emitted
	ActionSkip Action = iota
	// neither primary metric was found
	ActionMiss
	// send a live record
	ActionEmit
	// the session just ended, build and send the final record
	ActionFinalize
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionMiss:
		return "miss"
	case ActionEmit:
		return "emit"
	case ActionFinalize:
		return "finalize"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type Outcome struct {
	Action Action
	// Escalate is set on misses once they reached the miss threshold.
	Escalate bool
	// Reason is a short description of why the session ended.
	Reason string
}

// State is the lifecycle of one session. It is owned by a single goroutine at a
// time (the session's cycle), it does no locking of its own.
type State struct {
	opts Options

	Phase             Phase
	StaleRunLength    int
	ConsecutiveMisses int
	FinalRecordSent   bool

	lastSales  *float64
	lastOrders *int64
}

func New(opts Options) *State {
	return &State{opts: opts.withDefaults()}
}

func (s *State) end(reason string) Outcome {
	s.Phase = Ended
	s.StaleRunLength = 0
	return Outcome{Action: ActionFinalize, Reason: reason}
}

func samePositive(prevSales *float64, prevOrders *int64, sales *float64, orders *int64) bool {
	if prevSales == nil || prevOrders == nil || sales == nil || orders == nil {
		return false
	}
	if *sales <= 0 || *orders <= 0 {
		return false
	}
	return *prevSales == *sales && *prevOrders == *orders
}

// Observe advances the state with one cycle's observation.
//
// An explicit end signal ends the session right away. Otherwise unchanged
// positive metrics grow the stale run, and at the threshold the end signal is
// re-checked: only a confirmed signal ends the session, else the run restarts.
func (s *State) Observe(obs Observation) Outcome {
	if s.Phase == Ended {
		return Outcome{Action: ActionSkip}
	}

	if obs.Ended {
		return s.end("end banner visible")
	}

	if obs.GrossSales == nil && obs.EstimatedOrders == nil {
		s.ConsecutiveMisses++
		// absent values break the run
		s.StaleRunLength = 0
		s.lastSales = nil
		s.lastOrders = nil
		s.Phase = Live
		return Outcome{
			Action:   ActionMiss,
			Escalate: s.ConsecutiveMisses >= s.opts.MissThreshold,
		}
	}
	s.ConsecutiveMisses = 0

	if samePositive(s.lastSales, s.lastOrders, obs.GrossSales, obs.EstimatedOrders) {
		s.StaleRunLength++
	} else {
		s.StaleRunLength = 0
	}
	s.lastSales = obs.GrossSales
	s.lastOrders = obs.EstimatedOrders

	if s.StaleRunLength >= s.opts.StaleThreshold {
		if obs.Recheck != nil && obs.Recheck() {
			return s.end(fmt.Sprintf("end banner confirmed after %d unchanged cycles", s.StaleRunLength))
		}
		s.StaleRunLength = 0
	}

	if s.StaleRunLength > 0 {
		s.Phase = StaleSuspect
	} else {
		s.Phase = Live
	}
	return Outcome{Action: ActionEmit}
}

// MarkFinalSent records that the final record was handed off. It reports false
// when that already happened.
func (s *State) MarkFinalSent() bool {
	if s.FinalRecordSent {
		return false
	}
	s.FinalRecordSent = true
	return true
}
