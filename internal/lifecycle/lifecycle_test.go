package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func metrics(sales float64, orders int64) Observation {
	return Observation{GrossSales: &sales, EstimatedOrders: &orders}
}

func TestEndBannerAfterStaleRun(t *testing.T) {
	state := New(Options{})
	for i := 0; i < 9; i++ {
		outcome := state.Observe(metrics(100, 4))
		require.Equal(t, ActionEmit, outcome.Action)
		require.NotEqual(t, Ended, state.Phase)
	}
	require.Equal(t, StaleSuspect, state.Phase)
	require.Equal(t, 8, state.StaleRunLength)

	obs := metrics(100, 4)
	obs.Ended = true
	outcome := state.Observe(obs)
	require.Equal(t, ActionFinalize, outcome.Action)
	require.Equal(t, Ended, state.Phase)
}

func TestStalenessAloneNeverEnds(t *testing.T) {
	state := New(Options{})
	rechecks := 0
	for i := 0; i < 100; i++ {
		obs := metrics(250.5, 17)
		obs.Recheck = func() bool {
			rechecks++
			return false
		}
		outcome := state.Observe(obs)
		require.Equal(t, ActionEmit, outcome.Action, "cycle %d", i)
		require.NotEqual(t, Ended, state.Phase)
		require.Less(t, state.StaleRunLength, DefaultStaleThreshold)
	}
	require.Greater(t, rechecks, 0)
}

func TestConfirmedRecheckEnds(t *testing.T) {
	state := New(Options{StaleThreshold: 3})
	confirm := func() bool { return true }

	var outcome Outcome
	cycles := 0
	for state.Phase != Ended && cycles < 10 {
		obs := metrics(10, 1)
		obs.Recheck = confirm
		outcome = state.Observe(obs)
		cycles++
	}
	require.Equal(t, ActionFinalize, outcome.Action)
	// the first cycle only sets the baseline
	require.Equal(t, 4, cycles)
}

func TestChangeResetsRun(t *testing.T) {
	state := New(Options{})
	state.Observe(metrics(10, 1))
	state.Observe(metrics(10, 1))
	state.Observe(metrics(10, 1))
	require.Equal(t, 2, state.StaleRunLength)

	state.Observe(metrics(11, 1))
	require.Equal(t, 0, state.StaleRunLength)
	require.Equal(t, Live, state.Phase)
}

func TestMissResetsRun(t *testing.T) {
	state := New(Options{})
	for i := 0; i < 4; i++ {
		state.Observe(metrics(10, 1))
	}
	require.Equal(t, 3, state.StaleRunLength)
	require.Equal(t, StaleSuspect, state.Phase)

	require.Equal(t, ActionMiss, state.Observe(Observation{}).Action)
	require.Equal(t, 0, state.StaleRunLength)
	require.Equal(t, Live, state.Phase)

	// the same values again start a new baseline
	require.Equal(t, ActionEmit, state.Observe(metrics(10, 1)).Action)
	require.Equal(t, 0, state.StaleRunLength)
	require.Equal(t, Live, state.Phase)

	state.Observe(metrics(10, 1))
	require.Equal(t, 1, state.StaleRunLength)
}

func TestZeroMetricsAreNotStale(t *testing.T) {
	state := New(Options{})
	for i := 0; i < 20; i++ {
		state.Observe(metrics(0, 0))
	}
	require.Equal(t, 0, state.StaleRunLength)

	var sales float64 = 10
	for i := 0; i < 20; i++ {
		state.Observe(Observation{GrossSales: &sales})
	}
	require.Equal(t, 0, state.StaleRunLength)
}

func TestFinalIsIdempotent(t *testing.T) {
	state := New(Options{})
	obs := metrics(10, 1)
	obs.Ended = true
	require.Equal(t, ActionFinalize, state.Observe(obs).Action)
	require.True(t, state.MarkFinalSent())

	for i := 0; i < 5; i++ {
		require.Equal(t, ActionSkip, state.Observe(obs).Action)
		require.Equal(t, ActionSkip, state.Observe(metrics(20, 2)).Action)
	}
	require.False(t, state.MarkFinalSent())
	require.True(t, state.FinalRecordSent)
	require.Equal(t, Ended, state.Phase)
}

func TestMissEscalation(t *testing.T) {
	state := New(Options{})
	for i := 1; i <= 7; i++ {
		outcome := state.Observe(Observation{})
		require.Equal(t, ActionMiss, outcome.Action)
		require.Equal(t, i >= DefaultMissThreshold, outcome.Escalate, "miss %d", i)
	}

	require.Equal(t, ActionEmit, state.Observe(metrics(1, 1)).Action)
	require.Equal(t, 0, state.ConsecutiveMisses)

	// an end banner still ends a session whose metrics are gone
	outcome := state.Observe(Observation{Ended: true})
	require.Equal(t, ActionFinalize, outcome.Action)
}
