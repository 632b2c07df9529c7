package safety

import (
	"testing"
	"time"

	"funding_arb/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSwitch(consecutive, hourly int) *KillSwitch {
	return NewKillSwitch(KillSwitchConfig{
		MaxConsecutiveFailures: consecutive,
		MaxFailuresPerHour:     hourly,
	}, logging.GetGlobalLogger())
}

func TestKillSwitchTripsOnConsecutiveFailures(t *testing.T) {
	ks := newTestSwitch(3, 10)

	assert.False(t, ks.RecordFailure("a"))
	assert.False(t, ks.RecordFailure("b"))
	assert.True(t, ks.RecordFailure("c"))
	assert.True(t, ks.IsTripped())

	state := ks.Snapshot()
	assert.Equal(t, 3, state.ConsecutiveFailures)
	assert.Contains(t, state.TripReason, "consecutive")
}

func TestKillSwitchSuccessResetsConsecutiveOnly(t *testing.T) {
	ks := newTestSwitch(3, 10)

	ks.RecordFailure("a")
	ks.RecordFailure("b")
	ks.RecordSuccess()

	state := ks.Snapshot()
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.Equal(t, 2, state.WindowedFailures, "window survives a success")
	assert.False(t, ks.IsTripped())
}

func TestKillSwitchTripsOnHourlyWindow(t *testing.T) {
	ks := newTestSwitch(100, 10)

	for i := 0; i < 9; i++ {
		require.False(t, ks.RecordFailure("flake"))
		ks.RecordSuccess()
	}
	assert.True(t, ks.RecordFailure("flake"))

	state := ks.Snapshot()
	assert.Equal(t, 10, state.WindowedFailures)
	assert.Contains(t, state.TripReason, "hour")
}

func TestKillSwitchWindowExpiresOldFailures(t *testing.T) {
	ks := newTestSwitch(100, 10)
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ks.SetClock(func() time.Time { return current })

	for i := 0; i < 9; i++ {
		require.False(t, ks.RecordFailure("flake"))
		ks.RecordSuccess()
	}

	// An hour later the earlier failures age out and the next one is the
	// only member of the window
	current = current.Add(61 * time.Minute)
	assert.False(t, ks.RecordFailure("flake"))
	assert.Equal(t, 1, ks.Snapshot().WindowedFailures)
	assert.False(t, ks.IsTripped())
}

func TestKillSwitchStickyUntilReset(t *testing.T) {
	ks := newTestSwitch(2, 10)

	ks.RecordFailure("a")
	ks.RecordFailure("b")
	require.True(t, ks.IsTripped())

	// Success does not clear the latch
	ks.RecordSuccess()
	assert.True(t, ks.IsTripped())

	ks.Reset()
	assert.False(t, ks.IsTripped())
	state := ks.Snapshot()
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.Empty(t, state.TripReason)
}

func TestKillSwitchManualTrip(t *testing.T) {
	ks := newTestSwitch(3, 10)

	ks.Trip("operator halt")
	require.True(t, ks.IsTripped())
	assert.Equal(t, "operator halt", ks.Snapshot().TripReason)

	// A second trip keeps the original reason
	ks.Trip("later")
	assert.Equal(t, "operator halt", ks.Snapshot().TripReason)
}
