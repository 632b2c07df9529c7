// Package safety implements the kill switch and margin monitor that gate
// all new risk-taking.
package safety

import (
	"sync"
	"time"

	"funding_arb/internal/core"
	"funding_arb/pkg/telemetry"
)

const failureWindow = time.Hour

// KillSwitchConfig bounds the failure counters
type KillSwitchConfig struct {
	MaxConsecutiveFailures int
	MaxFailuresPerHour     int
}

// State is a point-in-time snapshot of the kill switch counters
type State struct {
	ConsecutiveFailures int
	WindowedFailures    int
	Tripped             bool
	TripReason          string
}

// KillSwitch latches on repeated failures. Success resets the consecutive
// counter but never the sliding window; a tripped switch stays tripped
// until an explicit operator Reset.
type KillSwitch struct {
	mu sync.Mutex

	config KillSwitchConfig
	now    func() time.Time

	consecutiveFailures int
	failureTimes        []time.Time
	tripped             bool
	tripReason          string

	logger core.ILogger
}

// NewKillSwitch creates an armed kill switch
func NewKillSwitch(cfg KillSwitchConfig, logger core.ILogger) *KillSwitch {
	return &KillSwitch{
		config: cfg,
		now:    time.Now,
		logger: logger.WithField("component", "kill_switch"),
	}
}

// SetClock overrides the time source for tests
func (k *KillSwitch) SetClock(now func() time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = now
}

// RecordSuccess resets the consecutive failure counter
func (k *KillSwitch) RecordSuccess() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.consecutiveFailures = 0
}

// RecordFailure records a failure and returns true if the switch tripped
func (k *KillSwitch) RecordFailure(reason string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.consecutiveFailures++
	k.failureTimes = append(k.failureTimes, now)
	k.pruneLocked(now)

	if k.config.MaxConsecutiveFailures > 0 && k.consecutiveFailures >= k.config.MaxConsecutiveFailures {
		k.tripLocked("consecutive failures: " + reason)
		return true
	}
	if k.config.MaxFailuresPerHour > 0 && len(k.failureTimes) >= k.config.MaxFailuresPerHour {
		k.tripLocked("too many failures in one hour: " + reason)
		return true
	}
	return false
}

// Trip latches the switch with the given reason
func (k *KillSwitch) Trip(reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tripLocked(reason)
}

func (k *KillSwitch) tripLocked(reason string) {
	if k.tripped {
		return
	}
	k.tripped = true
	k.tripReason = reason
	k.logger.Error("KILL SWITCH TRIPPED", "reason", reason)
	telemetry.GetGlobalMetrics().SetKillSwitchActive(true)
}

// Reset clears the latch. Operator action only; never called by the
// controller.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tripped = false
	k.tripReason = ""
	k.consecutiveFailures = 0
	k.logger.Warn("Kill switch reset by operator")
	telemetry.GetGlobalMetrics().SetKillSwitchActive(false)
}

// IsTripped reports whether the switch is latched
func (k *KillSwitch) IsTripped() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tripped
}

// Snapshot returns the current counters
func (k *KillSwitch) Snapshot() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pruneLocked(k.now())
	return State{
		ConsecutiveFailures: k.consecutiveFailures,
		WindowedFailures:    len(k.failureTimes),
		Tripped:             k.tripped,
		TripReason:          k.tripReason,
	}
}

func (k *KillSwitch) pruneLocked(now time.Time) {
	cutoff := now.Add(-failureWindow)
	kept := k.failureTimes[:0]
	for _, t := range k.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	k.failureTimes = kept
}
