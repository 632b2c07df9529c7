package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	sc := newSymbolContext()
	require.Equal(t, StateIdle, sc.state)

	for _, next := range []SymbolState{StateEntering, StateHedged, StateRebalancing, StateHedged, StateExiting, StateIdle} {
		require.NoError(t, sc.transition(next))
	}
	assert.Equal(t, StateIdle, sc.state)
}

func TestLifecycleFallbacks(t *testing.T) {
	// Failed entry returns to idle
	sc := newSymbolContext()
	require.NoError(t, sc.transition(StateEntering))
	require.NoError(t, sc.transition(StateIdle))

	// Failed exit returns to hedged
	sc = newSymbolContext()
	require.NoError(t, sc.transition(StateEntering))
	require.NoError(t, sc.transition(StateHedged))
	require.NoError(t, sc.transition(StateExiting))
	require.NoError(t, sc.transition(StateHedged))
}

func TestLifecycleRejectsJumps(t *testing.T) {
	tests := []struct {
		name string
		from SymbolState
		to   SymbolState
	}{
		{"idle to hedged", StateIdle, StateHedged},
		{"idle to exiting", StateIdle, StateExiting},
		{"entering to rebalancing", StateEntering, StateRebalancing},
		{"hedged to entering", StateHedged, StateEntering},
		{"rebalancing to exiting", StateRebalancing, StateExiting},
		{"exiting to rebalancing", StateExiting, StateRebalancing},
		{"idle to idle", StateIdle, StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &symbolContext{state: tt.from}
			err := sc.transition(tt.to)
			require.Error(t, err)
			assert.Equal(t, tt.from, sc.state, "failed transition must not move the state")
		})
	}
}
