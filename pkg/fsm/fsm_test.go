package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stateIdle    State = "IDLE"
	stateRunning State = "RUNNING"
	stateStopped State = "STOPPED"
	stateFailed  State = "FAILED"

	eventStart Event = "START"
	eventStop  Event = "STOP"
	eventFail  Event = "FAIL"
)

func simpleDef() Definition {
	return Definition{
		Initial: stateIdle,
		Transitions: []Transition{
			{From: stateIdle, On: eventStart, To: stateRunning},
			{From: stateRunning, On: eventStop, To: stateStopped},
			{From: stateRunning, On: eventFail, To: stateFailed},
		},
	}
}

func TestNewStartsAtInitial(t *testing.T) {
	m := New(simpleDef())
	assert.Equal(t, stateIdle, m.State())
}

func TestFireAppliesMatchingTransition(t *testing.T) {
	m := New(simpleDef())
	to, err := m.Fire(eventStart, nil)
	require.NoError(t, err)
	assert.Equal(t, stateRunning, to)
	assert.Equal(t, stateRunning, m.State())
}

func TestFireExhaustiveTransitionTable(t *testing.T) {
	def := simpleDef()
	for _, tc := range []struct {
		from State
		on   Event
		want State
	}{
		{stateIdle, eventStart, stateRunning},
		{stateRunning, eventStop, stateStopped},
		{stateRunning, eventFail, stateFailed},
	} {
		m := &Machine{def: def, state: tc.from, onEnter: map[State][]func(State, Context){}, onExit: map[State][]func(State, Context){}}
		to, err := m.Fire(tc.on, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, to)
	}
}

func TestFireNoMatchingTransition(t *testing.T) {
	m := New(simpleDef())
	_, err := m.Fire(eventStop, nil)
	require.Error(t, err)
	var noTrans *ErrNoTransition
	require.ErrorAs(t, err, &noTrans)
	assert.Equal(t, stateIdle, noTrans.From)
	assert.Equal(t, eventStop, noTrans.On)
	assert.Equal(t, stateIdle, m.State(), "failed Fire must not change state")
}

func TestFireGuardRejectsTransition(t *testing.T) {
	def := Definition{
		Initial: stateIdle,
		Transitions: []Transition{
			{From: stateIdle, On: eventStart, To: stateRunning, Guard: func(ctx Context) bool { return false }},
		},
	}
	m := New(def)
	_, err := m.Fire(eventStart, nil)
	require.Error(t, err)
	var rejected *ErrGuardRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, stateIdle, m.State())
}

func TestFirstPassingGuardWins(t *testing.T) {
	def := Definition{
		Initial: stateIdle,
		Transitions: []Transition{
			{From: stateIdle, On: eventStart, To: stateFailed, Guard: func(ctx Context) bool { return false }},
			{From: stateIdle, On: eventStart, To: stateRunning, Guard: func(ctx Context) bool { return true }},
			{From: stateIdle, On: eventStart, To: stateStopped},
		},
	}
	m := New(def)
	to, err := m.Fire(eventStart, nil)
	require.NoError(t, err)
	assert.Equal(t, stateRunning, to)
}

func TestGuardReceivesEventAndArgs(t *testing.T) {
	var seenEvent Event
	var seenArgs map[string]any
	def := Definition{
		Initial: stateIdle,
		Transitions: []Transition{
			{From: stateIdle, On: eventStart, To: stateRunning, Guard: func(ctx Context) bool {
				seenEvent = ctx.Event
				seenArgs = ctx.Args
				return true
			}},
		},
	}
	m := New(def)
	_, err := m.Fire(eventStart, map[string]any{"force": true})
	require.NoError(t, err)
	assert.Equal(t, eventStart, seenEvent)
	assert.Equal(t, true, seenArgs["force"])
}

func TestActionRunsAfterStateChangeBetweenExitAndEnterHooks(t *testing.T) {
	var order []string
	def := Definition{
		Initial: stateIdle,
		Transitions: []Transition{
			{From: stateIdle, On: eventStart, To: stateRunning, Action: func(ctx Context) {
				order = append(order, "action")
			}},
		},
	}
	m := New(def)
	m.OnExit(stateIdle, func(from State, ctx Context) { order = append(order, "exit") })
	m.OnEnter(stateRunning, func(from State, ctx Context) { order = append(order, "enter") })

	_, err := m.Fire(eventStart, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"exit", "action", "enter"}, order)
}

func TestOnEnterReceivesFromState(t *testing.T) {
	var gotFrom State
	m := New(simpleDef())
	m.OnEnter(stateRunning, func(from State, ctx Context) { gotFrom = from })
	_, err := m.Fire(eventStart, nil)
	require.NoError(t, err)
	assert.Equal(t, stateIdle, gotFrom)
}

func TestMultipleHooksForSameState(t *testing.T) {
	var calls int
	m := New(simpleDef())
	m.OnEnter(stateRunning, func(from State, ctx Context) { calls++ })
	m.OnEnter(stateRunning, func(from State, ctx Context) { calls++ })
	_, err := m.Fire(eventStart, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCanFireDoesNotMutateState(t *testing.T) {
	m := New(simpleDef())
	assert.True(t, m.CanFire(eventStart, nil))
	assert.False(t, m.CanFire(eventStop, nil))
	assert.Equal(t, stateIdle, m.State(), "CanFire must not apply the transition")
}

func TestCanFireRespectsGuard(t *testing.T) {
	def := Definition{
		Initial: stateIdle,
		Transitions: []Transition{
			{From: stateIdle, On: eventStart, To: stateRunning, Guard: func(ctx Context) bool { return false }},
		},
	}
	m := New(def)
	assert.False(t, m.CanFire(eventStart, nil))
}
