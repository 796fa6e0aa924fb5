// Package fsm implements the generic finite-state-machine engine shared
// by a device's lifecycle FSM and any per-device operational FSM
// (spec.md §4.E). It is grounded on the command-dispatch shape of
// manager.WarrenFSM.Apply, but applies transitions in-process rather than
// through a Raft log.
package fsm

import (
	"fmt"
	"sync"
)

// State is an opaque state name.
type State string

// Event is an opaque trigger name.
type Event string

// Transition describes one edge in the state graph: From, on Event, to
// To, gated by an optional Guard and followed by an optional Action.
type Transition struct {
	From   State
	On     Event
	To     State
	Guard  func(ctx Context) bool
	Action func(ctx Context)
}

// Context is passed to Guard/Action/Hook callbacks, carrying the event
// that triggered the transition and caller-supplied arguments.
type Context struct {
	Event Event
	Args  map[string]any
}

// Definition is an immutable transition table plus initial state.
type Definition struct {
	Initial     State
	Transitions []Transition
}

// Machine is a running instance of a Definition, safe for concurrent
// Fire calls.
type Machine struct {
	def   Definition
	mu    sync.Mutex
	state State

	onEnter map[State][]func(State, Context)
	onExit  map[State][]func(State, Context)
}

// ErrNoTransition is returned when no transition matches the current
// state and event.
type ErrNoTransition struct {
	From State
	On   Event
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("fsm: no transition from %q on %q", e.From, e.On)
}

// ErrGuardRejected is returned when a matching transition's Guard
// returned false.
type ErrGuardRejected struct {
	From State
	On   Event
	To   State
}

func (e *ErrGuardRejected) Error() string {
	return fmt.Sprintf("fsm: transition %q -> %q on %q rejected by guard", e.From, e.To, e.On)
}

// New builds a Machine in def.Initial.
func New(def Definition) *Machine {
	return &Machine{
		def:     def,
		state:   def.Initial,
		onEnter: make(map[State][]func(State, Context)),
		onExit:  make(map[State][]func(State, Context)),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnEnter registers a callback invoked whenever the machine enters s.
func (m *Machine) OnEnter(s State, fn func(from State, ctx Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[s] = append(m.onEnter[s], fn)
}

// OnExit registers a callback invoked whenever the machine leaves s.
func (m *Machine) OnExit(s State, fn func(from State, ctx Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit[s] = append(m.onExit[s], fn)
}

// Fire attempts every transition matching the current state and event,
// in definition order, applying the first whose Guard passes (or that
// has no Guard). It returns the new state, or an error if no transition
// matches or every matching transition's Guard rejected the event.
func (m *Machine) Fire(event Event, args map[string]any) (State, error) {
	ctx := Context{Event: event, Args: args}

	m.mu.Lock()
	from := m.state
	var matched []Transition
	for _, t := range m.def.Transitions {
		if t.From == from && t.On == event {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		m.mu.Unlock()
		return from, &ErrNoTransition{From: from, On: event}
	}

	var chosen *Transition
	for i := range matched {
		t := matched[i]
		if t.Guard == nil || t.Guard(ctx) {
			chosen = &t
			break
		}
	}
	if chosen == nil {
		m.mu.Unlock()
		return from, &ErrGuardRejected{From: from, On: event, To: matched[0].To}
	}

	exitHooks := append([]func(State, Context){}, m.onExit[from]...)
	enterHooks := append([]func(State, Context){}, m.onEnter[chosen.To]...)
	action := chosen.Action
	to := chosen.To
	m.state = to
	m.mu.Unlock()

	for _, h := range exitHooks {
		h(from, ctx)
	}
	if action != nil {
		action(ctx)
	}
	for _, h := range enterHooks {
		h(from, ctx)
	}

	return to, nil
}

// CanFire reports whether event has at least one matching, guard-passing
// transition from the current state, without applying it.
func (m *Machine) CanFire(event Event, args map[string]any) bool {
	ctx := Context{Event: event, Args: args}
	m.mu.Lock()
	from := m.state
	defer m.mu.Unlock()
	for _, t := range m.def.Transitions {
		if t.From == from && t.On == event && (t.Guard == nil || t.Guard(ctx)) {
			return true
		}
	}
	return false
}
