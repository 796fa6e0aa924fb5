package blueprint

import "github.com/cuemby/devicehub/pkg/fsm"

// Lifecycle states and events are the fixed vocabulary from spec.md §3:
// Detached -> Attaching -> Stopped -> Starting -> Running -> Stopping ->
// Stopped, with terminal Failed reachable from any operational state,
// and Detaching -> Detached.
const (
	StateDetached  fsm.State = "Detached"
	StateAttaching fsm.State = "Attaching"
	StateStopped   fsm.State = "Stopped"
	StateStarting  fsm.State = "Starting"
	StateRunning   fsm.State = "Running"
	StateStopping  fsm.State = "Stopping"
	StateDetaching fsm.State = "Detaching"
	StateFailed    fsm.State = "Failed"

	EventAttach fsm.Event = "Attach"
	EventStart  fsm.Event = "Start"
	EventStop   fsm.Event = "Stop"
	EventReset  fsm.Event = "Reset"
	EventDetach fsm.Event = "Detach"
	EventFail   fsm.Event = "Fail"
)

// operationalStates are every state from which Fail is reachable
// (spec.md §3: "A Failed state is reachable from any operational state").
var operationalStates = []fsm.State{
	StateAttaching, StateStopped, StateStarting, StateRunning, StateStopping,
}

// LifecycleDefinition builds the fixed lifecycle FSM transition table
// shared by every device, regardless of blueprint.
func LifecycleDefinition() fsm.Definition {
	transitions := []fsm.Transition{
		{From: StateDetached, On: EventAttach, To: StateAttaching},
		{From: StateAttaching, On: EventReset, To: StateStopped},
		{From: StateStopped, On: EventStart, To: StateStarting},
		{From: StateStarting, On: EventReset, To: StateRunning},
		{From: StateRunning, On: EventStop, To: StateStopping},
		{From: StateStopping, On: EventReset, To: StateStopped},
		{From: StateStopped, On: EventDetach, To: StateDetaching},
		{From: StateDetaching, On: EventReset, To: StateDetached},
		{From: StateFailed, On: EventReset, To: StateStopped},
	}
	for _, s := range operationalStates {
		transitions = append(transitions, fsm.Transition{From: s, On: EventFail, To: StateFailed})
	}
	return fsm.Definition{Initial: StateDetached, Transitions: transitions}
}

// IsOperational reports whether s is one of the states a device can be
// driven to Failed from.
func IsOperational(s fsm.State) bool {
	for _, o := range operationalStates {
		if o == s {
			return true
		}
	}
	return false
}
