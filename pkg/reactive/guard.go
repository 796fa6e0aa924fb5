// Package reactive implements timed guards that post events into a
// device's operational FSM when a predicate holds for long enough
// (spec.md §4.G), grounded on pkg/health's consecutive-failure counting
// loop, repurposed here as a hold-for timer driven by cell observation
// instead of periodic polling.
package reactive

import (
	"sync"

	"github.com/cuemby/devicehub/pkg/cell"
	"github.com/cuemby/devicehub/pkg/fsm"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/ports"
)

// OperationalFSM is the subset of fsm.Machine a Guard needs: firing
// events and observing the current state to honor onlyInStates.
type OperationalFSM interface {
	State() fsm.State
	Fire(event fsm.Event, args map[string]any) (fsm.State, error)
}

// Guard subscribes to a boolean predicate cell; when it transitions to
// true and stays true for HoldFor, and the operational FSM (if OnlyIn is
// non-empty) is currently in one of OnlyIn, it posts PostEvent
// (spec.md §4.G).
type Guard struct {
	PredicateCell *cell.Cell[meta.Meta]
	holdForFn     func() ports.Timer
	Clock         ports.Clock
	PostEvent     fsm.Event
	EventMeta     map[string]any
	OnlyIn        []fsm.State
	FSM           OperationalFSM

	mu    sync.Mutex
	timer ports.Timer
	unsub func()
}

// NewGuard builds a Guard. holdFor is called each time the predicate
// transitions to true, to obtain a fresh hold-for timer (spec.md §4.G).
func NewGuard(predicateCell *cell.Cell[meta.Meta], clk ports.Clock, holdFor func() ports.Timer, postEvent fsm.Event, eventMeta map[string]any, onlyIn []fsm.State, machine OperationalFSM) *Guard {
	return &Guard{
		PredicateCell: predicateCell,
		Clock:         clk,
		holdForFn:     holdFor,
		PostEvent:     postEvent,
		EventMeta:     eventMeta,
		OnlyIn:        onlyIn,
		FSM:           machine,
	}
}

// Start begins observing the predicate cell.
func (g *Guard) Start() {
	last := false
	g.unsub = g.PredicateCell.Subscribe(func(sv cell.StateValue[meta.Meta]) {
		b, _ := sv.Value.BoolValue()
		if b == last {
			return
		}
		last = b
		if b {
			g.armTimer()
		} else {
			g.cancelTimer()
		}
	})
}

// Stop cancels any pending timer and unsubscribes.
func (g *Guard) Stop() {
	g.cancelTimer()
	if g.unsub != nil {
		g.unsub()
	}
}

func (g *Guard) armTimer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = g.holdForFn()
	t := g.timer
	go func() {
		if _, ok := <-t.C(); !ok {
			return
		}
		g.fire()
	}()
}

func (g *Guard) cancelTimer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Guard) fire() {
	if len(g.OnlyIn) > 0 {
		cur := g.FSM.State()
		allowed := false
		for _, s := range g.OnlyIn {
			if s == cur {
				allowed = true
				break
			}
		}
		if !allowed {
			return
		}
	}
	g.FSM.Fire(g.PostEvent, g.EventMeta)
}

// ValueChangeGuard keeps a sliding window of the last N StateValues of a
// source cell and invokes a named historical predicate against the
// window on every update (spec.md §4.G).
type ValueChangeGuard struct {
	SourceCell *cell.Cell[meta.Meta]
	WindowSize int
	Predicate  func(window []cell.StateValue[meta.Meta]) bool
	OnMatch    func()

	mu     sync.Mutex
	window []cell.StateValue[meta.Meta]
	unsub  func()
}

// Start begins observing the source cell and evaluating Predicate over
// the trailing window after each update.
func (g *ValueChangeGuard) Start() {
	g.unsub = g.SourceCell.Subscribe(func(sv cell.StateValue[meta.Meta]) {
		g.mu.Lock()
		g.window = append(g.window, sv)
		if len(g.window) > g.WindowSize {
			g.window = g.window[len(g.window)-g.WindowSize:]
		}
		snapshot := append([]cell.StateValue[meta.Meta](nil), g.window...)
		g.mu.Unlock()

		if g.Predicate(snapshot) && g.OnMatch != nil {
			g.OnMatch()
		}
	})
}

// Stop unsubscribes from the source cell.
func (g *ValueChangeGuard) Stop() {
	if g.unsub != nil {
		g.unsub()
	}
}
