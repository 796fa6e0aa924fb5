package cell

import (
	"sync"

	"github.com/cuemby/devicehub/pkg/ports"
)

// Observer is notified synchronously, under the cell's lock released,
// whenever a cell's StateValue changes.
type Observer[T any] func(StateValue[T])

// Cell is a reactive, mutex-guarded container for a StateValue[T]. It is
// born with UNCERTAIN(INITIAL) quality and an initial value, and is
// mutated only through Update/UpdateState/UpdateQuality (spec.md §3
// "Ownership & lifecycle"). Readers never block on writers.
type Cell[T any] struct {
	clock ports.Clock

	mu        sync.RWMutex
	current   StateValue[T]
	observers []Observer[T]
}

// New creates a Cell born with the given initial value and
// UNCERTAIN(INITIAL) quality.
func New[T any](clock ports.Clock, initial T) *Cell[T] {
	now := clock.Now()
	return &Cell[T]{
		clock:   clock,
		current: StateValue[T]{Value: initial, OriginTime: now, ServerTime: now, Quality: InitialQuality},
	}
}

// Get returns the current StateValue without blocking writers.
func (c *Cell[T]) Get() StateValue[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Update sets a new value with GOOD quality and both timestamps at now
// (spec.md §4.E "update(value)").
func (c *Cell[T]) Update(value T) {
	now := c.clock.Now()
	c.set(StateValue[T]{Value: value, OriginTime: now, ServerTime: now, Quality: GoodQuality})
}

// UpdateState replaces the StateValue verbatim ("updateState").
func (c *Cell[T]) UpdateState(sv StateValue[T]) {
	c.set(sv)
}

// UpdateQuality preserves value and timestamps, replacing only quality
// ("updateQuality").
func (c *Cell[T]) UpdateQuality(q Quality) {
	c.mu.Lock()
	next := c.current.WithQuality(q)
	c.current = next
	obs := append([]Observer[T](nil), c.observers...)
	c.mu.Unlock()

	for _, o := range obs {
		if o != nil {
			o(next)
		}
	}
}

func (c *Cell[T]) set(sv StateValue[T]) {
	c.mu.Lock()
	c.current = sv
	obs := append([]Observer[T](nil), c.observers...)
	c.mu.Unlock()

	for _, o := range obs {
		if o != nil {
			o(sv)
		}
	}
}

// Subscribe registers an observer invoked on every subsequent update. It
// returns an unsubscribe function.
func (c *Cell[T]) Subscribe(o Observer[T]) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
	idx := len(c.observers) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.observers) {
			c.observers[idx] = nil
		}
	}
}
