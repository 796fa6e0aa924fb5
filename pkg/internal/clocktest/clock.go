// Package clocktest provides a virtual ports.Clock for deterministic
// tests of FSM timers, guard hold-for windows, and Coordinator deadlines,
// without real sleeps (spec.md §8 "no real-time waits in tests").
package clocktest

import (
	"sync"
	"time"

	"github.com/cuemby/devicehub/pkg/ports"
)

// Clock is a manually-advanced ports.Clock. New starts it at the Unix
// epoch; use NewAt to start elsewhere.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// New returns a Clock starting at the Unix epoch.
func New() *Clock { return NewAt(time.Unix(0, 0).UTC()) }

// NewAt returns a Clock starting at t.
func NewAt(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if !deadline.After(c.now) {
		ch <- deadline
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

// NewTimer returns a controllable Timer tied to this Clock.
func (c *Clock) NewTimer(d time.Duration) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if !deadline.After(c.now) {
		ch <- deadline
	} else {
		c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	}
	return &virtualTimer{clock: c, ch: ch}
}

// Advance moves the clock forward by d, firing any waiter whose deadline
// has been reached, in deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var remaining []waiter
	var fire []waiter
	for _, w := range c.waiters {
		if !w.deadline.After(now) {
			fire = append(fire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	for _, w := range fire {
		w.ch <- now
	}
}

type virtualTimer struct {
	clock *Clock
	ch    chan time.Time
}

func (t *virtualTimer) C() <-chan time.Time { return t.ch }

func (t *virtualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, w := range t.clock.waiters {
		if w.ch == t.ch {
			t.clock.waiters = append(t.clock.waiters[:i], t.clock.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	active := t.Stop()
	t.clock.mu.Lock()
	deadline := t.clock.now.Add(d)
	t.clock.waiters = append(t.clock.waiters, waiter{deadline: deadline, ch: t.ch})
	t.clock.mu.Unlock()
	return active
}
