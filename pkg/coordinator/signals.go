package coordinator

import (
	"sync"

	"github.com/cuemby/devicehub/pkg/meta"
)

// signalTable holds one-shot receivers keyed by signalId, realizing
// AwaitSignal's "an external caller releases it" (spec.md §4.H).
type signalTable struct {
	mu      sync.Mutex
	waiters map[string][]chan meta.Meta
}

func newSignalTable() *signalTable {
	return &signalTable{waiters: make(map[string][]chan meta.Meta)}
}

// wait registers a one-shot receiver for signalID and returns the
// channel it will be delivered on.
func (s *signalTable) wait(signalID string) chan meta.Meta {
	ch := make(chan meta.Meta, 1)
	s.mu.Lock()
	s.waiters[signalID] = append(s.waiters[signalID], ch)
	s.mu.Unlock()
	return ch
}

// Release delivers value to every receiver currently waiting on
// signalID, then clears the registration.
func (s *signalTable) Release(signalID string, value meta.Meta) {
	s.mu.Lock()
	chans := s.waiters[signalID]
	delete(s.waiters, signalID)
	s.mu.Unlock()

	for _, ch := range chans {
		ch <- value
		close(ch)
	}
}
