package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// lockTable is a per-device table of named resource locks. Operations
// acquire their declared requiredLocks sorted lexicographically by id to
// establish a globally-consistent order (spec.md §5 "Named resource
// locks ... acquired in a globally-consistent order"), all bounded by the
// caller's context, and release in reverse on every exit path.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (lt *lockTable) get(id string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	m, ok := lt.locks[id]
	if !ok {
		m = &sync.Mutex{}
		lt.locks[id] = m
	}
	return m
}

// acquireAll sorts ids, acquires each (respecting ctx cancellation), and
// returns a release function that unlocks in reverse order. On a timed
// out acquisition it releases whatever it already holds and returns an
// error.
func (lt *lockTable) acquireAll(ctx context.Context, ids []string) (release func(), err error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	release = func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}

	for _, id := range sorted {
		m := lt.get(id)
		acquired := make(chan struct{})
		go func() {
			m.Lock()
			close(acquired)
		}()
		select {
		case <-acquired:
			held = append(held, m)
		case <-ctx.Done():
			release()
			// The acquiring goroutine may still land the lock after we
			// give up on it; drain and immediately release so it never
			// leaks held forever.
			go func() { <-acquired; m.Unlock() }()
			return func() {}, fmt.Errorf("device: lock %q acquisition cancelled: %w", id, ctx.Err())
		}
	}

	return release, nil
}
