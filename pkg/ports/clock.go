// Package ports declares the external collaborator interfaces the core
// consumes but does not implement: MessageBroker, PeerConnection, Port
// family, SnapshotStore, BlueprintRegistry, AuditLogService,
// MetricCollector, Clock, AuthorizationService, and TaskExecutor
// (spec.md §6, §9). Reference adapters live under pkg/adapters/...; this
// package only defines the contracts.
package ports

import "time"

// Clock abstracts wall-clock access so FSM timers, guard hold-for windows,
// restart backoff, and the Coordinator's deadline tick can be driven
// deterministically under test (spec.md §9).
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of time.Timer behavior Clock exposes, so a virtual
// clock implementation can control firing without real sleeps.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// SystemClock is the default Clock, backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (SystemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time        { return s.t.C }
func (s *systemTimer) Stop() bool                 { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
