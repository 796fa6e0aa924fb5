// Package coordinator implements the Transaction Coordinator
// (spec.md §4.H): a workflow engine that executes a TransactionPlan tree
// against a Hub with Saga-style compensating rollback, idempotency keys,
// per-node retry/timeout policies, deadline enforcement, and a result
// cache for actions declaring a CachePolicy. Grounded on pkg/scheduler
// and pkg/reconciler's periodic-cycle shape for the deadline-enforcement
// ticker, and on pkg/manager.WarrenFSM.Apply's command-dispatch switch
// for the plan node walk.
package coordinator

import (
	"time"

	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
)

// NodeKind discriminates TransactionPlan node variants (spec.md §3
// "TransactionPlan").
type NodeKind int

const (
	NodeSequence NodeKind = iota
	NodeParallel
	NodeCondition
	NodeLoop
	NodeDelay
	NodeAwaitPredicate
	NodeAwaitSignal
	NodeInvoke
	NodeRunTask
	NodeWriteProperty
	NodeAttach
	NodeDetach
	NodeStart
	NodeStop
)

// FailureStrategy governs how a Parallel node reacts to a child failure
// (spec.md §4.H "Parallel").
type FailureStrategy int

const (
	FailFast FailureStrategy = iota
	CollectAll
	BestEffort
)

// CompensationOrder is carried on a Parallel node. rollback does not read
// it: a run unwinds its single compensation stack one compensation at a
// time in reverse completion order, so ParallelCompensation unwinds the
// same way as SequentialReverse.
type CompensationOrder int

const (
	SequentialReverse CompensationOrder = iota
	ParallelCompensation
)

// CompensationPolicy governs what happens when a compensation action
// itself fails during rollback (spec.md §4.H step 5).
type CompensationPolicy int

const (
	CompensationAbort CompensationPolicy = iota
	CompensationContinueAndFlag
	CompensationRetry
)

// BackoffStrategy is the retry backoff shape for a node's RetryPolicy.
type BackoffStrategy int

const (
	BackoffFixed BackoffStrategy = iota
	BackoffLinear
	BackoffExponential
	BackoffFibonacci
)

// RetryPolicy configures a node's retry attempts on failure (spec.md
// §4.H step 3 "retry policy").
type RetryPolicy struct {
	MaxAttempts int
	Strategy    BackoffStrategy
	Base        time.Duration
	JitterMax   time.Duration
}

// Plan is one node of a TransactionPlan tree. Only the fields relevant
// to Kind are populated; Plan is a tagged union rather than an
// interface hierarchy so the tree can be built, inspected, and
// (eventually) serialized uniformly.
type Plan struct {
	Kind NodeKind

	Key                string
	Compensation       *Plan
	CompensationPolicy CompensationPolicy
	Timeout            time.Duration
	Retry              *RetryPolicy

	// Sequence / Parallel
	Children          []*Plan
	FailureStrategy   FailureStrategy
	CompensationOrder CompensationOrder

	// Condition
	PredicateDevice   name.Name
	PredicateProperty name.Name
	ExpectedValue     meta.Meta
	Then              *Plan
	Else              *Plan

	// Loop
	IterableKey string
	LoopVar     string
	Body        *Plan

	// Delay
	Delay time.Duration

	// AwaitPredicate
	AwaitDevice   name.Name
	AwaitProperty name.Name
	AwaitTimeout  time.Duration

	// AwaitSignal
	SignalID    string
	Description string

	// Invoke
	Device    name.Name
	Action    name.Name
	Input     meta.Meta
	OutputKey string

	// RunTask
	TaskBlueprintID string
	TaskInput       meta.Meta

	// WriteProperty
	Property name.Name
	Value    meta.Meta

	// Attach / Detach / Start / Stop
	TargetDevice name.Name
	BlueprintID  string
}

// Deadline is the plan-level absolute wall-clock cutoff (spec.md §4.H
// step 2), bounded by the ExecContext's deadline if tighter.
type Deadline struct {
	At    time.Time
	IsSet bool
}
