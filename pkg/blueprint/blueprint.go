// Package blueprint defines the immutable, serializable device
// specification a Hub instantiates devices from (spec.md §3, §4.F),
// grounded on the declarative node Config shape of pkg/manager/manager.go
// and the YAML-driven bootstrap catalogs it loads.
package blueprint

import (
	"fmt"
	"time"

	"github.com/cuemby/devicehub/pkg/descriptor"
	"github.com/cuemby/devicehub/pkg/fsm"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
)

// ID identifies a Blueprint within a BlueprintRegistry.
type ID string

// PropertyKind classifies a property's data-flow role (spec.md §3).
type PropertyKind int

const (
	KindPhysical PropertyKind = iota
	KindLogical
	KindDerived
	KindPredicate
)

func (k PropertyKind) String() string {
	switch k {
	case KindPhysical:
		return "PHYSICAL"
	case KindLogical:
		return "LOGICAL"
	case KindDerived:
		return "DERIVED"
	case KindPredicate:
		return "PREDICATE"
	default:
		return "UNKNOWN"
	}
}

// ReadHandle executes a PHYSICAL property's read logic.
type ReadHandle func(ctx ExecContext) (meta.Meta, error)

// WriteHandle executes a property's write logic after validation rules
// have passed.
type WriteHandle func(ctx ExecContext, value meta.Meta) error

// ActionHandle executes an action's business logic.
type ActionHandle func(ctx ExecContext, input meta.Meta) (meta.Meta, error)

// DerivedFactory produces a derived/predicate property's transform over
// its source cells' current values, in source declaration order.
type DerivedFactory func(values []meta.Meta) (meta.Meta, error)

// ExecContext carries the caller, correlation id, target device, and
// effective deadline through a read/write/execute call (spec.md §4.E,
// §9 "ExecutionContext"). Device lets a Driver (e.g.
// pkg/adapters/containerdriver) address per-device backing state
// without threading an address through every Read/Write/Handle closure
// signature.
type ExecContext struct {
	Principal    string
	Device       name.Name
	Correlation  name.CorrelationID
	TraceHeaders map[string]string
	Deadline     time.Time
}

// PropertySpec is a blueprint's declaration of one property.
type PropertySpec struct {
	Name            string
	Kind            PropertyKind
	ValueTypeName   string
	Readable        bool
	Mutable         bool
	Timeout         *DurationSpec
	RequiredLocks   []string
	Descriptor      descriptor.PropertyDescriptor
	ValidationRules []meta.Rule
	Permissions     []string
	Tags            []string
	Persistent      bool
	Transient       bool
	Unit            string

	Read  ReadHandle
	Write WriteHandle

	// Dependencies lists source property names for DERIVED/PREDICATE kinds.
	Dependencies []string
	Derive       DerivedFactory
	Initial      meta.Meta
}

// DurationSpec avoids importing time into the declarative spec surface;
// Millis is resolved to a time.Duration by the runtime.
type DurationSpec struct {
	Millis int64
}

// CacheScope is the sharing granularity of a cached action result
// (spec.md §4.H "Caching").
type CacheScope int

const (
	ScopePerHub CacheScope = iota
	ScopePerPrincipal
	ScopeGlobal
)

// CachePolicy configures result caching for an action declaring one
// (spec.md §4.H "Caching"): the Coordinator consults its ResultCache
// keyed by (action, input, principal-if-scoped) before invoking the
// action, and invalidates on broker events matching InvalidationEvents.
type CachePolicy struct {
	TTL                time.Duration
	Scope              CacheScope
	InvalidationEvents []string
}

// ActionSpec is a blueprint's declaration of one action.
type ActionSpec struct {
	Name               string
	Descriptor         descriptor.ActionDescriptor
	DefaultTimeout     *DurationSpec
	ExecutionDeadline  *DurationSpec
	RequiredLocks      []string
	Permissions        []string
	RequiredPredicates []string
	PossibleFaults     []string
	Cache              *CachePolicy
	Handle             ActionHandle
}

// StreamSpec declares a binary/streaming content channel (spec.md §6
// BinaryReady/BinaryRequest).
type StreamSpec struct {
	Name string
}

// PeerBlueprint declares a named reference to a remote device reachable
// through a PeerConnection.
type PeerBlueprint struct {
	Name         string
	PeerName     string
	RemoteSource func() name.Address
}

// LifecycleMode governs how a child's lifecycle relates to its parent's
// (spec.md §4.F).
type LifecycleMode int

const (
	Linked LifecycleMode = iota
	Independent
)

// ErrorPolicy governs what a parent does when a child fails
// (spec.md §4.F).
type ErrorPolicy int

const (
	Restart ErrorPolicy = iota
	StopPolicy
	Escalate
	Ignore
)

// BackoffStrategy names a restart/retry delay curve.
type BackoffStrategy int

const (
	Linear BackoffStrategy = iota
	Exponential
	Fibonacci
)

// RestartPolicy configures automatic recovery from Failed (spec.md §4.F).
type RestartPolicy struct {
	MaxAttempts    int
	Strategy       BackoffStrategy
	Base           DurationSpec
	ResetOnSuccess bool
}

// ChildConfig is either Local (instantiated from a blueprint id) or
// Remote (resolved through a PeerConnection), never both (spec.md §3).
type ChildConfig struct {
	Local  *LocalChildConfig
	Remote *RemoteChildConfig
}

// LocalChildConfig instantiates a child device in-process from a
// blueprint.
type LocalChildConfig struct {
	BlueprintID   ID
	LifecycleMode LifecycleMode
	LazyAttach    bool
	OnError       ErrorPolicy
	Restart       RestartPolicy
	Bindings      []PropertyBinding
	Config        meta.Meta
}

// RemoteChildConfig resolves a child device through a named peer
// connection.
type RemoteChildConfig struct {
	PeerName      string
	AddressSource func() name.Address
}

// BindingKind distinguishes the three PropertyBinding variants
// (spec.md §3).
type BindingKind int

const (
	BindConst BindingKind = iota
	BindSource
	BindTransformed
)

// Transformer maps a parent value to a child value for a Transformed
// binding (e.g. linear a*x+b, toString).
type Transformer func(source meta.Meta, params meta.Meta) (meta.Meta, error)

// PropertyBinding links a parent property to a child property
// (spec.md §3, §4.F).
type PropertyBinding struct {
	Kind          BindingKind
	Source        name.Name
	Target        name.Name
	ConstValue    meta.Meta
	TransformerID string
	Transformer   Transformer
	Params        meta.Meta
}

// FSMBuilder produces an fsm.Definition; the lifecycle builder is fixed
// per-blueprint-instance (spec.md §3 "lifecycleFsmBuilder"), the
// operational builder is user-defined and optional.
type FSMBuilder func() fsm.Definition

// Blueprint is the immutable device specification (spec.md §3).
type Blueprint struct {
	ID       ID
	Version  string
	Tags     []string
	Features map[string]struct{}

	Children   map[string]ChildConfig
	Properties map[string]PropertySpec
	Actions    map[string]ActionSpec
	Streams    map[string]StreamSpec
	Peers      map[string]PeerBlueprint

	Meta meta.Meta

	LifecycleFSMBuilder   FSMBuilder
	OperationalFSMBuilder FSMBuilder

	Driver string
}

// Validate checks the blueprint invariants from spec.md §3 that are
// visible on the blueprint itself: disjoint names, a local or remote
// config on every child, a parent property behind every source or
// transformed binding, and a PREDICATE property behind every required
// predicate. It does not check binding targets on the child (existence,
// mutability) or feature consistency, and neither it nor Hub.Attach
// checks child-composition acyclicity.
func (b Blueprint) Validate() error {
	seen := make(map[string]string)
	record := func(n, kind string) error {
		if prev, ok := seen[n]; ok {
			return fmt.Errorf("blueprint %s: name %q used by both %s and %s", b.ID, n, prev, kind)
		}
		seen[n] = kind
		return nil
	}
	for n := range b.Properties {
		if err := record(n, "property"); err != nil {
			return err
		}
	}
	for n := range b.Actions {
		if err := record(n, "action"); err != nil {
			return err
		}
	}
	for n := range b.Streams {
		if err := record(n, "stream"); err != nil {
			return err
		}
	}
	for n := range b.Children {
		if err := record(n, "child"); err != nil {
			return err
		}
	}
	for n := range b.Peers {
		if err := record(n, "peer"); err != nil {
			return err
		}
	}

	for childName, cc := range b.Children {
		if cc.Local == nil && cc.Remote == nil {
			return fmt.Errorf("blueprint %s: child %q has neither local nor remote config", b.ID, childName)
		}
		if cc.Local == nil {
			continue
		}
		for _, bind := range cc.Local.Bindings {
			if bind.Kind == BindSource || bind.Kind == BindTransformed {
				if _, ok := b.Properties[bind.Source.String()]; !ok {
					return fmt.Errorf("blueprint %s: binding source %q not found on parent", b.ID, bind.Source)
				}
			}
		}
	}

	for actionName, a := range b.Actions {
		for _, pred := range a.RequiredPredicates {
			p, ok := b.Properties[pred]
			if !ok {
				return fmt.Errorf("blueprint %s: action %q requires predicate %q, no such property", b.ID, actionName, pred)
			}
			if p.Kind != KindPredicate {
				return fmt.Errorf("blueprint %s: action %q requires predicate %q, but it is %s not PREDICATE", b.ID, actionName, pred, p.Kind)
			}
		}
	}

	return nil
}

// HasFeature reports whether the blueprint declares capability.
func (b Blueprint) HasFeature(capability string) bool {
	_, ok := b.Features[capability]
	return ok
}
