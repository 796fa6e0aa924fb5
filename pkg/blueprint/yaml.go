package blueprint

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/devicehub/pkg/meta"
)

// wireBlueprint is the declarative, catalog-friendly projection of a
// Blueprint: everything that is pure data. Handle/Derive/Transformer
// function fields are not representable on the wire; they are filled in
// by a registered Driver (see driver.go) after Decode.
type wireBlueprint struct {
	ID       string   `yaml:"id"`
	Version  string   `yaml:"version"`
	Tags     []string `yaml:"tags,omitempty"`
	Features []string `yaml:"features,omitempty"`
	Driver   string   `yaml:"driver,omitempty"`

	Properties map[string]wireProperty `yaml:"properties,omitempty"`
	Actions    map[string]wireAction   `yaml:"actions,omitempty"`
	Streams    []string                `yaml:"streams,omitempty"`
	Children   map[string]wireChild    `yaml:"children,omitempty"`
}

type wireProperty struct {
	Kind          string   `yaml:"kind"`
	ValueTypeName string   `yaml:"valueType"`
	Readable      bool     `yaml:"readable"`
	Mutable       bool     `yaml:"mutable"`
	Unit          string   `yaml:"unit,omitempty"`
	Dependencies  []string `yaml:"dependencies,omitempty"`
	Persistent    bool     `yaml:"persistent,omitempty"`
	RequiredLocks []string `yaml:"requiredLocks,omitempty"`
}

type wireAction struct {
	DefaultTimeoutMs    int64    `yaml:"defaultTimeoutMs,omitempty"`
	ExecutionDeadlineMs int64    `yaml:"executionDeadlineMs,omitempty"`
	RequiredLocks       []string `yaml:"requiredLocks,omitempty"`
	RequiredPredicates  []string `yaml:"requiredPredicates,omitempty"`
}

type wireChild struct {
	BlueprintID   string `yaml:"blueprintId"`
	LifecycleMode string `yaml:"lifecycleMode,omitempty"`
	LazyAttach    bool   `yaml:"lazyAttach,omitempty"`
	OnError       string `yaml:"onError,omitempty"`
}

func parsePropertyKind(s string) (PropertyKind, error) {
	switch s {
	case "PHYSICAL", "":
		return KindPhysical, nil
	case "LOGICAL":
		return KindLogical, nil
	case "DERIVED":
		return KindDerived, nil
	case "PREDICATE":
		return KindPredicate, nil
	default:
		return 0, fmt.Errorf("blueprint: unknown property kind %q", s)
	}
}

func parseLifecycleMode(s string) LifecycleMode {
	if s == "INDEPENDENT" {
		return Independent
	}
	return Linked
}

func parseErrorPolicy(s string) ErrorPolicy {
	switch s {
	case "STOP":
		return StopPolicy
	case "ESCALATE":
		return Escalate
	case "IGNORE":
		return Ignore
	default:
		return Restart
	}
}

// Decode parses a YAML blueprint catalog entry into a Blueprint with its
// declarative fields populated and its function-valued fields (Read,
// Write, Handle, Derive, Transformer) left nil; call Wire with a
// matching Driver to fill them in before use.
func Decode(data []byte) (Blueprint, error) {
	var w wireBlueprint
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Blueprint{}, fmt.Errorf("blueprint: decode: %w", err)
	}

	bp := Blueprint{
		ID:         ID(w.ID),
		Version:    w.Version,
		Tags:       w.Tags,
		Driver:     w.Driver,
		Features:   make(map[string]struct{}),
		Properties: make(map[string]PropertySpec),
		Actions:    make(map[string]ActionSpec),
		Streams:    make(map[string]StreamSpec),
		Children:   make(map[string]ChildConfig),
		Peers:      make(map[string]PeerBlueprint),
	}
	for _, f := range w.Features {
		bp.Features[f] = struct{}{}
	}
	for propName, wp := range w.Properties {
		kind, err := parsePropertyKind(wp.Kind)
		if err != nil {
			return Blueprint{}, err
		}
		bp.Properties[propName] = PropertySpec{
			Name:          propName,
			Kind:          kind,
			ValueTypeName: wp.ValueTypeName,
			Readable:      wp.Readable,
			Mutable:       wp.Mutable,
			Unit:          wp.Unit,
			Dependencies:  wp.Dependencies,
			Persistent:    wp.Persistent,
			RequiredLocks: wp.RequiredLocks,
			Initial:       meta.Empty,
		}
	}
	for actionName, wa := range w.Actions {
		spec := ActionSpec{
			Name:               actionName,
			RequiredLocks:      wa.RequiredLocks,
			RequiredPredicates: wa.RequiredPredicates,
		}
		if wa.DefaultTimeoutMs > 0 {
			spec.DefaultTimeout = &DurationSpec{Millis: wa.DefaultTimeoutMs}
		}
		if wa.ExecutionDeadlineMs > 0 {
			spec.ExecutionDeadline = &DurationSpec{Millis: wa.ExecutionDeadlineMs}
		}
		bp.Actions[actionName] = spec
	}
	for _, s := range w.Streams {
		bp.Streams[s] = StreamSpec{Name: s}
	}
	for childName, wc := range w.Children {
		bp.Children[childName] = ChildConfig{
			Local: &LocalChildConfig{
				BlueprintID:   ID(wc.BlueprintID),
				LifecycleMode: parseLifecycleMode(wc.LifecycleMode),
				LazyAttach:    wc.LazyAttach,
				OnError:       parseErrorPolicy(wc.OnError),
			},
		}
	}

	return bp, nil
}

// Encode renders a Blueprint's declarative fields back to YAML, for
// BlueprintRegistry.Put / catalog round-tripping. Function-valued fields
// are not serialized, and neither are Streams or Children: a blueprint
// that declares them comes back from Decode(Encode(bp)) without them.
func Encode(bp Blueprint) ([]byte, error) {
	w := wireBlueprint{
		ID:      string(bp.ID),
		Version: bp.Version,
		Tags:    bp.Tags,
		Driver:  bp.Driver,
	}
	for f := range bp.Features {
		w.Features = append(w.Features, f)
	}
	w.Properties = make(map[string]wireProperty, len(bp.Properties))
	for n, p := range bp.Properties {
		w.Properties[n] = wireProperty{
			Kind:          p.Kind.String(),
			ValueTypeName: p.ValueTypeName,
			Readable:      p.Readable,
			Mutable:       p.Mutable,
			Unit:          p.Unit,
			Dependencies:  p.Dependencies,
			Persistent:    p.Persistent,
			RequiredLocks: p.RequiredLocks,
		}
	}
	w.Actions = make(map[string]wireAction, len(bp.Actions))
	for n, a := range bp.Actions {
		wa := wireAction{RequiredLocks: a.RequiredLocks, RequiredPredicates: a.RequiredPredicates}
		if a.DefaultTimeout != nil {
			wa.DefaultTimeoutMs = a.DefaultTimeout.Millis
		}
		if a.ExecutionDeadline != nil {
			wa.ExecutionDeadlineMs = a.ExecutionDeadline.Millis
		}
		w.Actions[n] = wa
	}
	return yaml.Marshal(w)
}
