package blueprint

import (
	"fmt"
	"strconv"

	"github.com/cuemby/devicehub/pkg/meta"
)

// BuiltinTransformers are the Transformer implementations every
// blueprint can reference by TransformerID without an adapter:
// "linear" (a*x+b, coefficients read from params' "a"/"b" children,
// defaulting to 1 and 0) and "toString" (formats the source value as a
// string, ignoring params).
var BuiltinTransformers = map[string]Transformer{
	"linear":   linearTransform,
	"toString": toStringTransform,
}

// TransformerRegistry resolves a PropertyBinding's TransformerID to a
// concrete Transformer, mirroring Registry's Driver-name resolution.
// It is seeded with BuiltinTransformers; an adapter (e.g.
// pkg/adapters/scripting) registers additional ids under its own
// naming convention.
type TransformerRegistry struct {
	transformers map[string]Transformer
}

// NewTransformerRegistry builds a TransformerRegistry seeded with the
// built-in linear/toString transforms.
func NewTransformerRegistry() *TransformerRegistry {
	r := &TransformerRegistry{transformers: make(map[string]Transformer)}
	for id, t := range BuiltinTransformers {
		r.transformers[id] = t
	}
	return r
}

// Register associates id with a Transformer, overriding any built-in
// of the same name.
func (r *TransformerRegistry) Register(id string, t Transformer) {
	r.transformers[id] = t
}

// ResolveBindings fills in the Transformer field of every Transformed
// binding in bp's local children whose TransformerID is set and whose
// Transformer is not already populated, returning ErrUnknownTransformer
// for any id the registry does not recognize.
func (r *TransformerRegistry) ResolveBindings(bp Blueprint) (Blueprint, error) {
	for name, cc := range bp.Children {
		if cc.Local == nil {
			continue
		}
		bindings := cc.Local.Bindings
		for i, b := range bindings {
			if b.Kind != BindTransformed || b.Transformer != nil || b.TransformerID == "" {
				continue
			}
			t, ok := r.transformers[b.TransformerID]
			if !ok {
				return bp, &ErrUnknownTransformer{ID: b.TransformerID}
			}
			bindings[i].Transformer = t
		}
		cc.Local.Bindings = bindings
		bp.Children[name] = cc
	}
	return bp, nil
}

// ErrUnknownTransformer is returned by ResolveBindings for an
// unregistered TransformerID.
type ErrUnknownTransformer struct{ ID string }

func (e *ErrUnknownTransformer) Error() string {
	return "blueprint: unknown transformer " + e.ID
}

func linearTransform(source meta.Meta, params meta.Meta) (meta.Meta, error) {
	x, err := numericValue(source)
	if err != nil {
		return meta.Meta{}, fmt.Errorf("blueprint: linear transform: %w", err)
	}

	a := 1.0
	if av, ok := params.Child("a"); ok {
		a, err = numericValue(av)
		if err != nil {
			return meta.Meta{}, fmt.Errorf("blueprint: linear transform param a: %w", err)
		}
	}
	b := 0.0
	if bv, ok := params.Child("b"); ok {
		b, err = numericValue(bv)
		if err != nil {
			return meta.Meta{}, fmt.Errorf("blueprint: linear transform param b: %w", err)
		}
	}

	return meta.Double(a*x + b), nil
}

func toStringTransform(source meta.Meta, _ meta.Meta) (meta.Meta, error) {
	return meta.String(scalarString(source)), nil
}

func numericValue(m meta.Meta) (float64, error) {
	switch m.Kind() {
	case meta.KindDouble:
		v, _ := m.DoubleValue()
		return v, nil
	case meta.KindLong:
		v, _ := m.LongValue()
		return float64(v), nil
	case meta.KindInt:
		v, _ := m.IntValue()
		return float64(v), nil
	case meta.KindString:
		v, _ := m.StringValue()
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a numeric Meta kind: %s", m.Kind())
	}
}

func scalarString(m meta.Meta) string {
	switch m.Kind() {
	case meta.KindBool:
		v, _ := m.BoolValue()
		return strconv.FormatBool(v)
	case meta.KindInt:
		v, _ := m.IntValue()
		return strconv.FormatInt(int64(v), 10)
	case meta.KindLong:
		v, _ := m.LongValue()
		return strconv.FormatInt(v, 10)
	case meta.KindDouble:
		v, _ := m.DoubleValue()
		return strconv.FormatFloat(v, 'g', -1, 64)
	case meta.KindString:
		v, _ := m.StringValue()
		return v
	default:
		return ""
	}
}
