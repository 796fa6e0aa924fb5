// Package scripting implements blueprint.Transformer bodies as small
// JavaScript expressions, backed by dop251/goja, for blueprints that
// need a binding transform beyond the built-in linear/toString forms
// in pkg/blueprint/transform.go.
package scripting

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/meta"
)

// Engine compiles and caches goja programs, one per registered script,
// and hands out blueprint.Transformer closures over them. A goja
// *Program is safe to re-run on fresh *goja.Runtime instances, one per
// call, so concurrent bindings never share runtime state.
type Engine struct {
	mu       sync.RWMutex
	programs map[string]*goja.Program
}

// NewEngine builds an empty Engine.
func NewEngine() *Engine {
	return &Engine{programs: make(map[string]*goja.Program)}
}

// Compile parses source once under id, the scripted expression's
// TransformerID, and returns any parse error immediately rather than
// deferring it to first transform.
//
// The script body sees two bound values, `source` and `params`, each a
// plain JS value decoded from the corresponding meta.Meta (scalars map
// directly; trees map to objects), and must evaluate to the desired
// output as its last expression.
func (e *Engine) Compile(id, source string) error {
	prog, err := goja.Compile(id, source, false)
	if err != nil {
		return fmt.Errorf("scripting: compile %q: %w", id, err)
	}
	e.mu.Lock()
	e.programs[id] = prog
	e.mu.Unlock()
	return nil
}

// RegisterWith installs a Transformer for every compiled script id into
// reg, so a blueprint can reference id as a PropertyBinding's
// TransformerID.
func (e *Engine) RegisterWith(reg *blueprint.TransformerRegistry) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id := range e.programs {
		id := id
		reg.Register(id, func(source, params meta.Meta) (meta.Meta, error) {
			return e.run(id, source, params)
		})
	}
}

func (e *Engine) run(id string, source, params meta.Meta) (meta.Meta, error) {
	e.mu.RLock()
	prog, ok := e.programs[id]
	e.mu.RUnlock()
	if !ok {
		return meta.Empty, fmt.Errorf("scripting: unknown script %q", id)
	}

	vm := goja.New()
	if err := vm.Set("source", metaToJS(source)); err != nil {
		return meta.Empty, err
	}
	if err := vm.Set("params", metaToJS(params)); err != nil {
		return meta.Empty, err
	}

	v, err := vm.RunProgram(prog)
	if err != nil {
		return meta.Empty, fmt.Errorf("scripting: run %q: %w", id, err)
	}
	return jsToMeta(v)
}

func metaToJS(m meta.Meta) any {
	if m.HasChildren() {
		obj := make(map[string]any, len(m.ChildNames()))
		for _, name := range m.ChildNames() {
			child, _ := m.Child(name)
			obj[name] = metaToJS(child)
		}
		return obj
	}
	switch m.Kind() {
	case meta.KindBool:
		v, _ := m.BoolValue()
		return v
	case meta.KindInt:
		v, _ := m.IntValue()
		return v
	case meta.KindLong:
		v, _ := m.LongValue()
		return v
	case meta.KindDouble:
		v, _ := m.DoubleValue()
		return v
	case meta.KindString:
		v, _ := m.StringValue()
		return v
	case meta.KindBytes:
		v, _ := m.BytesValue()
		return v
	default:
		return nil
	}
}

func jsToMeta(v goja.Value) (meta.Meta, error) {
	exported := v.Export()
	switch x := exported.(type) {
	case bool:
		return meta.Bool(x), nil
	case int64:
		return meta.Long(x), nil
	case float64:
		return meta.Double(x), nil
	case string:
		return meta.String(x), nil
	case []byte:
		return meta.Bytes(x), nil
	case nil:
		return meta.Empty, nil
	case map[string]any:
		children := make(map[string]meta.Meta, len(x))
		for k, val := range x {
			m, err := jsToMeta(goja.New().ToValue(val))
			if err != nil {
				return meta.Empty, err
			}
			children[k] = m
		}
		return meta.Tree(children), nil
	default:
		return meta.Empty, fmt.Errorf("scripting: unsupported script result type %T", exported)
	}
}
