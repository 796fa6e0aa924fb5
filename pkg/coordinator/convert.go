package coordinator

import (
	"encoding/json"

	"github.com/cuemby/devicehub/pkg/meta"
)

// metaToArgs renders a Meta tree to the map[string]any shape
// ports.TaskExecutor.Run expects, via its JSON wire form.
func metaToArgs(m meta.Meta) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Children map[string]json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(wire.Children))
	for k, raw := range wire.Children {
		var child meta.Meta
		if err := json.Unmarshal(raw, &child); err != nil {
			return nil, err
		}
		out[k] = metaScalar(child)
	}
	return out, nil
}

func metaScalar(m meta.Meta) any {
	if v, ok := m.BoolValue(); ok {
		return v
	}
	if v, ok := m.IntValue(); ok {
		return v
	}
	if v, ok := m.LongValue(); ok {
		return v
	}
	if v, ok := m.DoubleValue(); ok {
		return v
	}
	if v, ok := m.StringValue(); ok {
		return v
	}
	if v, ok := m.BytesValue(); ok {
		return v
	}
	return nil
}

// argsToMeta builds a Meta tree from a TaskExecutor result map, one
// child per entry, converting Go scalars to the matching Meta leaf kind.
func argsToMeta(args map[string]any) (meta.Meta, error) {
	children := make(map[string]meta.Meta, len(args))
	for k, v := range args {
		children[k] = scalarToMeta(v)
	}
	return meta.Tree(children), nil
}

func scalarToMeta(v any) meta.Meta {
	switch t := v.(type) {
	case bool:
		return meta.Bool(t)
	case int:
		return meta.Long(int64(t))
	case int32:
		return meta.Int(t)
	case int64:
		return meta.Long(t)
	case float64:
		return meta.Double(t)
	case float32:
		return meta.Double(float64(t))
	case string:
		return meta.String(t)
	case []byte:
		return meta.Bytes(t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return meta.Empty
		}
		return meta.String(string(b))
	}
}
