package meta

import (
	"encoding/base64"
	"encoding/json"
)

func (m Meta) toWire() wireNode {
	w := wireNode{}
	switch m.kind {
	case KindBool:
		w.Kind = "bool"
		v := m.boolVal
		w.Bool = &v
	case KindInt:
		w.Kind = "int"
		v := m.intVal
		w.Int = &v
	case KindLong:
		w.Kind = "long"
		v := m.longVal
		w.Long = &v
	case KindDouble:
		w.Kind = "double"
		v := m.doubleVal
		w.Double = &v
	case KindString:
		w.Kind = "string"
		v := m.stringVal
		w.String = &v
	case KindBytes:
		w.Kind = "bytes"
		v := base64.StdEncoding.EncodeToString(m.bytesVal)
		w.Bytes = &v
	}
	if len(m.children) > 0 {
		w.Children = make(map[string]wireNode, len(m.children))
		for k, c := range m.children {
			w.Children[k] = c.toWire()
		}
	}
	return w
}

// MarshalJSON implements the §6 wire schema: a tagged node with an optional
// leaf and an optional map of named children.
func (m Meta) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.toWire())
}

// UnmarshalJSON is the inverse of MarshalJSON; decode(encode(m)) == m for
// every constructible m (spec.md §8).
func (m *Meta) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return m.fromWire(w)
}

func (m *Meta) fromWire(w wireNode) error {
	switch w.Kind {
	case "":
		m.kind = KindNone
	case "bool":
		m.kind = KindBool
		if w.Bool != nil {
			m.boolVal = *w.Bool
		}
	case "int":
		m.kind = KindInt
		if w.Int != nil {
			m.intVal = *w.Int
		}
	case "long":
		m.kind = KindLong
		if w.Long != nil {
			m.longVal = *w.Long
		}
	case "double":
		m.kind = KindDouble
		if w.Double != nil {
			m.doubleVal = *w.Double
		}
	case "string":
		m.kind = KindString
		if w.String != nil {
			m.stringVal = *w.String
		}
	case "bytes":
		m.kind = KindBytes
		if w.Bytes != nil {
			b, err := base64.StdEncoding.DecodeString(*w.Bytes)
			if err != nil {
				return err
			}
			m.bytesVal = b
		}
	default:
		return ErrUnknownKind{Kind: w.Kind}
	}

	if len(w.Children) > 0 {
		m.children = make(map[string]Meta, len(w.Children))
		for k, wc := range w.Children {
			var cm Meta
			if err := cm.fromWire(wc); err != nil {
				return err
			}
			m.children[k] = cm
		}
	}
	return nil
}
