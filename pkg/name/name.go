// Package name implements the hierarchical naming and addressing scheme
// used to identify devices, properties, actions, and children within a hub.
package name

import "strings"

// Name is an ordered sequence of unescaped tokens. The empty Name denotes
// the root. Name values are immutable; every operation returns a new slice.
type Name struct {
	tokens []string
}

// Root is the empty Name.
var Root = Name{}

// New builds a Name from individual tokens.
func New(tokens ...string) Name {
	if len(tokens) == 0 {
		return Root
	}
	cp := make([]string, len(tokens))
	copy(cp, tokens)
	return Name{tokens: cp}
}

// Parse splits a "/"-delimited path into a Name. Empty segments are dropped,
// so "a//b" and "/a/b/" both parse to the same two-token Name.
func Parse(path string) Name {
	parts := strings.Split(path, "/")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return New(tokens...)
}

// String renders the Name as a "/"-joined path.
func (n Name) String() string {
	return strings.Join(n.tokens, "/")
}

// IsRoot reports whether n is the empty Name.
func (n Name) IsRoot() bool {
	return len(n.tokens) == 0
}

// Len returns the number of tokens.
func (n Name) Len() int {
	return len(n.tokens)
}

// Tokens returns a copy of the underlying tokens.
func (n Name) Tokens() []string {
	cp := make([]string, len(n.tokens))
	copy(cp, n.tokens)
	return cp
}

// Head returns the first token and true, or "" and false if n is root.
func (n Name) Head() (string, bool) {
	if len(n.tokens) == 0 {
		return "", false
	}
	return n.tokens[0], true
}

// StartsWith reports whether prefix's tokens are a prefix of n's tokens.
func (n Name) StartsWith(prefix Name) bool {
	if len(prefix.tokens) > len(n.tokens) {
		return false
	}
	for i, t := range prefix.tokens {
		if n.tokens[i] != t {
			return false
		}
	}
	return true
}

// RemoveFirst returns n with its first token dropped. Calling RemoveFirst on
// Root returns Root.
func (n Name) RemoveFirst() Name {
	if len(n.tokens) == 0 {
		return n
	}
	return New(n.tokens[1:]...)
}

// Append ("+") returns a new Name with other's tokens appended to n's.
func (n Name) Append(other Name) Name {
	tokens := make([]string, 0, len(n.tokens)+len(other.tokens))
	tokens = append(tokens, n.tokens...)
	tokens = append(tokens, other.tokens...)
	return New(tokens...)
}

// Child returns n with a single extra token appended.
func (n Name) Child(token string) Name {
	return n.Append(New(token))
}

// Equal reports token-wise equality.
func (n Name) Equal(other Name) bool {
	if len(n.tokens) != len(other.tokens) {
		return false
	}
	for i, t := range n.tokens {
		if other.tokens[i] != t {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler so Name can appear as a map
// key or struct field in JSON/YAML without a custom codec.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(text []byte) error {
	*n = Parse(string(text))
	return nil
}

// CorrelationID is an opaque identifier carried through every causally
// related operation (property writes, action invocations, plan runs).
type CorrelationID string

// Address globally identifies a device: the hub that owns it plus its path
// within that hub's device tree.
type Address struct {
	HubID  string
	Device Name
}

// String renders an Address as "hubID:device/path".
func (a Address) String() string {
	return a.HubID + ":" + a.Device.String()
}

// Equal reports whether two addresses identify the same device.
func (a Address) Equal(other Address) bool {
	return a.HubID == other.HubID && a.Device.Equal(other.Device)
}
