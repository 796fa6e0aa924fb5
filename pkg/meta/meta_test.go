package meta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafConstructors(t *testing.T) {
	b, ok := Bool(true).BoolValue()
	assert.True(t, ok)
	assert.True(t, b)

	i, ok := Int(42).IntValue()
	assert.True(t, ok)
	assert.Equal(t, int32(42), i)

	l, ok := Long(9000000000).LongValue()
	assert.True(t, ok)
	assert.Equal(t, int64(9000000000), l)

	d, ok := Double(3.5).DoubleValue()
	assert.True(t, ok)
	assert.Equal(t, 3.5, d)

	s, ok := String("hello").StringValue()
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	bs, ok := Bytes([]byte("raw")).BytesValue()
	assert.True(t, ok)
	assert.Equal(t, []byte("raw"), bs)
}

func TestBytesIsDefensivelyCopied(t *testing.T) {
	src := []byte{1, 2, 3}
	m := Bytes(src)
	src[0] = 9
	got, _ := m.BytesValue()
	assert.Equal(t, byte(1), got[0], "Bytes must copy its input")

	got[1] = 99
	got2, _ := m.BytesValue()
	assert.Equal(t, byte(2), got2[1], "BytesValue must copy on the way out")
}

func TestWrongKindAccessorsReturnFalse(t *testing.T) {
	m := Int(1)
	_, ok := m.StringValue()
	assert.False(t, ok)
	_, ok = m.BoolValue()
	assert.False(t, ok)
	_, ok = m.BytesValue()
	assert.False(t, ok)
}

func TestEmptyHasNoValueOrChildren(t *testing.T) {
	assert.False(t, Empty.HasValue())
	assert.False(t, Empty.HasChildren())
	assert.Equal(t, KindNone, Empty.Kind())
}

func TestTreeAndChildAccess(t *testing.T) {
	tree := Tree(map[string]Meta{
		"x": Int(1),
		"y": String("two"),
	})
	assert.True(t, tree.HasChildren())
	assert.False(t, tree.HasValue())

	x, ok := tree.Child("x")
	require.True(t, ok)
	v, _ := x.IntValue()
	assert.Equal(t, int32(1), v)

	_, ok = tree.Child("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"x", "y"}, tree.ChildNames())
}

func TestWithChildIsImmutable(t *testing.T) {
	base := Tree(map[string]Meta{"a": Int(1)})
	extended := base.WithChild("b", Int(2))

	_, ok := base.Child("b")
	assert.False(t, ok, "WithChild must not mutate the receiver")

	bv, ok := extended.Child("b")
	require.True(t, ok)
	v, _ := bv.IntValue()
	assert.Equal(t, int32(2), v)

	av, ok := extended.Child("a")
	require.True(t, ok)
	v, _ = av.IntValue()
	assert.Equal(t, int32(1), v)
}

func TestEqual(t *testing.T) {
	a := Tree(map[string]Meta{"x": Int(1), "y": String("s")})
	b := Tree(map[string]Meta{"x": Int(1), "y": String("s")})
	c := Tree(map[string]Meta{"x": Int(2), "y": String("s")})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Int(1).Equal(String("1")))
	assert.True(t, Empty.Equal(Empty))
}

func TestEqualRejectsChildCountMismatch(t *testing.T) {
	a := Tree(map[string]Meta{"x": Int(1)})
	b := Tree(map[string]Meta{"x": Int(1), "y": Int(2)})
	assert.False(t, a.Equal(b))
	assert.False(t, b.Equal(a))
}

func TestJSONRoundTrip(t *testing.T) {
	cases := []Meta{
		Empty,
		Bool(true),
		Bool(false),
		Int(-7),
		Long(1 << 40),
		Double(2.718281828),
		String("round trip"),
		Bytes([]byte{0xDE, 0xAD, 0xBE, 0xEF}),
		Tree(map[string]Meta{
			"nested": Tree(map[string]Meta{
				"deep": String("value"),
			}),
			"flag": Bool(true),
			"list": Int(3),
		}),
	}

	for _, original := range cases {
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded Meta
		require.NoError(t, json.Unmarshal(data, &decoded))

		assert.True(t, original.Equal(decoded), "round trip mismatch for %+v: got %+v", original, decoded)
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	var m Meta
	err := json.Unmarshal([]byte(`{"kind":"exotic"}`), &m)
	require.Error(t, err)
	var unknown ErrUnknownKind
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "exotic", unknown.Kind)
}

func TestMarshalOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(String("x"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasBool := raw["bool"]
	_, hasInt := raw["int"]
	assert.False(t, hasBool)
	assert.False(t, hasInt)
	assert.Equal(t, "x", raw["string"])
}
