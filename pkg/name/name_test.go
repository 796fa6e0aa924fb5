package name

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSplitsAndDropsEmptySegments(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"", nil},
		{"a/b/c", []string{"a", "b", "c"}},
		{"/a/b/", []string{"a", "b"}},
		{"a//b", []string{"a", "b"}},
		{"///", nil},
	}
	for _, tc := range tests {
		got := Parse(tc.path)
		if len(tc.want) == 0 {
			assert.True(t, got.IsRoot(), "Parse(%q)", tc.path)
			continue
		}
		assert.Equal(t, tc.want, got.Tokens(), "Parse(%q)", tc.path)
	}
}

func TestNewWithNoTokensIsRoot(t *testing.T) {
	assert.True(t, New().IsRoot())
	assert.Equal(t, Root, New())
}

func TestStringRoundTripsThroughParse(t *testing.T) {
	n := New("device", "sensor", "temperature")
	assert.Equal(t, "device/sensor/temperature", n.String())
	assert.True(t, n.Equal(Parse(n.String())))
}

func TestLenAndHead(t *testing.T) {
	n := New("a", "b", "c")
	assert.Equal(t, 3, n.Len())
	head, ok := n.Head()
	assert.True(t, ok)
	assert.Equal(t, "a", head)

	_, ok = Root.Head()
	assert.False(t, ok)
	assert.Equal(t, 0, Root.Len())
}

func TestTokensReturnsACopy(t *testing.T) {
	n := New("a", "b")
	tokens := n.Tokens()
	tokens[0] = "mutated"
	assert.Equal(t, "a", n.Tokens()[0], "Tokens must not expose internal storage")
}

func TestStartsWith(t *testing.T) {
	n := New("a", "b", "c")
	assert.True(t, n.StartsWith(New("a", "b")))
	assert.True(t, n.StartsWith(Root))
	assert.True(t, n.StartsWith(n))
	assert.False(t, n.StartsWith(New("a", "x")))
	assert.False(t, n.StartsWith(New("a", "b", "c", "d")))
}

func TestRemoveFirst(t *testing.T) {
	n := New("a", "b", "c")
	assert.Equal(t, New("b", "c"), n.RemoveFirst())
	assert.Equal(t, Root, Root.RemoveFirst())

	single := New("a")
	assert.True(t, single.RemoveFirst().IsRoot())
}

func TestAppend(t *testing.T) {
	a := New("a", "b")
	b := New("c", "d")
	assert.Equal(t, New("a", "b", "c", "d"), a.Append(b))
	assert.Equal(t, a, a.Append(Root))
	assert.Equal(t, b, Root.Append(b))
}

func TestChild(t *testing.T) {
	n := New("a")
	assert.Equal(t, New("a", "b"), n.Child("b"))
}

func TestEqual(t *testing.T) {
	assert.True(t, New("a", "b").Equal(New("a", "b")))
	assert.False(t, New("a", "b").Equal(New("a", "c")))
	assert.False(t, New("a").Equal(New("a", "b")))
	assert.True(t, Root.Equal(New()))
}

func TestTextMarshaling(t *testing.T) {
	n := New("a", "b", "c")
	text, err := n.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "a/b/c", string(text))

	var decoded Name
	assert.NoError(t, decoded.UnmarshalText(text))
	assert.True(t, n.Equal(decoded))
}

func TestAddressString(t *testing.T) {
	a := Address{HubID: "hub-1", Device: New("room", "sensor")}
	assert.Equal(t, "hub-1:room/sensor", a.String())
}

func TestAddressEqual(t *testing.T) {
	a := Address{HubID: "hub-1", Device: New("x")}
	b := Address{HubID: "hub-1", Device: New("x")}
	c := Address{HubID: "hub-2", Device: New("x")}
	d := Address{HubID: "hub-1", Device: New("y")}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
}
