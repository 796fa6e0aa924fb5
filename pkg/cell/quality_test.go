package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualityLevelString(t *testing.T) {
	assert.Equal(t, "GOOD", Good.String())
	assert.Equal(t, "UNCERTAIN", Uncertain.String())
	assert.Equal(t, "BAD", Bad.String())
}

func TestQualityString(t *testing.T) {
	assert.Equal(t, "GOOD", GoodQuality.String())
	assert.Equal(t, "UNCERTAIN(INITIAL)", InitialQuality.String())
	assert.Equal(t, "BAD(SENSOR_FAULT)", BadQuality("SENSOR_FAULT").String())
}

func TestQualityEqual(t *testing.T) {
	assert.True(t, GoodQuality.Equal(Quality{}))
	assert.True(t, UncertainQuality("X").Equal(UncertainQuality("X")))
	assert.False(t, UncertainQuality("X").Equal(UncertainQuality("Y")))
	assert.False(t, GoodQuality.Equal(BadQuality("")))
}

func TestCombineWorstOf(t *testing.T) {
	tests := []struct {
		name string
		a, b Quality
		want Quality
	}{
		{"good+good=good", GoodQuality, GoodQuality, GoodQuality},
		{"good+uncertain=uncertain", GoodQuality, UncertainQuality("A"), UncertainQuality("A")},
		{"uncertain+good=uncertain", UncertainQuality("A"), GoodQuality, UncertainQuality("A")},
		{"uncertain+bad=bad", UncertainQuality("A"), BadQuality("B"), BadQuality("B")},
		{"bad+good=bad", BadQuality("B"), GoodQuality, BadQuality("B")},
		{"bad+bad keeps receiver on tie", BadQuality("FIRST"), BadQuality("SECOND"), BadQuality("FIRST")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(tc.a.Combine(tc.b)), "combine(%v,%v)", tc.a, tc.b)
		})
	}
}

func TestCombineAllEmptyIsGood(t *testing.T) {
	assert.Equal(t, GoodQuality, CombineAll(nil))
}

func TestCombineAllFoldsWorstOf(t *testing.T) {
	qs := []Quality{GoodQuality, UncertainQuality("A"), GoodQuality, BadQuality("FATAL")}
	assert.True(t, BadQuality("FATAL").Equal(CombineAll(qs)))
}
