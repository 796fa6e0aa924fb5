package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeRule(t *testing.T) {
	min, max := 0.0, 100.0
	rule := RangeRule{Min: &min, Max: &max}

	assert.NoError(t, rule.Check(Int(50)))
	assert.NoError(t, rule.Check(Double(0)))
	assert.NoError(t, rule.Check(Long(100)))
	assert.Error(t, rule.Check(Int(-1)))
	assert.Error(t, rule.Check(Double(100.1)))
	assert.Error(t, rule.Check(String("not numeric")))
}

func TestRangeRuleUnboundedSide(t *testing.T) {
	max := 10.0
	rule := RangeRule{Max: &max}
	assert.NoError(t, rule.Check(Int(-1000)))
	assert.Error(t, rule.Check(Int(11)))
}

func TestRegexRule(t *testing.T) {
	rule := &RegexRule{Pattern: `^[a-z]+$`}
	assert.NoError(t, rule.Check(String("abc")))
	assert.Error(t, rule.Check(String("ABC")))
	assert.Error(t, rule.Check(Int(1)))
}

func TestRegexRuleInvalidPattern(t *testing.T) {
	rule := &RegexRule{Pattern: `(unclosed`}
	err := rule.Check(String("x"))
	require.Error(t, err)
}

func TestRegexRuleCompilesOnce(t *testing.T) {
	rule := &RegexRule{Pattern: `^ok$`}
	require.NoError(t, rule.Check(String("ok")))
	require.NotNil(t, rule.compiled)
	cached := rule.compiled
	require.NoError(t, rule.Check(String("ok")))
	assert.Same(t, cached, rule.compiled)
}

func TestMinLengthRule(t *testing.T) {
	rule := MinLengthRule{N: 3}
	assert.NoError(t, rule.Check(String("abcd")))
	assert.Error(t, rule.Check(String("ab")))
	assert.Error(t, rule.Check(Int(1)))
}

func TestMinLengthRuleCountsRunes(t *testing.T) {
	rule := MinLengthRule{N: 3}
	assert.NoError(t, rule.Check(String("日本語")))
}

func TestCustomRule(t *testing.T) {
	called := false
	rule := CustomRule{
		ID: "even",
		Fn: func(v Meta, params Meta) error {
			called = true
			n, _ := v.IntValue()
			if n%2 != 0 {
				return assert.AnError
			}
			return nil
		},
	}
	assert.NoError(t, rule.Check(Int(4)))
	assert.True(t, called)
	assert.Error(t, rule.Check(Int(3)))
}

func TestCustomRuleMissingFn(t *testing.T) {
	rule := CustomRule{ID: "unregistered"}
	assert.Error(t, rule.Check(Int(1)))
}

func TestRunRulesShortCircuits(t *testing.T) {
	calls := 0
	counting := CustomRule{Fn: func(v Meta, params Meta) error {
		calls++
		return assert.AnError
	}}
	neverReached := CustomRule{Fn: func(v Meta, params Meta) error {
		calls++
		return nil
	}}

	err := RunRules(Int(1), []Rule{counting, neverReached})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunRulesAllPass(t *testing.T) {
	min := 0.0
	err := RunRules(Int(5), []Rule{RangeRule{Min: &min}})
	assert.NoError(t, err)
}
