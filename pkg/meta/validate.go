package meta

import (
	"fmt"
	"regexp"
)

// Rule is a declarative validation rule run in order against a Meta value
// before it is accepted by a property write (spec.md §4.E).
// The first failing rule short-circuits the chain.
type Rule interface {
	Check(v Meta) error
}

// RangeRule bounds a numeric leaf (int/long/double). Either bound may be
// nil to leave that side unconstrained.
type RangeRule struct {
	Min, Max *float64
}

func (r RangeRule) Check(v Meta) error {
	f, ok := asFloat(v)
	if !ok {
		return fmt.Errorf("range rule requires a numeric value")
	}
	if r.Min != nil && f < *r.Min {
		return fmt.Errorf("value %v below minimum %v", f, *r.Min)
	}
	if r.Max != nil && f > *r.Max {
		return fmt.Errorf("value %v above maximum %v", f, *r.Max)
	}
	return nil
}

func asFloat(v Meta) (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.intVal), true
	case KindLong:
		return float64(v.longVal), true
	case KindDouble:
		return v.doubleVal, true
	default:
		return 0, false
	}
}

// RegexRule requires a string leaf to match Pattern.
type RegexRule struct {
	Pattern string

	compiled *regexp.Regexp
}

func (r *RegexRule) Check(v Meta) error {
	s, ok := v.StringValue()
	if !ok {
		return fmt.Errorf("regex rule requires a string value")
	}
	if r.compiled == nil {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", r.Pattern, err)
		}
		r.compiled = re
	}
	if !r.compiled.MatchString(s) {
		return fmt.Errorf("value %q does not match pattern %q", s, r.Pattern)
	}
	return nil
}

// MinLengthRule requires a string leaf to be at least N runes long.
type MinLengthRule struct {
	N int
}

func (r MinLengthRule) Check(v Meta) error {
	s, ok := v.StringValue()
	if !ok {
		return fmt.Errorf("min length rule requires a string value")
	}
	if len([]rune(s)) < r.N {
		return fmt.Errorf("value %q shorter than minimum length %d", s, r.N)
	}
	return nil
}

// CustomFunc is the signature a CustomRule invokes.
type CustomFunc func(v Meta, params Meta) error

// CustomRule delegates to a named, registered validation function, carrying
// arbitrary Meta parameters (spec.md: "Custom(id, meta)").
type CustomRule struct {
	ID     string
	Params Meta
	Fn     CustomFunc
}

func (r CustomRule) Check(v Meta) error {
	if r.Fn == nil {
		return fmt.Errorf("custom rule %q has no registered function", r.ID)
	}
	return r.Fn(v, r.Params)
}

// RunRules applies rules in order against v, stopping at the first failure.
func RunRules(v Meta, rules []Rule) error {
	for _, r := range rules {
		if err := r.Check(v); err != nil {
			return err
		}
	}
	return nil
}
