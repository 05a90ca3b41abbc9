// internal/model/predicate.go
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type PredicateKind string

const (
	// PredicateField compares a recipient attribute or context value.
	PredicateField PredicateKind = "field"
	// PredicateTime compares a context timestamp against now +/- an offset.
	PredicateTime PredicateKind = "time"
	// PredicateOpenBalance checks the live open-balance flag.
	PredicateOpenBalance PredicateKind = "open_balance"
)

// Predicate is a closed set of tagged comparison variants instead of a
// general expression interpreter. Condition and branch steps evaluate
// these against the enrollment context and the recipient's attributes.
type Predicate struct {
	Kind  PredicateKind `json:"kind"`
	Field string        `json:"field,omitempty"`
	Op    string        `json:"op,omitempty"`
	Value string        `json:"value,omitempty"`
}

// EvalContext carries everything a predicate may look at.
type EvalContext struct {
	Now        time.Time
	Context    map[string]any
	Attributes map[string]string
}

// Evaluate runs the predicate. It is a pure function over the eval
// context; refreshing live data is the caller's job.
func (p Predicate) Evaluate(ec EvalContext) (bool, error) {
	switch p.Kind {
	case PredicateField:
		got, ok := lookupString(ec, p.Field)
		if !ok {
			// A missing field never matches, except for "ne".
			return p.Op == "ne", nil
		}
		return compareStrings(got, p.Op, p.Value)
	case PredicateTime:
		t, found := AnchorTime(ec.Context, p.Field)
		if !found {
			return false, nil
		}
		off, err := time.ParseDuration(p.Value)
		if err != nil {
			return false, fmt.Errorf("bad time predicate offset %q: %w", p.Value, err)
		}
		ref := ec.Now.Add(off)
		switch p.Op {
		case "before":
			return t.Before(ref), nil
		case "after":
			return t.After(ref), nil
		}
		return false, fmt.Errorf("unknown time op %q", p.Op)
	case PredicateOpenBalance:
		got, ok := lookupString(ec, "open_balance")
		if !ok {
			return false, nil
		}
		if got == "true" {
			return true, nil
		}
		n, err := strconv.ParseFloat(got, 64)
		return err == nil && n > 0, nil
	}
	return false, fmt.Errorf("unknown predicate kind %q", p.Kind)
}

// Validate rejects malformed predicates at campaign activation.
func (p Predicate) Validate() error {
	switch p.Kind {
	case PredicateField:
		if p.Field == "" {
			return fmt.Errorf("field predicate needs a field")
		}
		switch p.Op {
		case "eq", "ne", "contains", "gt", "lt", "gte", "lte":
			return nil
		}
		return fmt.Errorf("unknown field op %q", p.Op)
	case PredicateTime:
		if p.Field == "" {
			return fmt.Errorf("time predicate needs a field")
		}
		if p.Op != "before" && p.Op != "after" {
			return fmt.Errorf("unknown time op %q", p.Op)
		}
		if _, err := time.ParseDuration(p.Value); err != nil {
			return fmt.Errorf("bad time offset %q: %w", p.Value, err)
		}
		return nil
	case PredicateOpenBalance:
		return nil
	}
	return fmt.Errorf("unknown predicate kind %q", p.Kind)
}

func lookupString(ec EvalContext, field string) (string, bool) {
	if v, ok := ec.Attributes[field]; ok {
		return v, true
	}
	var cur any = ec.Context
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

func compareStrings(got, op, want string) (bool, error) {
	switch op {
	case "eq":
		return got == want, nil
	case "ne":
		return got != want, nil
	case "contains":
		return strings.Contains(got, want), nil
	}
	// Numeric ops; fall back to lexicographic when either side is not a number.
	gn, gerr := strconv.ParseFloat(got, 64)
	wn, werr := strconv.ParseFloat(want, 64)
	numeric := gerr == nil && werr == nil
	switch op {
	case "gt":
		if numeric {
			return gn > wn, nil
		}
		return got > want, nil
	case "lt":
		if numeric {
			return gn < wn, nil
		}
		return got < want, nil
	case "gte":
		if numeric {
			return gn >= wn, nil
		}
		return got >= want, nil
	case "lte":
		if numeric {
			return gn <= wn, nil
		}
		return got <= want, nil
	}
	return false, fmt.Errorf("unknown field op %q", op)
}
