// internal/model/predicate_test.go
package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalCtx() EvalContext {
	return EvalContext{
		Now: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		Context: map[string]any{
			"appointment": map[string]any{"time": "2025-06-04T10:00:00Z"},
			"source":      "walk_in",
		},
		Attributes: map[string]string{
			"plan":         "premium",
			"visits":       "12",
			"open_balance": "0",
		},
	}
}

func TestFieldPredicate(t *testing.T) {
	ec := evalCtx()
	eval := func(t *testing.T, field, op, value string) bool {
		t.Helper()
		got, err := Predicate{Kind: PredicateField, Field: field, Op: op, Value: value}.Evaluate(ec)
		require.NoError(t, err)
		return got
	}

	assert.True(t, eval(t, "plan", "eq", "premium"))
	assert.False(t, eval(t, "plan", "eq", "basic"))
	assert.True(t, eval(t, "plan", "ne", "basic"))
	assert.True(t, eval(t, "plan", "contains", "prem"))

	// Numeric comparison, not lexicographic: "12" > "9".
	assert.True(t, eval(t, "visits", "gt", "9"))
	assert.True(t, eval(t, "visits", "lte", "12"))
	assert.False(t, eval(t, "visits", "lt", "10"))

	// Context values resolve through dotted paths.
	assert.True(t, eval(t, "source", "eq", "walk_in"))
	assert.True(t, eval(t, "appointment.time", "contains", "2025-06-04"))

	// Missing fields never match, except under "ne".
	assert.False(t, eval(t, "ghost", "eq", "anything"))
	assert.True(t, eval(t, "ghost", "ne", "anything"))
}

func TestTimePredicate(t *testing.T) {
	ec := evalCtx()

	// The appointment (June 4, 10:00) is within the next 72h.
	got, err := Predicate{Kind: PredicateTime, Field: "appointment.time", Op: "before", Value: "72h"}.Evaluate(ec)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Predicate{Kind: PredicateTime, Field: "appointment.time", Op: "after", Value: "24h"}.Evaluate(ec)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Predicate{Kind: PredicateTime, Field: "appointment.missing", Op: "before", Value: "72h"}.Evaluate(ec)
	require.NoError(t, err)
	assert.False(t, got, "missing timestamp never matches")

	_, err = Predicate{Kind: PredicateTime, Field: "appointment.time", Op: "before", Value: "soon"}.Evaluate(ec)
	assert.Error(t, err)
}

func TestOpenBalancePredicate(t *testing.T) {
	p := Predicate{Kind: PredicateOpenBalance}

	ec := evalCtx()
	got, err := p.Evaluate(ec)
	require.NoError(t, err)
	assert.False(t, got, "zero balance")

	ec.Attributes["open_balance"] = "4500"
	got, err = p.Evaluate(ec)
	require.NoError(t, err)
	assert.True(t, got)

	ec.Attributes["open_balance"] = "true"
	got, err = p.Evaluate(ec)
	require.NoError(t, err)
	assert.True(t, got)

	delete(ec.Attributes, "open_balance")
	got, err = p.Evaluate(ec)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestPredicateValidate(t *testing.T) {
	assert.NoError(t, Predicate{Kind: PredicateField, Field: "plan", Op: "eq", Value: "x"}.Validate())
	assert.NoError(t, Predicate{Kind: PredicateTime, Field: "appointment.time", Op: "before", Value: "72h"}.Validate())
	assert.NoError(t, Predicate{Kind: PredicateOpenBalance}.Validate())

	assert.Error(t, Predicate{Kind: PredicateField, Op: "eq"}.Validate())
	assert.Error(t, Predicate{Kind: PredicateField, Field: "plan", Op: "matches"}.Validate())
	assert.Error(t, Predicate{Kind: PredicateTime, Field: "t", Op: "before", Value: "soon"}.Validate())
	assert.Error(t, Predicate{Kind: "regex"}.Validate())
}
