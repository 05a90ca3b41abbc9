// internal/model/step.go
package model

import (
	"fmt"
	"strings"
	"time"
)

type StepType string

const (
	StepSend      StepType = "send"
	StepWait      StepType = "wait"
	StepCondition StepType = "condition"
	StepBranch    StepType = "branch"
)

// StepDefinition is a tagged union: exactly one of the per-type payloads
// is set, matching Type. Keeping the payloads as separate structs lets
// the executor switch exhaustively instead of poking at a loose map.
type StepDefinition struct {
	ID   string   `json:"id"`
	Type StepType `json:"type"`
	// Next is the explicit successor for send/wait steps. Empty means
	// "the next step in declared order".
	Next      string         `json:"next,omitempty"`
	Send      *SendStep      `json:"send,omitempty"`
	Wait      *WaitStep      `json:"wait,omitempty"`
	Condition *ConditionStep `json:"condition,omitempty"`
	Branch    *BranchStep    `json:"branch,omitempty"`
}

type SendStep struct {
	Channel  string `json:"channel"`
	Template string `json:"template"`
}

// WaitStep is either a fixed duration ("48h") or a relative anchor
// expression: Anchor names a timestamp captured in the enrollment
// context ("appointment.start") and Offset shifts it ("-48h").
type WaitStep struct {
	Duration string `json:"duration,omitempty"`
	Anchor   string `json:"anchor,omitempty"`
	Offset   string `json:"offset,omitempty"`
}

type ConditionStep struct {
	If      Predicate `json:"if"`
	OnTrue  string    `json:"on_true"`
	OnFalse string    `json:"on_false"`
}

type BranchStep struct {
	Cases   []BranchCase `json:"cases"`
	Default string       `json:"default"`
}

type BranchCase struct {
	When Predicate `json:"when"`
	Then string    `json:"then"`
}

// WakeTime computes when a wait elapses. ok is false when the step is
// anchored but the anchor value is missing from the context, in which
// case the wait is treated as already elapsed.
func (w *WaitStep) WakeTime(ctx map[string]any, now time.Time) (time.Time, bool) {
	if w.Anchor != "" {
		base, found := AnchorTime(ctx, w.Anchor)
		if !found {
			return time.Time{}, false
		}
		if w.Offset != "" {
			off, err := time.ParseDuration(w.Offset)
			if err != nil {
				return time.Time{}, false
			}
			base = base.Add(off)
		}
		return base, true
	}
	d, err := time.ParseDuration(w.Duration)
	if err != nil {
		return time.Time{}, false
	}
	return now.Add(d), true
}

// Validate checks the wait payload shape; called at campaign activation.
func (w *WaitStep) Validate() error {
	if w.Anchor != "" {
		if w.Offset != "" {
			if _, err := time.ParseDuration(w.Offset); err != nil {
				return fmt.Errorf("bad wait offset %q: %w", w.Offset, err)
			}
		}
		return nil
	}
	if w.Duration == "" {
		return fmt.Errorf("wait step needs a duration or an anchor")
	}
	d, err := time.ParseDuration(w.Duration)
	if err != nil {
		return fmt.Errorf("bad wait duration %q: %w", w.Duration, err)
	}
	if d <= 0 {
		return fmt.Errorf("wait duration must be positive, got %s", d)
	}
	return nil
}

// AnchorTime resolves a dotted path like "appointment.start" against a
// JSON-shaped context and parses the leaf as RFC3339.
func AnchorTime(ctx map[string]any, path string) (time.Time, bool) {
	var cur any = ctx
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return time.Time{}, false
		}
		cur, ok = m[part]
		if !ok {
			return time.Time{}, false
		}
	}
	switch v := cur.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}
