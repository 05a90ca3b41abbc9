// internal/model/campaign.go
package model

import (
	"fmt"
	"strings"
	"time"
)

type CampaignType string

const (
	CampaignMarketing CampaignType = "marketing"
	CampaignReminder  CampaignType = "reminder"
	CampaignFollowUp  CampaignType = "follow_up"
	CampaignSurvey    CampaignType = "survey"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignArchived  CampaignStatus = "archived"
)

type TriggerType string

const (
	TriggerEvent     TriggerType = "event"
	TriggerScheduled TriggerType = "scheduled"
	TriggerRecurring TriggerType = "recurring"
)

// CampaignDefinition is the declarative workflow: trigger + audience +
// step graph. The engine only reads active/paused definitions; authoring
// happens through the admin surface while the campaign is draft.
type CampaignDefinition struct {
	ID            int              `db:"id" json:"id"`
	Name          string           `db:"name" json:"name"`
	Type          CampaignType     `db:"type" json:"type"`
	Status        CampaignStatus   `db:"status" json:"status"`
	Version       int              `db:"version" json:"version"`
	TriggerType   TriggerType      `db:"trigger_type" json:"trigger_type"`
	TriggerEvent  string           `db:"trigger_event" json:"trigger_event,omitempty"`
	TriggerAt     *time.Time       `db:"trigger_at" json:"trigger_at,omitempty"`
	Recurrence    string           `db:"recurrence" json:"recurrence,omitempty"`
	LastRunAt     *time.Time       `db:"last_run_at" json:"last_run_at,omitempty"`
	Criteria      Criteria         `db:"criteria" json:"criteria"`
	Exclusion     Criteria         `db:"exclusion" json:"exclusion"`
	RecontactDays int              `db:"recontact_days" json:"recontact_days,omitempty"`
	RateCapDays   int              `db:"rate_cap_days" json:"rate_cap_days,omitempty"`
	Steps         []StepDefinition `db:"steps" json:"steps"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
}

// Step returns the step with the given id, or nil.
func (c *CampaignDefinition) Step(id string) *StepDefinition {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i]
		}
	}
	return nil
}

// NextStepID resolves the sequential successor of a SEND or WAIT step:
// the step's explicit next reference, or the following step in declared
// order. Empty string means the graph terminates after this step.
// CONDITION and BRANCH pick their own successors.
func (c *CampaignDefinition) NextStepID(step *StepDefinition) string {
	if step.Next != "" {
		return step.Next
	}
	for i := range c.Steps {
		if c.Steps[i].ID == step.ID {
			if i+1 < len(c.Steps) {
				return c.Steps[i+1].ID
			}
			return ""
		}
	}
	return ""
}

// FirstStepID returns the entry step of the graph.
func (c *CampaignDefinition) FirstStepID() string {
	if len(c.Steps) == 0 {
		return ""
	}
	return c.Steps[0].ID
}

// Recurrence is a parsed recurring-trigger rule, e.g. "every 168h" or
// "every 24h at 09:00".
type Recurrence struct {
	Every  time.Duration
	AtHour int
	AtMin  int
	HasAt  bool
}

// ParseRecurrence parses a recurrence rule. A malformed rule is a
// campaign validation error surfaced at activation, never at trigger time.
func ParseRecurrence(rule string) (*Recurrence, error) {
	fields := strings.Fields(strings.TrimSpace(rule))
	if len(fields) < 2 || fields[0] != "every" {
		return nil, fmt.Errorf("recurrence must start with 'every <duration>': %q", rule)
	}
	every, err := time.ParseDuration(fields[1])
	if err != nil {
		return nil, fmt.Errorf("bad recurrence interval %q: %w", fields[1], err)
	}
	if every < time.Minute {
		return nil, fmt.Errorf("recurrence interval %s is below 1m", every)
	}
	r := &Recurrence{Every: every}
	if len(fields) == 2 {
		return r, nil
	}
	if len(fields) != 4 || fields[2] != "at" {
		return nil, fmt.Errorf("recurrence tail must be 'at HH:MM': %q", rule)
	}
	if _, err := fmt.Sscanf(fields[3], "%d:%d", &r.AtHour, &r.AtMin); err != nil {
		return nil, fmt.Errorf("bad recurrence time %q: %w", fields[3], err)
	}
	if r.AtHour < 0 || r.AtHour > 23 || r.AtMin < 0 || r.AtMin > 59 {
		return nil, fmt.Errorf("recurrence time %q out of range", fields[3])
	}
	r.HasAt = true
	return r, nil
}

// Due reports whether a recurring campaign should fire at now, given the
// last time it fired. A never-fired campaign is due on the first tick.
func (r *Recurrence) Due(lastRun *time.Time, now time.Time) bool {
	if lastRun == nil {
		if !r.HasAt {
			return true
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), r.AtHour, r.AtMin, 0, 0, now.Location())
		return !now.Before(at)
	}
	next := lastRun.Add(r.Every)
	if r.HasAt {
		next = time.Date(next.Year(), next.Month(), next.Day(), r.AtHour, r.AtMin, 0, 0, next.Location())
	}
	return !now.Before(next)
}
