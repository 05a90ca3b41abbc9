// internal/model/execution.go
package model

import "time"

type StepResult string

const (
	ResultSent           StepResult = "sent"
	ResultSkipped        StepResult = "skipped"
	ResultConditionTrue  StepResult = "condition_true"
	ResultConditionFalse StepResult = "condition_false"
	ResultRetryable      StepResult = "failed_retryable"
	ResultPermanent      StepResult = "failed_permanent"
)

// StepExecutionRecord is the append-only execution log. Recipient id,
// campaign type and channel are denormalized onto sent records so the
// rate guard can read its rolling send window from this one table, and
// so the log doubles as the idempotency check on resume.
type StepExecutionRecord struct {
	ID           int          `db:"id" json:"id"`
	EnrollmentID int          `db:"enrollment_id" json:"enrollment_id"`
	StepID       string       `db:"step_id" json:"step_id"`
	Attempt      int          `db:"attempt" json:"attempt"`
	Result       StepResult   `db:"result" json:"result"`
	Error        string       `db:"error" json:"error,omitempty"`
	RecipientID  int          `db:"recipient_id" json:"recipient_id"`
	CampaignType CampaignType `db:"campaign_type" json:"campaign_type"`
	Channel      string       `db:"channel" json:"channel,omitempty"`
	// DispatchID correlates the async delivery-status callback from the
	// messaging hub. DeliveryStatus is recorded for audit only; no step
	// branches on it.
	DispatchID     string    `db:"dispatch_id" json:"dispatch_id,omitempty"`
	DeliveryStatus string    `db:"delivery_status" json:"delivery_status,omitempty"`
	StartedAt      time.Time `db:"started_at" json:"started_at"`
}
