// internal/model/enrollment.go
package model

import "time"

type EnrollmentStatus string

const (
	EnrollmentPending      EnrollmentStatus = "pending"
	EnrollmentActive       EnrollmentStatus = "active"
	EnrollmentWaiting      EnrollmentStatus = "waiting"
	EnrollmentCompleted    EnrollmentStatus = "completed"
	EnrollmentFailed       EnrollmentStatus = "failed"
	EnrollmentSkipped      EnrollmentStatus = "skipped"
	EnrollmentUnsubscribed EnrollmentStatus = "unsubscribed"
	EnrollmentCancelled    EnrollmentStatus = "cancelled"
)

// TerminalStatuses are the states an enrollment never leaves. The
// one-open-enrollment-per-(campaign, recipient) uniqueness invariant
// only counts rows outside this set.
var TerminalStatuses = []EnrollmentStatus{
	EnrollmentCompleted,
	EnrollmentFailed,
	EnrollmentSkipped,
	EnrollmentUnsubscribed,
	EnrollmentCancelled,
}

func (s EnrollmentStatus) Terminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// Enrollment is one recipient's live progress through one campaign's
// step graph. Created by the trigger listener, mutated only by a
// scheduler worker holding a valid lease, never deleted.
type Enrollment struct {
	ID              int              `db:"id" json:"id"`
	CampaignID      int              `db:"campaign_id" json:"campaign_id"`
	CampaignVersion int              `db:"campaign_version" json:"campaign_version"`
	RecipientID     int              `db:"recipient_id" json:"recipient_id"`
	CurrentStepID   string           `db:"current_step_id" json:"current_step_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	NextWakeAt      *time.Time       `db:"next_wake_at" json:"next_wake_at,omitempty"`
	// Context holds anchor values captured at enrollment time (e.g. the
	// appointment timestamp relative waits are computed from). Refreshed
	// when the source record changes; already-fired sends stay fired.
	Context map[string]any `db:"context" json:"context"`
	// Attempts counts dispatch tries for the current step only; reset
	// when the enrollment advances.
	Attempts       int        `db:"attempts" json:"attempts"`
	LeaseOwner     string     `db:"lease_owner" json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	// Version is the optimistic-concurrency counter checked on every save.
	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
