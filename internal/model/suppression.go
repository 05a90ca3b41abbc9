// internal/model/suppression.go
package model

import "time"

// SuppressionEntry is a global opt-out flag for a recipient, effective
// across every marketing-type campaign. The engine consults the list
// before each send but never owns it.
type SuppressionEntry struct {
	RecipientID int       `db:"recipient_id" json:"recipient_id"`
	Reason      string    `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
