// internal/model/event.go
package model

import "time"

// DomainEvent is the inbound trigger payload from the booking, billing
// and treatment systems. Delivery is at-least-once; enrollment creation
// downstream must be idempotent per (campaign, recipient).
type DomainEvent struct {
	Type        string         `json:"event_type"`
	RecipientID int            `json:"recipient_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload"`
}
