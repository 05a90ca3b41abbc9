// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError rejects a bad campaign or step graph at activation
// time; it never reaches the runtime path.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "campaign validation failed: " + strings.Join(e.Issues, "; ")
}

func NewValidationError(issues ...string) error {
	return &ValidationError{Issues: issues}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// EnrollmentConflict means a non-terminal enrollment already exists for
// the (campaign, recipient) pair. Callers drop the request and log it;
// this is how redelivered trigger events stay idempotent.
type EnrollmentConflict struct {
	CampaignID  int
	RecipientID int
}

func (e *EnrollmentConflict) Error() string {
	return fmt.Sprintf("open enrollment already exists for campaign %d recipient %d", e.CampaignID, e.RecipientID)
}

func IsEnrollmentConflict(err error) bool {
	var ec *EnrollmentConflict
	return errors.As(err, &ec)
}

// SchedulerLeaseConflict is an optimistic-concurrency collision on an
// enrollment save. The caller re-reads and retries against fresh state.
type SchedulerLeaseConflict struct {
	EnrollmentID int
}

func (e *SchedulerLeaseConflict) Error() string {
	return fmt.Sprintf("enrollment %d was modified concurrently", e.EnrollmentID)
}

func IsLeaseConflict(err error) bool {
	var lc *SchedulerLeaseConflict
	return errors.As(err, &lc)
}

// AudienceQueryError wraps a recipient-directory failure after retries.
// The trigger pass re-queues on the next tick instead of silently
// skipping the audience.
type AudienceQueryError struct {
	Err error
}

func (e *AudienceQueryError) Error() string {
	return "audience query failed: " + e.Err.Error()
}

func (e *AudienceQueryError) Unwrap() error { return e.Err }

// ChannelDeliveryError is a dispatch failure. Transient failures retry
// with backoff; permanent ones fail the enrollment after recording.
type ChannelDeliveryError struct {
	Reason    string
	Transient bool
}

func (e *ChannelDeliveryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s delivery failure: %s", kind, e.Reason)
}

func IsTransientDelivery(err error) bool {
	var de *ChannelDeliveryError
	return errors.As(err, &de) && de.Transient
}
