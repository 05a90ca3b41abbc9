// internal/service/trigger.go
package service

import (
	"log"
	"time"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
)

const defaultRecontactDays = 30

// TriggerListener converts inbound domain events and wall-clock ticks
// into enrollment requests. It owns no timer; an external cron invokes
// OnTick and the AMQP consumer invokes OnEvent.
type TriggerListener struct {
	Campaigns   repository.CampaignRepositoryInterface
	Enrollments repository.EnrollmentRepositoryInterface
	Matcher     *AudienceMatcher
}

// OnEvent handles one at-least-once delivered domain event: it enrolls
// the recipient into every matching event-triggered campaign and
// refreshes anchor context on the recipient's open enrollments.
// Returning an error makes the consumer requeue the delivery; enrollment
// creation is idempotent per (campaign, recipient) so redelivery is safe.
func (t *TriggerListener) OnEvent(ev model.DomainEvent) error {
	campaigns, err := t.Campaigns.ListByStatus(model.CampaignActive)
	if err != nil {
		return err
	}

	for _, c := range campaigns {
		if c.TriggerType != model.TriggerEvent || c.TriggerEvent != ev.Type {
			continue
		}
		ok, _, err := t.Matcher.MatchesRecipient(ev.RecipientID, c.Criteria, c.Exclusion)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		t.enroll(c, ev.RecipientID, ev.Payload)
	}

	return t.refreshContexts(ev, campaigns)
}

// OnTick fires due scheduled and recurring campaigns. A campaign whose
// audience enumeration fails is left un-marked and retried on the next
// tick (catch-up); enrollment conflicts make the retry idempotent.
func (t *TriggerListener) OnTick(now time.Time) error {
	campaigns, err := t.Campaigns.ListByStatus(model.CampaignActive)
	if err != nil {
		return err
	}

	for _, c := range campaigns {
		switch c.TriggerType {
		case model.TriggerScheduled:
			if c.TriggerAt == nil || c.TriggerAt.After(now) || c.LastRunAt != nil {
				continue
			}
			if err := t.fireAudience(c, nil); err != nil {
				log.Printf("⚠️ campaign %d scheduled trigger failed, retrying next tick: %v", c.ID, err)
				continue
			}
			if err := t.Campaigns.MarkTriggered(c.ID, now); err != nil {
				log.Printf("⚠️ campaign %d: mark triggered: %v", c.ID, err)
			}
		case model.TriggerRecurring:
			rule, err := model.ParseRecurrence(c.Recurrence)
			if err != nil {
				// Validated at activation; reaching this means the row
				// was edited out-of-band. Skip, never crash the tick.
				log.Printf("⚠️ campaign %d has malformed recurrence %q: %v", c.ID, c.Recurrence, err)
				continue
			}
			if !rule.Due(c.LastRunAt, now) {
				continue
			}
			skip := t.recurringSkipFilter(c, now)
			if err := t.fireAudience(c, skip); err != nil {
				log.Printf("⚠️ campaign %d recurring trigger failed, retrying next tick: %v", c.ID, err)
				continue
			}
			if err := t.Campaigns.MarkTriggered(c.ID, now); err != nil {
				log.Printf("⚠️ campaign %d: mark triggered: %v", c.ID, err)
			}
		}
	}
	return nil
}

func (t *TriggerListener) fireAudience(c *model.CampaignDefinition, skip func(recipientID int) bool) error {
	return t.Matcher.Enumerate(c.Criteria, c.Exclusion, func(rec *model.Recipient) error {
		if skip != nil && skip(rec.ID) {
			return nil
		}
		t.enroll(c, rec.ID, nil)
		return nil
	})
}

// recurringSkipFilter excludes recipients with an open enrollment and
// those contacted within the campaign's minimum re-contact interval,
// even if their prior enrollment completed.
func (t *TriggerListener) recurringSkipFilter(c *model.CampaignDefinition, now time.Time) func(recipientID int) bool {
	days := c.RecontactDays
	if days <= 0 {
		days = defaultRecontactDays
	}
	cutoff := now.AddDate(0, 0, -days)
	return func(recipientID int) bool {
		open, err := t.Enrollments.HasOpen(c.ID, recipientID)
		if err != nil {
			log.Printf("⚠️ campaign %d recipient %d: open-enrollment check: %v", c.ID, recipientID, err)
			return true
		}
		if open {
			return true
		}
		last, err := t.Enrollments.LastEnrolledAt(c.ID, recipientID)
		if err != nil {
			log.Printf("⚠️ campaign %d recipient %d: last-enrollment check: %v", c.ID, recipientID, err)
			return true
		}
		return last != nil && last.After(cutoff)
	}
}

func (t *TriggerListener) enroll(c *model.CampaignDefinition, recipientID int, context map[string]any) {
	e := &model.Enrollment{
		CampaignID:      c.ID,
		CampaignVersion: c.Version,
		RecipientID:     recipientID,
		CurrentStepID:   c.FirstStepID(),
		Status:          model.EnrollmentPending,
		Context:         context,
	}
	if err := t.Enrollments.Create(e); err != nil {
		if appErrors.IsEnrollmentConflict(err) {
			log.Printf("enrollment dropped, already open: campaign %d recipient %d", c.ID, recipientID)
			return
		}
		log.Printf("⚠️ failed to enroll recipient %d into campaign %d: %v", recipientID, c.ID, err)
	}
}

// refreshContexts implements the re-anchoring rule: when an event
// carries fresh values for context keys an open enrollment already
// holds (e.g. the appointment was rescheduled), the context is updated
// and a pending anchored wait recomputes its wake time. Already-fired
// sends are never retracted.
func (t *TriggerListener) refreshContexts(ev model.DomainEvent, campaigns []*model.CampaignDefinition) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	open, err := t.Enrollments.ListOpenByRecipient(ev.RecipientID)
	if err != nil {
		return err
	}

	byID := map[int]*model.CampaignDefinition{}
	for _, c := range campaigns {
		byID[c.ID] = c
	}

	for _, e := range open {
		changed := false
		for k, v := range ev.Payload {
			if _, shared := e.Context[k]; shared {
				e.Context[k] = v
				changed = true
			}
		}
		if !changed {
			continue
		}

		if c := byID[e.CampaignID]; c != nil && e.Status == model.EnrollmentWaiting {
			step := c.Step(e.CurrentStepID)
			if step != nil && step.Type == model.StepWait && step.Wait.Anchor != "" {
				if wake, ok := step.Wait.WakeTime(e.Context, ev.OccurredAt); ok {
					e.NextWakeAt = &wake
				}
			}
		}

		if err := t.Enrollments.Save(e, e.Version); err != nil {
			if appErrors.IsLeaseConflict(err) {
				// A worker got there first; the refreshed context will
				// arrive on the event's redelivery or the next event.
				log.Printf("context refresh lost race on enrollment %d", e.ID)
				continue
			}
			return err
		}
	}
	return nil
}
