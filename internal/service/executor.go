// internal/service/executor.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/gateway"
	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
)

const (
	maxSendAttempts  = 5
	retryBackoffBase = time.Minute
	retryBackoffCap  = time.Hour
	// waitGrace: a freshly computed wait target already in the past by
	// more than this is treated as elapsed and advanced in the same
	// pass; anything closer is parked and picked up on the next poll.
	waitGrace = 5 * time.Minute
)

// Dispatcher is what the executor needs from the dispatch gateway.
type Dispatcher interface {
	Send(ctx context.Context, req gateway.DispatchRequest) (gateway.DispatchResult, error)
}

// StepExecutor interprets the current step of a leased enrollment and
// produces the next state transition. Every write goes through the
// version-checked save, so steps within one enrollment execute strictly
// in graph order even across competing workers.
type StepExecutor struct {
	Enrollments repository.EnrollmentRepositoryInterface
	Executions  repository.ExecutionRepositoryInterface
	Directory   repository.RecipientRepositoryInterface
	Guard       SendGuard
	Gateway     Dispatcher
}

// Execute drives the enrollment forward from its current step until it
// parks (waiting), terminates, or hits a retryable failure. Condition
// and branch hops and immediately-eligible sends chain in the same pass.
func (x *StepExecutor) Execute(ctx context.Context, campaign *model.CampaignDefinition, e *model.Enrollment, now time.Time) error {
	rec, err := x.Directory.GetByID(e.RecipientID)
	if err != nil {
		return fmt.Errorf("load recipient %d: %w", e.RecipientID, err)
	}
	if rec == nil {
		x.appendRecord(campaign, e, e.CurrentStepID, model.ResultSkipped, 0, "recipient no longer in directory", "", "", now)
		return x.finish(e, model.EnrollmentSkipped)
	}

	// Bounded by graph size: the graph is validated acyclic at
	// activation, so running out of hops means a corrupted definition.
	for hops := 0; hops <= len(campaign.Steps)*2; hops++ {
		if e.Status.Terminal() {
			return nil
		}
		step := campaign.Step(e.CurrentStepID)
		if step == nil {
			return x.finish(e, model.EnrollmentCompleted)
		}

		var proceed bool
		switch step.Type {
		case model.StepWait:
			proceed, err = x.execWait(campaign, e, step, now)
		case model.StepCondition:
			proceed, err = x.execCondition(campaign, e, step, rec, now)
		case model.StepBranch:
			proceed, err = x.execBranch(campaign, e, step, rec, now)
		case model.StepSend:
			proceed, err = x.execSend(ctx, campaign, e, step, rec, now)
		default:
			return fmt.Errorf("enrollment %d: unknown step type %q", e.ID, step.Type)
		}
		if err != nil || !proceed {
			return err
		}
	}
	return fmt.Errorf("enrollment %d: step graph of campaign %d did not terminate", e.ID, campaign.ID)
}

// execWait either acknowledges an elapsed wait (the enrollment was
// leased because next_wake_at passed) or computes the wake time from
// the step's duration or anchor. A missing anchor or a target past the
// grace tolerance counts as already elapsed.
func (x *StepExecutor) execWait(campaign *model.CampaignDefinition, e *model.Enrollment, step *model.StepDefinition, now time.Time) (bool, error) {
	if e.Status == model.EnrollmentWaiting && e.NextWakeAt != nil && !e.NextWakeAt.After(now) {
		return true, x.advance(campaign, e, step)
	}

	wake, ok := step.Wait.WakeTime(e.Context, now)
	if !ok || wake.Before(now.Add(-waitGrace)) {
		return true, x.advance(campaign, e, step)
	}
	e.Status = model.EnrollmentWaiting
	e.NextWakeAt = &wake
	x.clearLease(e)
	return false, x.save(e)
}

func (x *StepExecutor) execCondition(campaign *model.CampaignDefinition, e *model.Enrollment, step *model.StepDefinition, rec *model.Recipient, now time.Time) (bool, error) {
	matched, err := step.Condition.If.Evaluate(model.EvalContext{
		Now:        now,
		Context:    e.Context,
		Attributes: rec.Attrs,
	})
	if err != nil {
		return false, fmt.Errorf("enrollment %d step %s: %w", e.ID, step.ID, err)
	}
	result := model.ResultConditionFalse
	next := step.Condition.OnFalse
	if matched {
		result = model.ResultConditionTrue
		next = step.Condition.OnTrue
	}
	x.appendRecord(campaign, e, step.ID, result, 0, "", "", "", now)
	e.CurrentStepID = next
	e.Status = model.EnrollmentActive
	e.Attempts = 0
	e.NextWakeAt = nil
	return true, x.save(e)
}

func (x *StepExecutor) execBranch(campaign *model.CampaignDefinition, e *model.Enrollment, step *model.StepDefinition, rec *model.Recipient, now time.Time) (bool, error) {
	ec := model.EvalContext{Now: now, Context: e.Context, Attributes: rec.Attrs}
	next := step.Branch.Default
	for _, c := range step.Branch.Cases {
		matched, err := c.When.Evaluate(ec)
		if err != nil {
			return false, fmt.Errorf("enrollment %d step %s: %w", e.ID, step.ID, err)
		}
		if matched {
			next = c.Then
			break
		}
	}
	e.CurrentStepID = next
	e.Status = model.EnrollmentActive
	e.Attempts = 0
	e.NextWakeAt = nil
	return true, x.save(e)
}

func (x *StepExecutor) execSend(ctx context.Context, campaign *model.CampaignDefinition, e *model.Enrollment, step *model.StepDefinition, rec *model.Recipient, now time.Time) (bool, error) {
	// Crash resume: a sent record for this (enrollment, step) means the
	// dispatch happened before a previous worker died. Advance, don't
	// resend.
	already, err := x.Executions.HasResult(e.ID, step.ID, model.ResultSent)
	if err != nil {
		return false, err
	}
	if already {
		return true, x.advance(campaign, e, step)
	}

	verdict, err := x.Guard.CheckSend(rec, campaign.Type, step.Send.Channel, now, campaign.RateCapDays)
	if err != nil {
		return false, err
	}
	switch verdict.Kind {
	case VerdictDeny:
		x.appendRecord(campaign, e, step.ID, model.ResultSkipped, 0, verdict.Reason, "", step.Send.Channel, now)
		return false, x.finish(e, model.EnrollmentUnsubscribed)
	case VerdictDefer:
		// Not a failure: park on the same step until the window or cap
		// opens up, without advancing.
		e.Status = model.EnrollmentWaiting
		until := verdict.Until
		e.NextWakeAt = &until
		x.clearLease(e)
		return false, x.save(e)
	}

	body := RenderTemplate(step.Send.Template, TemplateData(rec, e.Context))
	attempt := e.Attempts + 1
	result, err := x.Gateway.Send(ctx, gateway.DispatchRequest{
		RecipientID: rec.ID,
		Channel:     step.Send.Channel,
		To:          recipientAddress(rec, step.Send.Channel),
		Template:    step.Send.Template,
		Body:        body,
	})
	if err != nil {
		return false, x.handleSendFailure(campaign, e, step, attempt, err, now)
	}

	sent := &model.StepExecutionRecord{
		EnrollmentID: e.ID,
		StepID:       step.ID,
		Attempt:      attempt,
		Result:       model.ResultSent,
		RecipientID:  e.RecipientID,
		CampaignType: campaign.Type,
		Channel:      step.Send.Channel,
		DispatchID:   result.DispatchID,
		StartedAt:    now,
	}
	// The sent record lands before the enrollment advances; if we crash
	// in between, the resume check above keeps the send single-shot.
	if err := x.Executions.Append(sent); err != nil {
		return false, err
	}
	return true, x.advance(campaign, e, step)
}

func (x *StepExecutor) handleSendFailure(campaign *model.CampaignDefinition, e *model.Enrollment, step *model.StepDefinition, attempt int, sendErr error, now time.Time) error {
	var de *appErrors.ChannelDeliveryError
	transient := errors.As(sendErr, &de) && de.Transient

	if !transient {
		x.appendRecord(campaign, e, step.ID, model.ResultPermanent, attempt, sendErr.Error(), "", step.Send.Channel, now)
		return x.finish(e, model.EnrollmentFailed)
	}

	x.appendRecord(campaign, e, step.ID, model.ResultRetryable, attempt, sendErr.Error(), "", step.Send.Channel, now)
	if attempt >= maxSendAttempts {
		x.appendRecord(campaign, e, step.ID, model.ResultPermanent, attempt, "retries exhausted: "+sendErr.Error(), "", step.Send.Channel, now)
		return x.finish(e, model.EnrollmentFailed)
	}

	// Same step retries when due; only this recipient's path is affected.
	e.Attempts = attempt
	e.Status = model.EnrollmentWaiting
	wake := now.Add(retryBackoff(attempt))
	e.NextWakeAt = &wake
	x.clearLease(e)
	return x.save(e)
}

// advance moves the enrollment to the sequential successor of a SEND or
// WAIT step, completing it at the graph terminus.
func (x *StepExecutor) advance(campaign *model.CampaignDefinition, e *model.Enrollment, step *model.StepDefinition) error {
	next := campaign.NextStepID(step)
	if next == "" {
		return x.finish(e, model.EnrollmentCompleted)
	}
	e.CurrentStepID = next
	e.Status = model.EnrollmentActive
	e.Attempts = 0
	e.NextWakeAt = nil
	return x.save(e)
}

func (x *StepExecutor) finish(e *model.Enrollment, status model.EnrollmentStatus) error {
	e.Status = status
	e.NextWakeAt = nil
	x.clearLease(e)
	return x.save(e)
}

func (x *StepExecutor) save(e *model.Enrollment) error {
	return x.Enrollments.Save(e, e.Version)
}

func (x *StepExecutor) clearLease(e *model.Enrollment) {
	e.LeaseOwner = ""
	e.LeaseExpiresAt = nil
}

func (x *StepExecutor) appendRecord(campaign *model.CampaignDefinition, e *model.Enrollment, stepID string, result model.StepResult, attempt int, errDetail, dispatchID, channel string, now time.Time) {
	rec := &model.StepExecutionRecord{
		EnrollmentID: e.ID,
		StepID:       stepID,
		Attempt:      attempt,
		Result:       result,
		Error:        errDetail,
		RecipientID:  e.RecipientID,
		CampaignType: campaign.Type,
		Channel:      channel,
		DispatchID:   dispatchID,
		StartedAt:    now,
	}
	if err := x.Executions.Append(rec); err != nil {
		// The log is observability + idempotency; a failed append must
		// not lose the enrollment transition.
		log.Println("⚠️ failed to append execution record:", err)
	}
}

func retryBackoff(attempt int) time.Duration {
	d := retryBackoffBase << uint(attempt-1)
	if d > retryBackoffCap {
		d = retryBackoffCap
	}
	return d
}

func recipientAddress(rec *model.Recipient, channel string) string {
	if channel == "email" {
		return rec.Email
	}
	return rec.Phone
}
