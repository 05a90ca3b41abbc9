// internal/repository/execution_repository.go
package repository

import (
	"database/sql"
	"time"

	"github.com/unclebandit/clinicreach-backend/internal/model"
)

type ExecutionRepositoryInterface interface {
	Append(rec *model.StepExecutionRecord) error
	// HasResult is the idempotency check on crash resume: a worker that
	// re-leases an enrollment asks whether a sent record already exists
	// for (enrollment, step) before dispatching again.
	HasResult(enrollmentID int, stepID string, result model.StepResult) (bool, error)
	CountMarketingSends(recipientID int, since time.Time) (int, error)
	OldestMarketingSendSince(recipientID int, since time.Time) (*time.Time, error)
	RecordDelivery(dispatchID, status string) error
	ListByEnrollment(enrollmentID int) ([]*model.StepExecutionRecord, error)
}

type ExecutionRepository struct {
	DB *sql.DB
}

func (r *ExecutionRepository) Append(rec *model.StepExecutionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	query := `
        INSERT INTO step_executions (enrollment_id, step_id, attempt, result, error,
            recipient_id, campaign_type, channel, dispatch_id, started_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		rec.EnrollmentID, rec.StepID, rec.Attempt, rec.Result, rec.Error,
		rec.RecipientID, rec.CampaignType, rec.Channel, rec.DispatchID, rec.StartedAt,
	).Scan(&rec.ID)
}

func (r *ExecutionRepository) HasResult(enrollmentID int, stepID string, result model.StepResult) (bool, error) {
	var count int
	err := r.DB.QueryRow(`
        SELECT COUNT(*) FROM step_executions
        WHERE enrollment_id=$1 AND step_id=$2 AND result=$3`,
		enrollmentID, stepID, result).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountMarketingSends reads the rolling send window for the rate guard.
// The append-only log is the counter: no mutable per-recipient tally to
// race on.
func (r *ExecutionRepository) CountMarketingSends(recipientID int, since time.Time) (int, error) {
	var count int
	err := r.DB.QueryRow(`
        SELECT COUNT(*) FROM step_executions
        WHERE recipient_id=$1 AND campaign_type='marketing' AND result='sent' AND started_at > $2`,
		recipientID, since).Scan(&count)
	return count, err
}

// OldestMarketingSendSince gives the guard the instant the current cap
// window frees up.
func (r *ExecutionRepository) OldestMarketingSendSince(recipientID int, since time.Time) (*time.Time, error) {
	var at sql.NullTime
	err := r.DB.QueryRow(`
        SELECT MIN(started_at) FROM step_executions
        WHERE recipient_id=$1 AND campaign_type='marketing' AND result='sent' AND started_at > $2`,
		recipientID, since).Scan(&at)
	if err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

// RecordDelivery stores the async hub disposition against the matching
// sent record. Audit only; the record is otherwise immutable.
func (r *ExecutionRepository) RecordDelivery(dispatchID, status string) error {
	_, err := r.DB.Exec(`
        UPDATE step_executions SET delivery_status=$1 WHERE dispatch_id=$2 AND result='sent'`,
		status, dispatchID)
	return err
}

func (r *ExecutionRepository) ListByEnrollment(enrollmentID int) ([]*model.StepExecutionRecord, error) {
	query := `
        SELECT id, enrollment_id, step_id, attempt, result, error, recipient_id,
               campaign_type, channel, dispatch_id, delivery_status, started_at
        FROM step_executions WHERE enrollment_id=$1 ORDER BY id
    `
	rows, err := r.DB.Query(query, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*model.StepExecutionRecord{}
	for rows.Next() {
		var rec model.StepExecutionRecord
		var deliveryStatus sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.EnrollmentID, &rec.StepID, &rec.Attempt, &rec.Result, &rec.Error,
			&rec.RecipientID, &rec.CampaignType, &rec.Channel, &rec.DispatchID, &deliveryStatus, &rec.StartedAt,
		); err != nil {
			return nil, err
		}
		rec.DeliveryStatus = deliveryStatus.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

var _ ExecutionRepositoryInterface = (*ExecutionRepository)(nil)
