// internal/repository/enrollment_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/model"
)

// EnrollmentRepositoryInterface is the enrollment store contract. Rows
// are the only mutable shared resource in the engine; LeaseDue and Save
// carry the whole concurrency-safety story.
type EnrollmentRepositoryInterface interface {
	Create(e *model.Enrollment) error
	GetByID(id int) (*model.Enrollment, error)
	// LeaseDue atomically claims up to limit due enrollments for owner:
	// pending/active rows, or waiting rows whose next_wake_at has passed,
	// belonging to active campaigns, unleased or with an expired lease.
	LeaseDue(now time.Time, owner string, leaseFor time.Duration, limit int) ([]*model.Enrollment, error)
	// Save writes the enrollment only if the stored version still equals
	// expectedVersion, then bumps it. A mismatch returns
	// SchedulerLeaseConflict and the caller re-reads.
	Save(e *model.Enrollment, expectedVersion int) error
	ReleaseLease(id int, owner string) error
	HasOpen(campaignID, recipientID int) (bool, error)
	LastEnrolledAt(campaignID, recipientID int) (*time.Time, error)
	ListOpenByRecipient(recipientID int) ([]*model.Enrollment, error)
	CancelOpenByCampaign(campaignID int) (int, error)
	StatsByCampaign(campaignID int) (map[string]int, error)
}

type EnrollmentRepository struct {
	DB *sql.DB
}

const enrollmentColumns = `id, campaign_id, campaign_version, recipient_id, current_step_id, status,
	next_wake_at, context, attempts, lease_owner, lease_expires_at, version, created_at, updated_at`

// Create inserts a new enrollment. The partial unique index on
// (campaign_id, recipient_id) over non-terminal rows makes the
// one-open-enrollment invariant hold under concurrent inserts; the
// unique violation maps to EnrollmentConflict instead of a
// check-then-insert race.
func (r *EnrollmentRepository) Create(e *model.Enrollment) error {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = model.EnrollmentPending
	}
	if e.Version == 0 {
		e.Version = 1
	}
	ctx, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("encode enrollment context: %w", err)
	}
	query := `
        INSERT INTO enrollments (campaign_id, campaign_version, recipient_id, current_step_id,
            status, next_wake_at, context, attempts, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	err = r.DB.QueryRow(query,
		e.CampaignID, e.CampaignVersion, e.RecipientID, e.CurrentStepID,
		e.Status, e.NextWakeAt, ctx, e.Attempts, e.Version, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return &appErrors.EnrollmentConflict{CampaignID: e.CampaignID, RecipientID: e.RecipientID}
		}
		return err
	}
	return nil
}

func (r *EnrollmentRepository) GetByID(id int) (*model.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id=$1`
	e, err := scanEnrollment(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// LeaseDue is the single contention point across scheduler workers. The
// claim is one conditional UPDATE over a SKIP LOCKED subselect, so two
// workers can never lease the same row; a crashed worker's rows come
// back when its lease expires.
func (r *EnrollmentRepository) LeaseDue(now time.Time, owner string, leaseFor time.Duration, limit int) ([]*model.Enrollment, error) {
	expires := now.Add(leaseFor)
	query := `
        UPDATE enrollments e
        SET lease_owner=$1, lease_expires_at=$2, updated_at=$3
        FROM (
            SELECT e2.id
            FROM enrollments e2
            JOIN campaigns c ON c.id = e2.campaign_id AND c.status = 'active'
            WHERE (e2.status IN ('pending', 'active')
                   OR (e2.status = 'waiting' AND e2.next_wake_at <= $3))
              AND (e2.lease_owner = '' OR e2.lease_owner IS NULL OR e2.lease_expires_at <= $3)
            ORDER BY e2.next_wake_at NULLS FIRST
            LIMIT $4
            FOR UPDATE OF e2 SKIP LOCKED
        ) due
        WHERE e.id = due.id
        RETURNING ` + qualify("e", enrollmentColumns)
	rows, err := r.DB.Query(query, owner, expires, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leased := []*model.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		leased = append(leased, e)
	}
	return leased, rows.Err()
}

func (r *EnrollmentRepository) Save(e *model.Enrollment, expectedVersion int) error {
	ctx, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("encode enrollment context: %w", err)
	}
	query := `
        UPDATE enrollments
        SET current_step_id=$1, status=$2, next_wake_at=$3, context=$4, attempts=$5,
            lease_owner=$6, lease_expires_at=$7, version=version+1, updated_at=NOW()
        WHERE id=$8 AND version=$9
    `
	res, err := r.DB.Exec(query,
		e.CurrentStepID, e.Status, e.NextWakeAt, ctx, e.Attempts,
		e.LeaseOwner, e.LeaseExpiresAt, e.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &appErrors.SchedulerLeaseConflict{EnrollmentID: e.ID}
	}
	e.Version = expectedVersion + 1
	return nil
}

func (r *EnrollmentRepository) ReleaseLease(id int, owner string) error {
	query := `UPDATE enrollments SET lease_owner='', lease_expires_at=NULL WHERE id=$1 AND lease_owner=$2`
	_, err := r.DB.Exec(query, id, owner)
	return err
}

func (r *EnrollmentRepository) HasOpen(campaignID, recipientID int) (bool, error) {
	var count int
	err := r.DB.QueryRow(`
        SELECT COUNT(*) FROM enrollments
        WHERE campaign_id=$1 AND recipient_id=$2
          AND status NOT IN ('completed', 'failed', 'skipped', 'unsubscribed', 'cancelled')`,
		campaignID, recipientID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *EnrollmentRepository) LastEnrolledAt(campaignID, recipientID int) (*time.Time, error) {
	var at sql.NullTime
	err := r.DB.QueryRow(`
        SELECT MAX(created_at) FROM enrollments
        WHERE campaign_id=$1 AND recipient_id=$2`,
		campaignID, recipientID).Scan(&at)
	if err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

func (r *EnrollmentRepository) ListOpenByRecipient(recipientID int) ([]*model.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
        WHERE recipient_id=$1
          AND status NOT IN ('completed', 'failed', 'skipped', 'unsubscribed', 'cancelled')`
	rows, err := r.DB.Query(query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	open := []*model.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		open = append(open, e)
	}
	return open, rows.Err()
}

// CancelOpenByCampaign force-cancels every non-terminal enrollment of an
// archived campaign. Rows are kept for audit, never deleted.
func (r *EnrollmentRepository) CancelOpenByCampaign(campaignID int) (int, error) {
	res, err := r.DB.Exec(`
        UPDATE enrollments
        SET status='cancelled', next_wake_at=NULL, version=version+1, updated_at=NOW()
        WHERE campaign_id=$1
          AND status NOT IN ('completed', 'failed', 'skipped', 'unsubscribed', 'cancelled')`,
		campaignID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *EnrollmentRepository) StatsByCampaign(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM enrollments WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{}
	for _, s := range []model.EnrollmentStatus{
		model.EnrollmentPending, model.EnrollmentActive, model.EnrollmentWaiting,
		model.EnrollmentCompleted, model.EnrollmentFailed, model.EnrollmentSkipped,
		model.EnrollmentUnsubscribed, model.EnrollmentCancelled,
	} {
		stats[string(s)] = 0
	}
	total := 0
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		total += count
	}
	stats["total"] = total
	return stats, rows.Err()
}

func scanEnrollment(row rowScanner) (*model.Enrollment, error) {
	var e model.Enrollment
	var ctx []byte
	var owner sql.NullString
	err := row.Scan(
		&e.ID, &e.CampaignID, &e.CampaignVersion, &e.RecipientID, &e.CurrentStepID, &e.Status,
		&e.NextWakeAt, &ctx, &e.Attempts, &owner, &e.LeaseExpiresAt, &e.Version,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.LeaseOwner = owner.String
	if len(ctx) > 0 {
		if err := json.Unmarshal(ctx, &e.Context); err != nil {
			return nil, fmt.Errorf("decode context for enrollment %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

func qualify(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

var _ EnrollmentRepositoryInterface = (*EnrollmentRepository)(nil)
