// internal/repository/campaign_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.CampaignDefinition) error
	Update(c *model.CampaignDefinition) error
	UpdateStatus(campaignID int, status model.CampaignStatus) error
	GetByID(id int) (*model.CampaignDefinition, error)
	ListCampaigns(offset, limit int, ctype, status string) ([]*model.CampaignDefinition, int, error)
	ListByStatus(status model.CampaignStatus) ([]*model.CampaignDefinition, error)
	MarkTriggered(campaignID int, at time.Time) error
	Delete(campaignID int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, type, status, version, trigger_type, trigger_event, trigger_at,
	recurrence, last_run_at, criteria, exclusion, recontact_days, rate_cap_days, steps,
	created_at, updated_at`

func (r *CampaignRepository) Create(c *model.CampaignDefinition) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.Version == 0 {
		c.Version = 1
	}
	criteria, exclusion, steps, err := marshalCampaignBlobs(c)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO campaigns (name, type, status, version, trigger_type, trigger_event, trigger_at,
            recurrence, criteria, exclusion, recontact_days, rate_cap_days, steps, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		c.Name, c.Type, c.Status, c.Version, c.TriggerType, c.TriggerEvent, c.TriggerAt,
		c.Recurrence, criteria, exclusion, c.RecontactDays, c.RateCapDays, steps, c.CreatedAt,
	).Scan(&c.ID)
}

// Update rewrites the definition and bumps its version. The service
// layer only allows this while the campaign is draft; once active the
// step graph is immutable and edits mean a new version.
func (r *CampaignRepository) Update(c *model.CampaignDefinition) error {
	criteria, exclusion, steps, err := marshalCampaignBlobs(c)
	if err != nil {
		return err
	}
	query := `
        UPDATE campaigns
        SET name=$1, type=$2, trigger_type=$3, trigger_event=$4, trigger_at=$5, recurrence=$6,
            criteria=$7, exclusion=$8, recontact_days=$9, rate_cap_days=$10, steps=$11,
            version=version+1, updated_at=NOW()
        WHERE id=$12
    `
	res, err := r.DB.Exec(query,
		c.Name, c.Type, c.TriggerType, c.TriggerEvent, c.TriggerAt, c.Recurrence,
		criteria, exclusion, c.RecontactDays, c.RateCapDays, steps, c.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	c.Version++
	return nil
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	res, err := r.DB.Exec(query, status, time.Now(), campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

func (r *CampaignRepository) GetByID(id int) (*model.CampaignDefinition, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, ctype, status string) ([]*model.CampaignDefinition, int, error) {
	campaigns := []*model.CampaignDefinition{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if ctype != "" {
		query += fmt.Sprintf(" AND type=$%d", argPos)
		args = append(args, ctype)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if ctype != "" {
		countQuery += fmt.Sprintf(" AND type=$%d", argPosCount)
		argsCount = append(argsCount, ctype)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) ListByStatus(status model.CampaignStatus) ([]*model.CampaignDefinition, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY id`
	rows, err := r.DB.Query(query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.CampaignDefinition{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) MarkTriggered(campaignID int, at time.Time) error {
	query := `UPDATE campaigns SET last_run_at=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, at, campaignID)
	return err
}

func (r *CampaignRepository) Delete(campaignID int) error {
	res, err := r.DB.Exec(`DELETE FROM campaigns WHERE id=$1 AND status='draft'`, campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.CampaignDefinition, error) {
	var c model.CampaignDefinition
	var criteria, exclusion, steps []byte
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.Status, &c.Version, &c.TriggerType, &c.TriggerEvent, &c.TriggerAt,
		&c.Recurrence, &c.LastRunAt, &criteria, &exclusion, &c.RecontactDays, &c.RateCapDays, &steps,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(criteria, &c.Criteria); err != nil {
		return nil, fmt.Errorf("decode criteria for campaign %d: %w", c.ID, err)
	}
	if err := json.Unmarshal(exclusion, &c.Exclusion); err != nil {
		return nil, fmt.Errorf("decode exclusion for campaign %d: %w", c.ID, err)
	}
	if err := json.Unmarshal(steps, &c.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for campaign %d: %w", c.ID, err)
	}
	return &c, nil
}

func marshalCampaignBlobs(c *model.CampaignDefinition) (criteria, exclusion, steps []byte, err error) {
	if criteria, err = json.Marshal(c.Criteria); err != nil {
		return
	}
	if exclusion, err = json.Marshal(c.Exclusion); err != nil {
		return
	}
	steps, err = json.Marshal(c.Steps)
	return
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
