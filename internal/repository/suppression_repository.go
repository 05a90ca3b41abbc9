// internal/repository/suppression_repository.go
package repository

import (
	"database/sql"
	"time"

	"github.com/unclebandit/clinicreach-backend/internal/model"
)

type SuppressionRepositoryInterface interface {
	IsSuppressed(recipientID int) (bool, error)
	Add(entry *model.SuppressionEntry) error
}

type SuppressionRepository struct {
	DB *sql.DB
}

func (r *SuppressionRepository) IsSuppressed(recipientID int) (bool, error) {
	var count int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM suppressions WHERE recipient_id=$1`, recipientID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *SuppressionRepository) Add(entry *model.SuppressionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := `
        INSERT INTO suppressions (recipient_id, reason, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (recipient_id) DO NOTHING
    `
	_, err := r.DB.Exec(query, entry.RecipientID, entry.Reason, entry.CreatedAt)
	return err
}

var _ SuppressionRepositoryInterface = (*SuppressionRepository)(nil)
