// internal/repository/recipient_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/clinicreach-backend/internal/model"
)

// RecipientRepositoryInterface is the read-only recipient directory
// contract: point lookups plus keyset pages so the audience matcher
// never materializes a whole clinic in memory.
type RecipientRepositoryInterface interface {
	GetByID(id int) (*model.Recipient, error)
	FindPage(afterID, limit int) ([]*model.Recipient, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

func (r *RecipientRepository) GetByID(id int) (*model.Recipient, error) {
	query := `
        SELECT id, phone, email, first_name, last_name, location, time_zone, tags, attrs
        FROM recipients
        WHERE id = $1
    `
	rec, err := scanRecipient(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return rec, nil
}

// FindPage returns recipients with id > afterID in id order. Criteria
// filtering happens in the matcher; the directory only pages.
func (r *RecipientRepository) FindPage(afterID, limit int) ([]*model.Recipient, error) {
	query := `
        SELECT id, phone, email, first_name, last_name, location, time_zone, tags, attrs
        FROM recipients
        WHERE id > $1
        ORDER BY id
        LIMIT $2
    `
	rows, err := r.DB.Query(query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []*model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var rec model.Recipient
	var attrs []byte
	if err := row.Scan(
		&rec.ID, &rec.Phone, &rec.Email, &rec.FirstName, &rec.LastName,
		&rec.Location, &rec.TimeZone, pq.Array(&rec.Tags), &attrs,
	); err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attrs); err != nil {
			return nil, fmt.Errorf("decode attrs for recipient %d: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
