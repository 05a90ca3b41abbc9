// internal/service/audience.go
package service

import (
	"log"
	"time"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
)

// AudienceMatcher evaluates campaign inclusion/exclusion criteria
// against the recipient directory. Read-only; directory failures are
// retried with backoff and then surfaced as AudienceQueryError so the
// trigger pass re-queues instead of silently skipping the audience.
type AudienceMatcher struct {
	Directory repository.RecipientRepositoryInterface

	PageSize    int
	MaxRetries  int
	BackoffBase time.Duration
}

func (m *AudienceMatcher) pageSize() int {
	if m.PageSize <= 0 {
		return 200
	}
	return m.PageSize
}

// Matches evaluates criteria against an already-loaded recipient.
func (m *AudienceMatcher) Matches(rec *model.Recipient, criteria, exclusion model.Criteria) bool {
	if rec == nil {
		return false
	}
	if !criteria.Match(rec) {
		return false
	}
	if !exclusion.Empty() && exclusion.Match(rec) {
		return false
	}
	return true
}

// MatchesRecipient is the single-recipient check for event triggers. It
// returns the loaded recipient so callers don't hit the directory twice.
func (m *AudienceMatcher) MatchesRecipient(recipientID int, criteria, exclusion model.Criteria) (bool, *model.Recipient, error) {
	var rec *model.Recipient
	err := m.withRetry(func() error {
		var err error
		rec, err = m.Directory.GetByID(recipientID)
		return err
	})
	if err != nil {
		return false, nil, &appErrors.AudienceQueryError{Err: err}
	}
	return m.Matches(rec, criteria, exclusion), rec, nil
}

// Enumerate streams matching recipients page by page, never holding the
// full audience in memory. fn returning an error stops the walk.
func (m *AudienceMatcher) Enumerate(criteria, exclusion model.Criteria, fn func(*model.Recipient) error) error {
	afterID := 0
	for {
		var page []*model.Recipient
		err := m.withRetry(func() error {
			var err error
			page, err = m.Directory.FindPage(afterID, m.pageSize())
			return err
		})
		if err != nil {
			return &appErrors.AudienceQueryError{Err: err}
		}
		if len(page) == 0 {
			return nil
		}
		for _, rec := range page {
			afterID = rec.ID
			if !m.Matches(rec, criteria, exclusion) {
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
}

func (m *AudienceMatcher) withRetry(op func() error) error {
	retries := m.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	base := m.BackoffBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		log.Printf("directory query failed (attempt %d/%d): %v", attempt+1, retries, err)
		if attempt < retries-1 {
			time.Sleep(base << uint(attempt))
		}
	}
	return err
}
