// internal/service/scheduler.go
package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
)

// Scheduler is one worker's polling loop: lease due enrollments, hand
// them to the executor, release. Multiple Scheduler instances run
// against the shared store across processes; exclusivity comes entirely
// from the atomic lease claim, never from in-process locks.
type Scheduler struct {
	Enrollments repository.EnrollmentRepositoryInterface
	Campaigns   repository.CampaignRepositoryInterface
	Executor    *StepExecutor

	Owner         string
	PollInterval  time.Duration
	LeaseDuration time.Duration
	BatchSize     int
}

func NewScheduler(enrollments repository.EnrollmentRepositoryInterface, campaigns repository.CampaignRepositoryInterface, executor *StepExecutor) *Scheduler {
	return &Scheduler{
		Enrollments:   enrollments,
		Campaigns:     campaigns,
		Executor:      executor,
		Owner:         uuid.NewString(),
		PollInterval:  2 * time.Second,
		LeaseDuration: 30 * time.Second,
		BatchSize:     100,
	}
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("scheduler %s polling every %s", s.Owner, s.PollInterval)
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler %s shutting down", s.Owner)
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, time.Now()); err != nil {
				log.Printf("⚠️ scheduler %s poll failed: %v", s.Owner, err)
			}
		}
	}
}

// RunOnce leases one batch of due work and executes it, returning how
// many enrollments were processed. A lease conflict on one enrollment
// only skips that enrollment; a fresher worker already owns it.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := s.Enrollments.LeaseDue(now, s.Owner, s.LeaseDuration, s.BatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	campaignCache := map[int]*model.CampaignDefinition{}
	for _, e := range due {
		campaign := campaignCache[e.CampaignID]
		if campaign == nil {
			campaign, err = s.Campaigns.GetByID(e.CampaignID)
			if err != nil {
				log.Printf("⚠️ enrollment %d: load campaign %d: %v", e.ID, e.CampaignID, err)
				s.release(e)
				continue
			}
			campaignCache[e.CampaignID] = campaign
		}

		if err := s.Executor.Execute(ctx, campaign, e, now); err != nil {
			if appErrors.IsLeaseConflict(err) {
				log.Printf("enrollment %d: concurrent update, will retry on next poll", e.ID)
			} else {
				log.Printf("⚠️ enrollment %d: execution failed: %v", e.ID, err)
			}
			s.release(e)
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *Scheduler) release(e *model.Enrollment) {
	if err := s.Enrollments.ReleaseLease(e.ID, s.Owner); err != nil {
		// Harmless: the lease expires on its own and the row is re-picked.
		log.Printf("release lease on enrollment %d: %v", e.ID, err)
	}
}
