// internal/service/guard.go
package service

import (
	"time"

	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
)

type VerdictKind string

const (
	VerdictAllow VerdictKind = "allow"
	VerdictDeny  VerdictKind = "deny"
	VerdictDefer VerdictKind = "defer"
)

type Verdict struct {
	Kind   VerdictKind
	Reason string
	Until  time.Time
}

func Allow() Verdict { return Verdict{Kind: VerdictAllow} }

func Deny(reason string) Verdict { return Verdict{Kind: VerdictDeny, Reason: reason} }

func Defer(until time.Time, why string) Verdict {
	return Verdict{Kind: VerdictDefer, Reason: why, Until: until}
}

// SendGuard is the gate in front of every dispatch; the executor only
// needs this one method.
type SendGuard interface {
	CheckSend(rec *model.Recipient, campaignType model.CampaignType, channel string, now time.Time, capDays int) (Verdict, error)
}

// ConsentRateGuard applies, in order: the global suppression list, the
// cross-campaign marketing frequency cap, and the send-time window. It
// reads and decides, writing nothing, so any number of workers can call
// it concurrently; the cap is counted from the append-only send log.
type ConsentRateGuard struct {
	Suppressions repository.SuppressionRepositoryInterface
	Executions   repository.ExecutionRepositoryInterface

	// MarketingCapDays is the default rolling window; campaigns may
	// override it per definition.
	MarketingCapDays int
}

const (
	marketingWindowOpen  = 9  // 09:00 recipient-local
	marketingWindowClose = 20 // 20:00 recipient-local
	quietHoursStart      = 21 // non-marketing sends pause 21:00–08:00
	quietHoursEnd        = 8
)

func (g *ConsentRateGuard) CheckSend(rec *model.Recipient, campaignType model.CampaignType, channel string, now time.Time, capDays int) (Verdict, error) {
	suppressed, err := g.Suppressions.IsSuppressed(rec.ID)
	if err != nil {
		return Verdict{}, err
	}
	if suppressed && campaignType == model.CampaignMarketing {
		return Deny("unsubscribed"), nil
	}

	if campaignType == model.CampaignMarketing {
		if capDays <= 0 {
			capDays = g.MarketingCapDays
		}
		if capDays <= 0 {
			capDays = 7
		}
		window := time.Duration(capDays) * 24 * time.Hour
		since := now.Add(-window)
		count, err := g.Executions.CountMarketingSends(rec.ID, since)
		if err != nil {
			return Verdict{}, err
		}
		if count >= 1 {
			oldest, err := g.Executions.OldestMarketingSendSince(rec.ID, since)
			if err != nil {
				return Verdict{}, err
			}
			until := now.Add(window)
			if oldest != nil {
				until = oldest.Add(window)
			}
			return Defer(until, "marketing frequency cap"), nil
		}
	}

	local := now.In(recipientLocation(rec))
	if campaignType == model.CampaignMarketing {
		if local.Hour() < marketingWindowOpen || local.Hour() >= marketingWindowClose {
			return Defer(nextHourBoundary(local, marketingWindowOpen).In(now.Location()), "outside marketing send window"), nil
		}
	} else {
		if local.Hour() >= quietHoursStart || local.Hour() < quietHoursEnd {
			return Defer(nextHourBoundary(local, quietHoursEnd).In(now.Location()), "quiet hours"), nil
		}
	}

	return Allow(), nil
}

func recipientLocation(rec *model.Recipient) *time.Location {
	if rec.TimeZone != "" {
		if loc, err := time.LoadLocation(rec.TimeZone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// nextHourBoundary returns the next instant (strictly after local) at
// which the given local hour starts.
func nextHourBoundary(local time.Time, hour int) time.Time {
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, local.Location())
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

var _ SendGuard = (*ConsentRateGuard)(nil)
