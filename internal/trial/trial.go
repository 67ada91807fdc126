// Package trial implements the trial lifecycle state machine: a fixed 7-day
// editable window for unpaid cards, followed by a fixed 7-day grace period
// before the card becomes eligible for permanent deletion. Paid cards are
// immune to every check in this package.
package trial

import (
	"time"

	"tapcard/internal/card/models"
	"tapcard/internal/entitlement"
	dErrors "tapcard/pkg/domain-errors"
)

const (
	// Duration is the length of the editable trial window.
	Duration = 7 * 24 * time.Hour
	// GraceDuration is the window between trial end and permanent deletion.
	GraceDuration = 7 * 24 * time.Hour
)

// Dates holds the three trial milestones, always stamped together.
type Dates struct {
	StartedAt time.Time
	EndsAt    time.Time
	DeleteAt  time.Time
}

// ComputeDates derives the trial milestones for a trial starting at now.
func ComputeDates(now time.Time) Dates {
	endsAt := now.Add(Duration)
	return Dates{
		StartedAt: now,
		EndsAt:    endsAt,
		DeleteAt:  endsAt.Add(GraceDuration),
	}
}

// EnsureStarted stamps the trial fields on an unpaid card, mutating it in
// place. The returned bool reports whether the card changed.
//
// Idempotent: calling it twice never double-starts a trial or moves an
// existing window. Fields already present are never overwritten; only missing
// ones are filled, derived from whatever milestones already exist.
func EnsureStarted(card *models.Card, now time.Time) bool {
	if card == nil || entitlement.IsPaid(card, now) {
		return false
	}

	if card.HasTrialFields() {
		// Already started; only normalize a stale billing status.
		if card.Billing != nil && card.Billing.Status == models.BillingFree {
			card.Billing.Status = models.BillingTrial
		}
		return false
	}

	dates := ComputeDates(now)
	if card.TrialStartedAt == nil {
		started := dates.StartedAt
		card.TrialStartedAt = &started
	}
	if card.TrialEndsAt == nil {
		endsAt := card.TrialStartedAt.Add(Duration)
		card.TrialEndsAt = &endsAt
	}
	if card.TrialDeleteAt == nil {
		deleteAt := card.TrialEndsAt.Add(GraceDuration)
		card.TrialDeleteAt = &deleteAt
	}

	if card.Billing == nil {
		plan := card.Plan
		if plan == "" {
			plan = models.PlanFree
		}
		card.Billing = &models.Billing{Status: models.BillingTrial, Plan: plan}
	} else {
		if card.Billing.Status == models.BillingFree {
			card.Billing.Status = models.BillingTrial
		}
		if card.Billing.Plan == "" {
			card.Billing.Plan = card.Plan
		}
	}
	return true
}

// AssertNotLocked is the gate for all write operations. It returns nil for
// paid cards and for cards still inside their trial window, and a
// TRIAL_EXPIRED domain error once the window has passed.
func AssertNotLocked(card *models.Card, now time.Time) error {
	if card == nil {
		return dErrors.New(dErrors.CodeInvalidCard, "card is required")
	}
	if entitlement.IsPaid(card, now) {
		return nil
	}
	if card.TrialEndsAt != nil && now.After(*card.TrialEndsAt) {
		return dErrors.New(dErrors.CodeTrialExpired, "trial has expired; the card is locked")
	}
	return nil
}

// IsExpired answers the read-time question for public pages: has the trial
// ended for this still-unpaid card? Same threshold as the write lock, but
// inclusive of the exact end instant.
func IsExpired(card *models.Card, now time.Time) bool {
	if card == nil || entitlement.IsPaid(card, now) {
		return false
	}
	return card.TrialEndsAt != nil && !now.Before(*card.TrialEndsAt)
}

// IsDeleteDue reports whether the card has outlived its grace window and is
// eligible for permanent deletion. Checked lazily by readers as well as by
// the cleanup sweep.
func IsDeleteDue(card *models.Card, now time.Time) bool {
	if card == nil || entitlement.IsPaid(card, now) {
		return false
	}
	return card.TrialDeleteAt != nil && !now.Before(*card.TrialDeleteAt)
}
