// Package entitlement contains the pure resolvers that derive a card's
// effective billing, effective tier, and final entitlement set. Every function
// here is a pure function of its inputs and `now`; none of them block or
// fail, so they are safe to call from concurrent request handlers without
// coordination.
package entitlement

import (
	"time"

	"tapcard/internal/card/models"
)

// ResolveBilling computes the effective billing state for a card.
//
// Precedence: an unexpired admin override wins outright; otherwise the stored
// billing sub-document is taken verbatim; otherwise the legacy plan field is
// mapped to a synthetic billing state.
func ResolveBilling(card *models.Card, now time.Time) models.EffectiveBilling {
	if card == nil {
		return models.EffectiveBilling{
			Status: models.BillingFree,
			Plan:   models.PlanFree,
			Source: models.BillingSourceLegacyPlan,
		}
	}

	eb := resolveBillingSource(card, now)
	eb.IsPaid = isPaid(eb, now)
	eb.IsEntitled = eb.IsPaid || inActiveTrial(card, now)
	return eb
}

func resolveBillingSource(card *models.Card, now time.Time) models.EffectiveBilling {
	if o := card.AdminOverride; o != nil && o.Until.After(now) {
		until := o.Until
		return models.EffectiveBilling{
			Status:    models.BillingActive,
			Plan:      o.Plan,
			PaidUntil: &until,
			Source:    models.BillingSourceAdminOverride,
		}
	}

	if b := card.Billing; b != nil {
		return models.EffectiveBilling{
			Status:    b.Status,
			Plan:      b.Plan,
			PaidUntil: b.PaidUntil,
			Source:    models.BillingSourceBilling,
		}
	}

	status := models.BillingFree
	if card.Plan.IsPaidPlan() {
		status = models.BillingActive
	}
	plan := card.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	return models.EffectiveBilling{
		Status: status,
		Plan:   plan,
		Source: models.BillingSourceLegacyPlan,
	}
}

// IsPaid reports whether the card is currently paid.
//
// Active billing without a paidUntil is treated as paid indefinitely. That is
// a deliberate back-compat affordance for pre-migration documents, not a bug.
func IsPaid(card *models.Card, now time.Time) bool {
	return isPaid(resolveBillingSource(card, now), now)
}

func isPaid(eb models.EffectiveBilling, now time.Time) bool {
	if eb.Status != models.BillingActive {
		return false
	}
	return eb.PaidUntil == nil || eb.PaidUntil.After(now)
}

// inActiveTrial reports whether the card sits inside a started, not yet
// ended trial window.
func inActiveTrial(card *models.Card, now time.Time) bool {
	return card.TrialEndsAt != nil && !now.After(*card.TrialEndsAt)
}
