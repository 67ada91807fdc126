package entitlement

import (
	"time"

	"tapcard/internal/card/models"
)

// TierInput carries everything tier resolution may consult. User may be nil
// for anonymous cards.
type TierInput struct {
	Card             *models.Card
	User             *models.User
	EffectiveBilling models.EffectiveBilling
}

// ResolveEffectiveTier computes the feature tier with strict precedence:
// card admin tier, then user admin tier (each only while live), then the tier
// derived from the effective billing plan, then free.
//
// An override with no `until` is live forever; one with `until` is live while
// `until > now`.
func ResolveEffectiveTier(in TierInput, now time.Time) models.EffectiveTier {
	if card := in.Card; card != nil && card.AdminTier != nil && overrideLive(card.AdminTierUntil, now) {
		return models.EffectiveTier{
			Tier:   *card.AdminTier,
			Source: models.TierSourceCardAdmin,
			Until:  card.AdminTierUntil,
		}
	}

	if user := in.User; user != nil && user.AdminTier != nil && overrideLive(user.AdminTierUntil, now) {
		return models.EffectiveTier{
			Tier:   *user.AdminTier,
			Source: models.TierSourceUserAdmin,
			Until:  user.AdminTierUntil,
		}
	}

	switch in.EffectiveBilling.Plan {
	case models.PlanYearly:
		return models.EffectiveTier{Tier: models.TierPremium, Source: models.TierSourceBilling}
	case models.PlanMonthly:
		return models.EffectiveTier{Tier: models.TierBasic, Source: models.TierSourceBilling}
	case models.PlanFree:
		return models.EffectiveTier{Tier: models.TierFree, Source: models.TierSourceBilling}
	}

	// Unreachable with a well-formed billing plan; kept for totality.
	return models.EffectiveTier{Tier: models.TierFree, Source: models.TierSourceDefault}
}

func overrideLive(until *time.Time, now time.Time) bool {
	return until == nil || until.After(now)
}
