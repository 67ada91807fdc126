package entitlement

import (
	"time"

	"tapcard/internal/card/models"
)

// GalleryLimit is the global gallery size cap. It is deliberately not
// tier-dependent in the current design.
const GalleryLimit = 12

// LockedReasonTrialExpired is the stable lockedReason string the UI matches.
const LockedReasonTrialExpired = "TRIAL_EXPIRED"

// planFeatures is the static feature table keyed by the plan a tier maps to.
type planFeatures struct {
	LeadForm bool
	Video    bool
	Reviews  bool
}

var featureTable = map[models.PlanKind]planFeatures{
	models.PlanFree:    {LeadForm: false, Video: false, Reviews: false},
	models.PlanMonthly: {LeadForm: true, Video: false, Reviews: true},
	models.PlanYearly:  {LeadForm: true, Video: true, Reviews: true},
}

// ComputeEntitlements combines effective billing and tier into the final
// capability set handed to the UI.
func ComputeEntitlements(card *models.Card, eb models.EffectiveBilling, et models.EffectiveTier, now time.Time) models.Entitlements {
	ent := models.Entitlements{
		CanEdit:      eb.IsEntitled,
		GalleryLimit: GalleryLimit,
	}

	if !eb.IsEntitled && trialEndPassed(card, now) {
		reason := LockedReasonTrialExpired
		ent.LockedReason = &reason
	}

	features := featureTable[featurePlanForTier(et.Tier)]
	ent.CanUseLeads = features.LeadForm
	ent.CanUseVideo = features.Video
	ent.CanUseReviews = features.Reviews

	ent.AnalyticsLevel = analyticsLevel(et.Tier, eb)
	ent.CanViewAnalytics = ent.AnalyticsLevel != models.AnalyticsNone
	ent.AnalyticsRetentionDays = analyticsRetentionDays(ent.AnalyticsLevel)

	ent.CanUploadGallery = ent.CanEdit && ent.GalleryLimit > 0

	ent.DesignCustomColors = et.Tier != models.TierFree
	ent.DesignCustomFonts = et.Tier != models.TierFree

	return ent
}

func featurePlanForTier(tier models.Tier) models.PlanKind {
	switch tier {
	case models.TierPremium:
		return models.PlanYearly
	case models.TierBasic:
		return models.PlanMonthly
	default:
		return models.PlanFree
	}
}

// analyticsLevel grants demo analytics to free-tier cards inside an active,
// unpaid trial so trial users can preview the premium dashboard.
func analyticsLevel(tier models.Tier, eb models.EffectiveBilling) models.AnalyticsLevel {
	switch tier {
	case models.TierPremium:
		return models.AnalyticsPremium
	case models.TierBasic:
		return models.AnalyticsBasic
	}
	if eb.Status == models.BillingTrial && eb.IsEntitled && !eb.IsPaid {
		return models.AnalyticsDemo
	}
	return models.AnalyticsNone
}

func analyticsRetentionDays(level models.AnalyticsLevel) int {
	switch level {
	case models.AnalyticsPremium, models.AnalyticsDemo:
		return 30
	case models.AnalyticsBasic:
		return 7
	default:
		return 0
	}
}

func trialEndPassed(card *models.Card, now time.Time) bool {
	return card != nil && card.TrialEndsAt != nil && now.After(*card.TrialEndsAt)
}
