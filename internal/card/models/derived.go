package models

import "time"

// EffectiveBilling is the single resolved billing truth for a card after
// applying override precedence. It is derived, immutable, and never persisted.
type EffectiveBilling struct {
	Status     BillingStatus `json:"status"`
	Plan       PlanKind      `json:"plan"`
	PaidUntil  *time.Time    `json:"paidUntil,omitempty"`
	Source     BillingSource `json:"source"`
	IsPaid     bool          `json:"isPaid"`
	IsEntitled bool          `json:"isEntitled"`
}

// EffectiveTier is the single resolved feature-level truth for a card.
type EffectiveTier struct {
	Tier   Tier       `json:"tier"`
	Source TierSource `json:"source"`
	Until  *time.Time `json:"until,omitempty"`
}

// Entitlements is the final, UI-facing capability set derived from effective
// billing and tier. All fields are computed; none are stored.
type Entitlements struct {
	CanEdit      bool    `json:"canEdit"`
	LockedReason *string `json:"lockedReason,omitempty"`

	GalleryLimit     int  `json:"galleryLimit"`
	CanUploadGallery bool `json:"canUploadGallery"`

	CanUseLeads   bool `json:"canUseLeads"`
	CanUseVideo   bool `json:"canUseVideo"`
	CanUseReviews bool `json:"canUseReviews"`

	AnalyticsLevel         AnalyticsLevel `json:"analyticsLevel"`
	CanViewAnalytics       bool           `json:"canViewAnalytics"`
	AnalyticsRetentionDays int            `json:"analyticsRetentionDays"`

	DesignCustomColors bool `json:"designCustomColors"`
	DesignCustomFonts  bool `json:"designCustomFonts"`
}
