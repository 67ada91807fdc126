package models

// PlanKind is the billing plan attached to a card or subscription.
// The legacy top-level `plan` field and the billing sub-document share this
// enum.
type PlanKind string

const (
	PlanFree    PlanKind = "free"
	PlanMonthly PlanKind = "monthly"
	PlanYearly  PlanKind = "yearly"
)

// IsValid checks if the plan is one of the supported enum values.
func (p PlanKind) IsValid() bool {
	switch p {
	case PlanFree, PlanMonthly, PlanYearly:
		return true
	}
	return false
}

// IsPaidPlan reports whether the plan represents a recurring paid plan.
func (p PlanKind) IsPaidPlan() bool {
	return p == PlanMonthly || p == PlanYearly
}

func (p PlanKind) String() string { return string(p) }

// BillingStatus is the lifecycle state of a card's billing sub-document.
type BillingStatus string

const (
	BillingFree   BillingStatus = "free"
	BillingTrial  BillingStatus = "trial"
	BillingActive BillingStatus = "active"
)

// IsValid checks if the status is one of the supported enum values.
func (s BillingStatus) IsValid() bool {
	switch s {
	case BillingFree, BillingTrial, BillingActive:
		return true
	}
	return false
}

func (s BillingStatus) String() string { return string(s) }

// Tier is the feature level a card resolves to after override precedence.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium:
		return true
	}
	return false
}

func (t Tier) String() string { return string(t) }

// BillingSource records which input won the effective-billing resolution.
// Invariant: exactly one source wins; an active admin override always wins.
type BillingSource string

const (
	BillingSourceAdminOverride BillingSource = "adminOverride"
	BillingSourceBilling       BillingSource = "billing"
	BillingSourceLegacyPlan    BillingSource = "legacyPlan"
)

// TierSource records which input won the effective-tier resolution.
type TierSource string

const (
	TierSourceCardAdmin TierSource = "cardAdminTier"
	TierSourceUserAdmin TierSource = "userAdminTier"
	TierSourceBilling   TierSource = "billingDerived"
	TierSourceDefault   TierSource = "default"
)

// AnalyticsLevel is the analytics capability exposed to the UI.
type AnalyticsLevel string

const (
	AnalyticsNone    AnalyticsLevel = "none"
	AnalyticsDemo    AnalyticsLevel = "demo"
	AnalyticsBasic   AnalyticsLevel = "basic"
	AnalyticsPremium AnalyticsLevel = "premium"
)
