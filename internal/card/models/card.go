// Package models holds the persisted card/user documents and the derived
// value types returned by the pure entitlement resolvers. Nullable document
// fields are modeled as pointers so "absent" and "zero" stay distinguishable.
package models

import (
	"time"

	id "tapcard/pkg/domain"
)

// Billing is the billing sub-document written by the payment webhook layer.
// This core only consumes it.
type Billing struct {
	Status    BillingStatus   `json:"status"`
	Plan      PlanKind        `json:"plan,omitempty"`
	PaidUntil *time.Time      `json:"paidUntil,omitempty"`
	Features  map[string]bool `json:"features,omitempty"`
	Payer     string          `json:"payer,omitempty"`
}

// AdminOverride is a time-bounded manual billing grant set by an operator.
// It always wins billing resolution while Until is in the future.
type AdminOverride struct {
	Plan      PlanKind  `json:"plan"`
	Until     time.Time `json:"until"`
	ByAdmin   string    `json:"byAdmin"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Design holds the card's visual configuration. The *Path fields reference
// objects in storage and participate in claim migration and cleanup; the
// *URL fields are derived and rewritten whenever a path moves.
type Design struct {
	BackgroundPath string `json:"backgroundPath,omitempty"`
	BackgroundURL  string `json:"backgroundUrl,omitempty"`
	AvatarPath     string `json:"avatarPath,omitempty"`
	AvatarURL      string `json:"avatarUrl,omitempty"`
	LogoPath       string `json:"logoPath,omitempty"`
	LogoURL        string `json:"logoUrl,omitempty"`
	FaviconPath    string `json:"faviconPath,omitempty"`
	FaviconURL     string `json:"faviconUrl,omitempty"`
	PrimaryColor   string `json:"primaryColor,omitempty"`
	FontFamily     string `json:"fontFamily,omitempty"`
}

// GalleryItem is one image in the card's gallery.
type GalleryItem struct {
	Path      string `json:"path"`
	ThumbPath string `json:"thumbPath,omitempty"`
	URL       string `json:"url"`
	ThumbURL  string `json:"thumbUrl,omitempty"`
}

// Upload is an append-only audit record of every object ever stored for the
// card, regardless of whether it is still referenced elsewhere.
type Upload struct {
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// Card is the persisted card document.
//
// Ownership invariant: at most one of UserID / AnonymousID is set. The claim
// workflow clears AnonymousID and sets UserID exactly once, never reversed.
// Trial fields are set together by the trial lifecycle and never overwritten
// while present.
type Card struct {
	ID          id.CardID      `json:"id"`
	UserID      *id.UserID     `json:"userId,omitempty"`
	AnonymousID id.AnonymousID `json:"anonymousId,omitempty"`

	DisplayName string `json:"displayName,omitempty"`
	Headline    string `json:"headline,omitempty"`

	Plan          PlanKind       `json:"plan"`
	Billing       *Billing       `json:"billing,omitempty"`
	AdminOverride *AdminOverride `json:"adminOverride,omitempty"`

	AdminTier      *Tier      `json:"adminTier,omitempty"`
	AdminTierUntil *time.Time `json:"adminTierUntil,omitempty"`

	TrialStartedAt *time.Time `json:"trialStartedAt,omitempty"`
	TrialEndsAt    *time.Time `json:"trialEndsAt,omitempty"`
	TrialDeleteAt  *time.Time `json:"trialDeleteAt,omitempty"`

	Design  Design        `json:"design"`
	Gallery []GalleryItem `json:"gallery,omitempty"`
	Uploads []Upload      `json:"uploads,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsOwned reports whether the card has been claimed by a registered user.
func (c *Card) IsOwned() bool {
	return c.UserID != nil && !c.UserID.IsNil()
}

// HasTrialFields reports whether all three trial milestones are stamped.
func (c *Card) HasTrialFields() bool {
	return c.TrialStartedAt != nil && c.TrialEndsAt != nil && c.TrialDeleteAt != nil
}
