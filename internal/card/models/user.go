package models

import (
	"time"

	id "tapcard/pkg/domain"
)

// Subscription mirrors the provider-reported subscription state on the user.
// It is informational here; billing truth for a card lives on the card.
type Subscription struct {
	Status    string     `json:"status,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Provider  string     `json:"provider,omitempty"`
}

// User is the persisted account document.
//
// Invariant: at most one card per user. CardID is set by the claim workflow;
// the persistence layer backs this up with a unique constraint on card
// ownership as the last line of defense against concurrent claims.
type User struct {
	ID     id.UserID  `json:"id"`
	Email  string     `json:"email,omitempty"`
	CardID *id.CardID `json:"cardId,omitempty"`

	Plan         PlanKind      `json:"plan,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`

	AdminTier      *Tier      `json:"adminTier,omitempty"`
	AdminTierUntil *time.Time `json:"adminTierUntil,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// HasCard reports whether the user already owns a card.
func (u *User) HasCard() bool {
	return u.CardID != nil && !u.CardID.IsNil()
}
