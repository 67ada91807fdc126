package service

import (
	"time"

	"tapcard/internal/card/models"
	"tapcard/internal/entitlement"
)

// CardView is the owner-facing resolved card: the document plus everything
// derived from it.
type CardView struct {
	Card         *models.Card            `json:"card"`
	Billing      models.EffectiveBilling `json:"billing"`
	Tier         models.EffectiveTier    `json:"tier"`
	Entitlements models.Entitlements     `json:"entitlements"`
}

// PublicCardView is the visitor-facing projection. Billing internals never
// leave the server; the page only needs display data and the lock state.
type PublicCardView struct {
	CardID      string               `json:"cardId"`
	DisplayName string               `json:"displayName,omitempty"`
	Headline    string               `json:"headline,omitempty"`
	Design      models.Design        `json:"design"`
	Gallery     []models.GalleryItem `json:"gallery,omitempty"`
	Tier        models.Tier          `json:"tier"`
	// Locked marks an expired-trial card; the page renders a placeholder
	// instead of the content.
	Locked bool `json:"locked"`
}

// resolve derives the full view for a card and its (possibly nil) owner.
func resolve(card *models.Card, user *models.User, now time.Time) *CardView {
	eb := entitlement.ResolveBilling(card, now)
	et := entitlement.ResolveEffectiveTier(entitlement.TierInput{
		Card:             card,
		User:             user,
		EffectiveBilling: eb,
	}, now)
	return &CardView{
		Card:         card,
		Billing:      eb,
		Tier:         et,
		Entitlements: entitlement.ComputeEntitlements(card, eb, et, now),
	}
}

func publicView(card *models.Card, tier models.Tier, locked bool) *PublicCardView {
	view := &PublicCardView{
		CardID: card.ID.String(),
		Tier:   tier,
		Locked: locked,
	}
	if locked {
		return view
	}
	view.DisplayName = card.DisplayName
	view.Headline = card.Headline
	view.Design = card.Design
	view.Gallery = card.Gallery
	return view
}
