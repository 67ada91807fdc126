// Package audit captures key card lifecycle actions as structured events.
// Events are transport-agnostic; stores and sinks decide where they land.
package audit

import (
	"context"
	"time"

	"github.com/mssola/useragent"
)

// Event is emitted from domain logic. Identifiers are strings so events stay
// decoupled from the domain ID types.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	CardID    string    `json:"cardId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	// AnonHash is the namespaced hash of the visitor ID, never the raw value.
	AnonHash  string `json:"anonHash,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Device    string `json:"device,omitempty"`
	// Migrated counts storage objects moved during a claim.
	Migrated int    `json:"migrated,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

const (
	EventCardCreated     = "card_created"
	EventCardUpdated     = "card_updated"
	EventTrialStarted    = "trial_started"
	EventCardClaimed     = "card_claimed"
	EventClaimRejected   = "claim_rejected"
	EventCardPurged      = "card_purged"
	EventOverrideSet     = "billing_override_set"
	EventOverrideCleared = "billing_override_cleared"
	EventTierGranted     = "tier_granted"
)

// Store receives events. Write-only sinks may reject ListByCard with
// sentinel.ErrUnavailable.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCard(ctx context.Context, cardID string) ([]Event, error)
}

// DeviceFromUserAgent condenses a User-Agent header into a short
// browser/platform label for event enrichment.
func DeviceFromUserAgent(header string) string {
	if header == "" {
		return ""
	}
	ua := useragent.New(header)
	name, version := ua.Browser()
	if name == "" {
		return ""
	}
	label := name
	if version != "" {
		label += "/" + version
	}
	if os := ua.OS(); os != "" {
		label += " (" + os + ")"
	}
	if ua.Mobile() {
		label += " mobile"
	}
	return label
}
