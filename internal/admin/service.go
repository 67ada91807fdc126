// Package admin implements the operator surface: manual billing overrides,
// tier grants, and per-card audit history.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tapcard/internal/audit"
	"tapcard/internal/card/models"
	"tapcard/internal/card/store"
	id "tapcard/pkg/domain"
	dErrors "tapcard/pkg/domain-errors"
	"tapcard/pkg/platform/sentinel"
)

// AuditLog is what the service needs from the audit layer.
type AuditLog interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, cardID string) ([]audit.Event, error)
}

// Invalidator drops a cached public projection after an admin change.
type Invalidator func(ctx context.Context, cardID id.CardID)

type Service struct {
	cards      store.CardStore
	users      store.UserStore
	logger     *slog.Logger
	audit      AuditLog
	invalidate Invalidator
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditLog(log AuditLog) Option {
	return func(s *Service) { s.audit = log }
}

// WithInvalidator hooks cache invalidation for the public card view.
func WithInvalidator(fn Invalidator) Option {
	return func(s *Service) { s.invalidate = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cards store.CardStore, users store.UserStore, opts ...Option) (*Service, error) {
	if cards == nil {
		return nil, errors.New("card store is required")
	}
	if users == nil {
		return nil, errors.New("user store is required")
	}
	svc := &Service{
		cards:  cards,
		users:  users,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// OverrideInput is a manual billing grant. Until bounds it; expired overrides
// are ignored by billing resolution, so setting one in the past is an error.
type OverrideInput struct {
	Plan   models.PlanKind
	Until  time.Time
	Admin  string
	Reason string
}

// SetCardOverride attaches a time-bounded billing override to the card.
func (s *Service) SetCardOverride(ctx context.Context, cardID id.CardID, input OverrideInput) (*models.Card, error) {
	now := s.now()
	if !input.Plan.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown plan %q", input.Plan)
	}
	if !input.Until.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "override must end in the future")
	}
	if input.Admin == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "admin identity is required")
	}

	card, err := s.loadCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	card.AdminOverride = &models.AdminOverride{
		Plan:      input.Plan,
		Until:     input.Until,
		ByAdmin:   input.Admin,
		Reason:    input.Reason,
		CreatedAt: now,
	}
	card.UpdatedAt = now
	if err := s.saveCard(ctx, card); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Action: audit.EventOverrideSet,
		CardID: cardID.String(),
		Actor:  input.Admin,
		Reason: input.Reason,
	})
	return card, nil
}

// ClearCardOverride removes the card's billing override if one is present.
func (s *Service) ClearCardOverride(ctx context.Context, cardID id.CardID, admin string) (*models.Card, error) {
	card, err := s.loadCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.AdminOverride == nil {
		return card, nil
	}

	card.AdminOverride = nil
	card.UpdatedAt = s.now()
	if err := s.saveCard(ctx, card); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Action: audit.EventOverrideCleared,
		CardID: cardID.String(),
		Actor:  admin,
	})
	return card, nil
}

// TierInput grants a tier directly, bypassing billing derivation. A nil
// Until makes the grant open-ended.
type TierInput struct {
	Tier  models.Tier
	Until *time.Time
	Admin string
}

// SetCardTier pins the card's tier. The card-level grant outranks both the
// owner's grant and billing-derived tiers.
func (s *Service) SetCardTier(ctx context.Context, cardID id.CardID, input TierInput) (*models.Card, error) {
	if err := validateTier(input, s.now()); err != nil {
		return nil, err
	}

	card, err := s.loadCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	tier := input.Tier
	card.AdminTier = &tier
	card.AdminTierUntil = input.Until
	card.UpdatedAt = s.now()
	if err := s.saveCard(ctx, card); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Action:  audit.EventTierGranted,
		CardID:  cardID.String(),
		Actor:   input.Admin,
		Outcome: tier.String(),
	})
	return card, nil
}

// SetUserTier grants a tier on the account. It applies to whichever card the
// user owns now or claims later.
func (s *Service) SetUserTier(ctx context.Context, userID id.UserID, input TierInput) (*models.User, error) {
	if err := validateTier(input, s.now()); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	tier := input.Tier
	user.AdminTier = &tier
	user.AdminTierUntil = input.Until
	if err := s.users.Update(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist user")
	}

	event := audit.Event{
		Action:  audit.EventTierGranted,
		UserID:  userID.String(),
		Actor:   input.Admin,
		Outcome: tier.String(),
	}
	if user.CardID != nil {
		event.CardID = user.CardID.String()
		if s.invalidate != nil {
			s.invalidate(ctx, *user.CardID)
		}
	}
	s.emit(ctx, event)
	return user, nil
}

// CardAudit returns the audit trail for one card, newest last.
func (s *Service) CardAudit(ctx context.Context, cardID id.CardID) ([]audit.Event, error) {
	if s.audit == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "audit log not configured")
	}
	events, err := s.audit.List(ctx, cardID.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable")
	}
	return events, nil
}

func validateTier(input TierInput, now time.Time) error {
	if !input.Tier.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown tier %q", input.Tier)
	}
	if input.Until != nil && !input.Until.After(now) {
		return dErrors.New(dErrors.CodeValidation, "tier grant must end in the future")
	}
	if input.Admin == "" {
		return dErrors.New(dErrors.CodeValidation, "admin identity is required")
	}
	return nil
}

func (s *Service) loadCard(ctx context.Context, cardID id.CardID) (*models.Card, error) {
	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "card not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load card")
	}
	return card, nil
}

func (s *Service) saveCard(ctx context.Context, card *models.Card) error {
	if err := s.cards.Update(ctx, card); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist card")
	}
	if s.invalidate != nil {
		s.invalidate(ctx, card.ID)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
