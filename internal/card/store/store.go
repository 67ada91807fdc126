// Package store persists card and user documents. Stores are interface-driven
// so the claim workflow and the cleanup sweep stay testable against the
// in-memory implementation, with PostgreSQL behind the same contract in
// production.
package store

import (
	"context"
	"time"

	"tapcard/internal/card/models"
	id "tapcard/pkg/domain"
)

// CardStore provides atomic single-document access to cards.
//
// Update must enforce the one-card-per-user invariant and return
// sentinel.ErrConflict when another card already holds the same owner. That
// constraint is the last line of defense against two concurrent claims.
type CardStore interface {
	Save(ctx context.Context, card *models.Card) error
	Update(ctx context.Context, card *models.Card) error
	FindByID(ctx context.Context, cardID id.CardID) (*models.Card, error)
	FindByUserID(ctx context.Context, userID id.UserID) (*models.Card, error)
	FindByAnonymousID(ctx context.Context, anonID id.AnonymousID) (*models.Card, error)
	ListTrialDeleteDue(ctx context.Context, now time.Time) ([]*models.Card, error)
	Delete(ctx context.Context, cardID id.CardID) error
}

// UserStore provides atomic single-document access to users.
type UserStore interface {
	Save(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
}
