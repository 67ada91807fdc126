package store

import (
	"context"
	"sync"
	"time"

	"tapcard/internal/card/models"
	id "tapcard/pkg/domain"
	"tapcard/pkg/platform/sentinel"
)

// InMemoryCardStore keeps card documents in process memory. It enforces the
// same ownership uniqueness the PostgreSQL store does so claim tests exercise
// the real contract.
type InMemoryCardStore struct {
	mu    sync.RWMutex
	cards map[id.CardID]*models.Card
}

func NewInMemoryCardStore() *InMemoryCardStore {
	return &InMemoryCardStore{cards: make(map[id.CardID]*models.Card)}
}

func (s *InMemoryCardStore) Save(_ context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOwnerUnique(card); err != nil {
		return err
	}
	s.cards[card.ID] = cloneCard(card)
	return nil
}

func (s *InMemoryCardStore) Update(_ context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[card.ID]; !ok {
		return sentinel.ErrNotFound
	}
	if err := s.checkOwnerUnique(card); err != nil {
		return err
	}
	s.cards[card.ID] = cloneCard(card)
	return nil
}

// checkOwnerUnique mirrors the partial unique index on cards.user_id.
// Callers must hold the write lock.
func (s *InMemoryCardStore) checkOwnerUnique(card *models.Card) error {
	if card.UserID == nil {
		return nil
	}
	for _, existing := range s.cards {
		if existing.ID != card.ID && existing.UserID != nil && *existing.UserID == *card.UserID {
			return sentinel.ErrConflict
		}
	}
	return nil
}

func (s *InMemoryCardStore) FindByID(_ context.Context, cardID id.CardID) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if card, ok := s.cards[cardID]; ok {
		return cloneCard(card), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryCardStore) FindByUserID(_ context.Context, userID id.UserID) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, card := range s.cards {
		if card.UserID != nil && *card.UserID == userID {
			return cloneCard(card), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryCardStore) FindByAnonymousID(_ context.Context, anonID id.AnonymousID) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if anonID.IsEmpty() {
		return nil, sentinel.ErrNotFound
	}
	for _, card := range s.cards {
		if card.AnonymousID == anonID {
			return cloneCard(card), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryCardStore) ListTrialDeleteDue(_ context.Context, now time.Time) ([]*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*models.Card
	for _, card := range s.cards {
		if card.TrialDeleteAt != nil && !now.Before(*card.TrialDeleteAt) {
			due = append(due, cloneCard(card))
		}
	}
	return due, nil
}

func (s *InMemoryCardStore) Delete(_ context.Context, cardID id.CardID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cards, cardID)
	return nil
}

// cloneCard copies the document so callers never share mutable state with
// the store.
func cloneCard(card *models.Card) *models.Card {
	cp := *card
	if card.UserID != nil {
		uid := *card.UserID
		cp.UserID = &uid
	}
	cp.Billing = cloneBilling(card.Billing)
	if card.AdminOverride != nil {
		o := *card.AdminOverride
		cp.AdminOverride = &o
	}
	cp.AdminTier = cloneTier(card.AdminTier)
	cp.AdminTierUntil = cloneTime(card.AdminTierUntil)
	cp.TrialStartedAt = cloneTime(card.TrialStartedAt)
	cp.TrialEndsAt = cloneTime(card.TrialEndsAt)
	cp.TrialDeleteAt = cloneTime(card.TrialDeleteAt)
	cp.Gallery = append([]models.GalleryItem(nil), card.Gallery...)
	cp.Uploads = append([]models.Upload(nil), card.Uploads...)
	return &cp
}

func cloneBilling(b *models.Billing) *models.Billing {
	if b == nil {
		return nil
	}
	cp := *b
	cp.PaidUntil = cloneTime(b.PaidUntil)
	if b.Features != nil {
		cp.Features = make(map[string]bool, len(b.Features))
		for k, v := range b.Features {
			cp.Features[k] = v
		}
	}
	return &cp
}

func cloneTier(t *models.Tier) *models.Tier {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// InMemoryUserStore keeps user documents in process memory.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[id.UserID]*models.User
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[id.UserID]*models.User)}
}

func (s *InMemoryUserStore) Save(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *InMemoryUserStore) Update(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[userID]; ok {
		return cloneUser(user), nil
	}
	return nil, sentinel.ErrNotFound
}

func cloneUser(user *models.User) *models.User {
	cp := *user
	if user.CardID != nil {
		cid := *user.CardID
		cp.CardID = &cid
	}
	if user.Subscription != nil {
		sub := *user.Subscription
		sub.ExpiresAt = cloneTime(user.Subscription.ExpiresAt)
		cp.Subscription = &sub
	}
	cp.AdminTier = cloneTier(user.AdminTier)
	cp.AdminTierUntil = cloneTime(user.AdminTierUntil)
	return &cp
}
