// Package service exposes the card operations behind the HTTP layer:
// create, read (owner and public), update, and gallery uploads. It owns the
// trial gating; stores and storage stay mechanism-only.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tapcard/internal/audit"
	"tapcard/internal/cache"
	"tapcard/internal/card/models"
	"tapcard/internal/card/store"
	"tapcard/internal/entitlement"
	"tapcard/internal/platform/metrics"
	"tapcard/internal/storage"
	"tapcard/internal/trial"
	id "tapcard/pkg/domain"
	dErrors "tapcard/pkg/domain-errors"
	"tapcard/pkg/platform/sentinel"
)

const (
	publicViewTTL       = time.Minute
	publicViewKeyFormat = "card:public:%s"
)

// Principal identifies the caller: an authenticated user, an anonymous
// visitor, or (invalidly) neither.
type Principal struct {
	UserID *id.UserID
	AnonID id.AnonymousID
}

func (p Principal) isAuthenticated() bool {
	return p.UserID != nil && !p.UserID.IsNil()
}

// AuditPublisher is what the service needs from the audit layer.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	cards   store.CardStore
	users   store.UserStore
	objects storage.ObjectStorage
	buckets storage.Buckets

	cache   cache.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher
	now     func() time.Time
}

type Option func(*Service)

func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cards store.CardStore, users store.UserStore, objects storage.ObjectStorage, buckets storage.Buckets, opts ...Option) (*Service, error) {
	if cards == nil {
		return nil, fmt.Errorf("card store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if objects == nil {
		return nil, fmt.Errorf("object storage is required")
	}

	svc := &Service{
		cards:   cards,
		users:   users,
		objects: objects,
		buckets: buckets,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateCardInput carries the initial card content.
type CreateCardInput struct {
	DisplayName string
	Headline    string
}

// CreateCard creates a card for the principal. Anonymous visitors get an
// anonymous card; authenticated users get an owned card, at most one each.
func (s *Service) CreateCard(ctx context.Context, principal Principal, input CreateCardInput) (*CardView, error) {
	now := s.now()
	card := &models.Card{
		ID:          id.NewCardID(),
		DisplayName: input.DisplayName,
		Headline:    input.Headline,
		Plan:        models.PlanFree,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var user *models.User
	switch {
	case principal.isAuthenticated():
		var err error
		user, err = s.users.FindByID(ctx, *principal.UserID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown user")
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
		}
		if user.HasCard() {
			return nil, dErrors.New(dErrors.CodeUserAlreadyHasCard, "user already owns a card")
		}
		card.UserID = principal.UserID
	case !principal.AnonID.IsEmpty():
		if existing, err := s.cards.FindByAnonymousID(ctx, principal.AnonID); err == nil {
			// One card per visitor token; hand back the existing one.
			return resolve(existing, nil, now), nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing card")
		}
		card.AnonymousID = principal.AnonID
	default:
		return nil, dErrors.New(dErrors.CodeMissingAnonID, "anonymous ID or authentication required")
	}

	if err := s.cards.Save(ctx, card); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeUserAlreadyHasCard, "user already owns a card")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save card")
	}

	if user != nil {
		user.CardID = &card.ID
		if err := s.users.Update(ctx, user); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to link card to user")
		}
	}

	s.emit(ctx, audit.Event{Action: audit.EventCardCreated, CardID: card.ID.String()})
	return resolve(card, user, now), nil
}

// GetMyCard returns the caller's resolved card.
func (s *Service) GetMyCard(ctx context.Context, principal Principal) (*CardView, error) {
	card, user, err := s.loadOwn(ctx, principal)
	if err != nil {
		return nil, err
	}

	now := s.now()
	// Delete-due cards are gone from the reader's perspective even if the
	// sweep has not caught up yet.
	if trial.IsDeleteDue(card, now) {
		return nil, dErrors.New(dErrors.CodeNotFound, "card not found")
	}
	return resolve(card, user, now), nil
}

// GetPublicCard returns the visitor-facing projection, cached briefly.
func (s *Service) GetPublicCard(ctx context.Context, cardID id.CardID) (*PublicCardView, error) {
	key := fmt.Sprintf(publicViewKeyFormat, cardID)
	if s.cache != nil {
		var cached PublicCardView
		if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.Warn("public view cache read failed", "card_id", cardID, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	card, err := s.cards.FindByID(ctx, cardID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "card not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load card")
	}

	now := s.now()
	if trial.IsDeleteDue(card, now) {
		return nil, dErrors.New(dErrors.CodeNotFound, "card not found")
	}

	user := s.ownerOf(ctx, card)
	eb := entitlement.ResolveBilling(card, now)
	et := entitlement.ResolveEffectiveTier(entitlement.TierInput{Card: card, User: user, EffectiveBilling: eb}, now)
	view := publicView(card, et.Tier, trial.IsExpired(card, now))

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, view, publicViewTTL); err != nil {
			s.logger.Warn("public view cache write failed", "card_id", cardID, "error", err)
		}
	}
	return view, nil
}

// UpdateCardInput is a sparse patch; nil fields are left untouched.
type UpdateCardInput struct {
	DisplayName *string
	Headline    *string
	Design      *models.Design
}

// UpdateCard applies a patch to the caller's card. The first edit of an
// unpaid card starts its trial; edits after trial expiry are rejected.
func (s *Service) UpdateCard(ctx context.Context, principal Principal, input UpdateCardInput) (*CardView, error) {
	card, user, err := s.loadOwn(ctx, principal)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := trial.AssertNotLocked(card, now); err != nil {
		return nil, err
	}

	trialStarted := trial.EnsureStarted(card, now)

	if input.DisplayName != nil {
		card.DisplayName = *input.DisplayName
	}
	if input.Headline != nil {
		card.Headline = *input.Headline
	}
	if input.Design != nil {
		applyDesign(&card.Design, input.Design)
	}
	card.UpdatedAt = now

	if err := s.cards.Update(ctx, card); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update card")
	}

	if trialStarted {
		s.noteTrialStart(ctx, card)
	}
	s.invalidatePublicView(ctx, card.ID)
	s.emit(ctx, audit.Event{Action: audit.EventCardUpdated, CardID: card.ID.String()})
	return resolve(card, user, now), nil
}

// noteTrialStart records a first-edit trial stamp once it is durable.
func (s *Service) noteTrialStart(ctx context.Context, card *models.Card) {
	if s.metrics != nil {
		s.metrics.IncrementTrialStarted()
	}
	s.emit(ctx, audit.Event{Action: audit.EventTrialStarted, CardID: card.ID.String()})
}

// applyDesign merges the patch into the stored design. Path fields are only
// writable through the upload flow, so they are deliberately skipped here.
func applyDesign(dst, patch *models.Design) {
	if patch.PrimaryColor != "" {
		dst.PrimaryColor = patch.PrimaryColor
	}
	if patch.FontFamily != "" {
		dst.FontFamily = patch.FontFamily
	}
}

// UploadInput carries one object for the caller's card.
type UploadInput struct {
	Kind        string
	Data        []byte
	ContentType string
	// Ext is the file extension without the dot, e.g. "jpg".
	Ext string
}

// AddGalleryItem uploads an image into the caller's namespace and appends it
// to the gallery, enforcing the gallery cap.
func (s *Service) AddGalleryItem(ctx context.Context, principal Principal, input UploadInput) (*CardView, error) {
	card, user, err := s.loadOwn(ctx, principal)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := trial.AssertNotLocked(card, now); err != nil {
		return nil, err
	}
	trialStarted := trial.EnsureStarted(card, now)

	view := resolve(card, user, now)
	if !view.Entitlements.CanUploadGallery {
		return nil, dErrors.New(dErrors.CodeForbidden, "gallery uploads are not available")
	}
	if len(card.Gallery) >= view.Entitlements.GalleryLimit {
		return nil, dErrors.New(dErrors.CodeValidation, "gallery is full")
	}

	bucket, namespace := s.namespaceFor(card)
	objectPath := storage.ObjectPath(namespace, card.ID, storage.KindGallery, storage.NewObjectFilename(input.Ext))
	res, err := s.objects.Upload(ctx, bucket, objectPath, input.Data, input.ContentType, false)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store gallery image")
	}

	card.Gallery = append(card.Gallery, models.GalleryItem{Path: res.Path, URL: res.URL})
	card.Uploads = append(card.Uploads, models.Upload{
		Kind:      storage.KindGallery,
		Path:      res.Path,
		URL:       res.URL,
		CreatedAt: now,
	})
	card.UpdatedAt = now

	if err := s.cards.Update(ctx, card); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update card")
	}

	if trialStarted {
		s.noteTrialStart(ctx, card)
	}
	s.invalidatePublicView(ctx, card.ID)
	return resolve(card, user, now), nil
}

// SetDesignAsset uploads a design object (avatar, logo, background, favicon)
// and points the matching design field at it.
func (s *Service) SetDesignAsset(ctx context.Context, principal Principal, input UploadInput) (*CardView, error) {
	card, user, err := s.loadOwn(ctx, principal)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := trial.AssertNotLocked(card, now); err != nil {
		return nil, err
	}
	trialStarted := trial.EnsureStarted(card, now)

	var pathField, urlField *string
	switch input.Kind {
	case storage.KindBackground:
		pathField, urlField = &card.Design.BackgroundPath, &card.Design.BackgroundURL
	case storage.KindAvatar:
		pathField, urlField = &card.Design.AvatarPath, &card.Design.AvatarURL
	case storage.KindLogo:
		pathField, urlField = &card.Design.LogoPath, &card.Design.LogoURL
	case storage.KindFavicon:
		pathField, urlField = &card.Design.FaviconPath, &card.Design.FaviconURL
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unknown design asset kind")
	}

	bucket, namespace := s.namespaceFor(card)
	objectPath := storage.ObjectPath(namespace, card.ID, input.Kind, storage.NewObjectFilename(input.Ext))
	res, err := s.objects.Upload(ctx, bucket, objectPath, input.Data, input.ContentType, false)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store design asset")
	}

	*pathField = res.Path
	*urlField = res.URL
	card.Uploads = append(card.Uploads, models.Upload{
		Kind:      input.Kind,
		Path:      res.Path,
		URL:       res.URL,
		CreatedAt: now,
	})
	card.UpdatedAt = now

	if err := s.cards.Update(ctx, card); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update card")
	}

	if trialStarted {
		s.noteTrialStart(ctx, card)
	}
	s.invalidatePublicView(ctx, card.ID)
	return resolve(card, user, now), nil
}

// InvalidatePublicView drops the cached visitor projection for a card. The
// claim workflow calls this after rewriting paths.
func (s *Service) InvalidatePublicView(ctx context.Context, cardID id.CardID) {
	s.invalidatePublicView(ctx, cardID)
}

// loadOwn resolves the principal's card and, for authenticated callers, the
// owning user document.
func (s *Service) loadOwn(ctx context.Context, principal Principal) (*models.Card, *models.User, error) {
	if principal.isAuthenticated() {
		user, err := s.users.FindByID(ctx, *principal.UserID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "unknown user")
		}
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
		}
		card, err := s.cards.FindByUserID(ctx, *principal.UserID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "card not found")
		}
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load card")
		}
		return card, user, nil
	}

	if principal.AnonID.IsEmpty() {
		return nil, nil, dErrors.New(dErrors.CodeMissingAnonID, "anonymous ID or authentication required")
	}
	card, err := s.cards.FindByAnonymousID(ctx, principal.AnonID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "card not found")
	}
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load card")
	}
	return card, nil, nil
}

// namespaceFor picks the bucket and path namespace matching the card's
// ownership state.
func (s *Service) namespaceFor(card *models.Card) (bucket, namespace string) {
	if card.IsOwned() {
		return s.buckets.Public, storage.UserNamespace(*card.UserID)
	}
	return s.buckets.Anon, storage.AnonNamespace(card.AnonymousID)
}

// ownerOf loads the card's owner, best effort. Public reads degrade to a
// nil user rather than failing the page.
func (s *Service) ownerOf(ctx context.Context, card *models.Card) *models.User {
	if !card.IsOwned() {
		return nil
	}
	user, err := s.users.FindByID(ctx, *card.UserID)
	if err != nil {
		s.logger.Warn("failed to load card owner", "card_id", card.ID, "error", err)
		return nil
	}
	return user
}

func (s *Service) invalidatePublicView(ctx context.Context, cardID id.CardID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf(publicViewKeyFormat, cardID)); err != nil {
		s.logger.Warn("public view cache invalidation failed", "card_id", cardID, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Emit(ctx, event)
}
