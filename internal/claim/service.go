// Package claim turns an anonymous card into a user-owned card, migrating
// its media between buckets along the way.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tapcard/internal/audit"
	"tapcard/internal/card/models"
	"tapcard/internal/card/store"
	"tapcard/internal/platform/metrics"
	"tapcard/internal/storage"
	id "tapcard/pkg/domain"
	dErrors "tapcard/pkg/domain-errors"
	"tapcard/pkg/platform/sentinel"
)

// Result reports the outcome of a claim attempt. OK with a non-empty Code
// means the claim was satisfied by an earlier attempt.
type Result struct {
	OK       bool
	Code     dErrors.Code
	Message  string
	CardID   id.CardID
	Migrated int
}

// Meta carries request enrichment for audit events.
type Meta struct {
	RequestID string
	UserAgent string
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

	strict  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Service)

// WithStrictValidation makes repeat and empty-ID claims hard failures
// instead of idempotent successes.
func WithStrictValidation() Option {
	return func(s *Service) { s.strict = true }
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
		tracer:  otel.Tracer("tapcard/claim"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Claim transfers the anonymous card identified by anonID to the given user.
//
// All object copies complete before the first document write, so a failed
// migration leaves both documents untouched and the claim retryable. The
// unique owner constraint in the card store is the backstop against two
// concurrent claims by the same user.
func (s *Service) Claim(ctx context.Context, userID id.UserID, anonID id.AnonymousID, meta Meta) (Result, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "claim.Claim",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	result, err := s.claim(ctx, userID, anonID, meta)
	s.observe(ctx, start, userID, anonID, meta, result, err)
	return result, err
}

func (s *Service) claim(ctx context.Context, userID id.UserID, anonID id.AnonymousID, meta Meta) (Result, error) {
	if userID.IsNil() {
		return Result{}, dErrors.New(dErrors.CodeUnauthorized, "authenticated user required")
	}

	if anonID.IsEmpty() {
		if s.strict {
			return Result{}, dErrors.New(dErrors.CodeMissingAnonID, "anonymous ID required")
		}
		return Result{OK: true, Code: dErrors.CodeMissingAnonID, Message: "nothing to claim"}, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Result{}, dErrors.New(dErrors.CodeUnauthorized, "unknown user")
	}
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	if user.HasCard() {
		if s.strict {
			return Result{}, dErrors.New(dErrors.CodeUserAlreadyHasCard, "user already owns a card")
		}
		return Result{OK: true, Code: dErrors.CodeUserAlreadyHasCard, Message: "card already claimed", CardID: *user.CardID}, nil
	}

	card, err := s.cards.FindByAnonymousID(ctx, anonID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Result{}, dErrors.New(dErrors.CodeNoAnonCard, "no card for this anonymous ID")
	}
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load card")
	}

	if card.IsOwned() {
		if *card.UserID == userID {
			// A previous attempt got as far as the card write. Finish the
			// user side below instead of failing.
			return s.finishInterrupted(ctx, user, card)
		}
		return Result{}, dErrors.New(dErrors.CodeCardAlreadyClaimed, "card belongs to another user")
	}

	// Copy every referenced object into the user namespace before touching
	// either document.
	moves, err := s.migrateObjects(ctx, card, userID)
	if err != nil {
		return Result{}, err
	}

	rewriteCard(card, moves, s.objects, s.buckets.Public)
	card.UserID = &userID
	card.AnonymousID = ""
	card.UpdatedAt = s.now()

	if err := s.cards.Update(ctx, card); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Result{}, dErrors.New(dErrors.CodeUserAlreadyHasCard, "user already owns a card")
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist claimed card")
	}

	user.CardID = &card.ID
	if err := s.users.Update(ctx, user); err != nil {
		// Card ownership is already durable; the owner lookup on the card
		// keeps the system consistent until a retry repairs the user doc.
		s.logger.Error("claimed card persisted but user link failed",
			"user_id", userID, "card_id", card.ID, "error", err)
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to link card to user")
	}

	s.removeOldObjects(ctx, moves)

	return Result{OK: true, CardID: card.ID, Migrated: len(moves)}, nil
}

// finishInterrupted completes a claim whose earlier attempt crashed between
// the card write and the user write.
func (s *Service) finishInterrupted(ctx context.Context, user *models.User, card *models.Card) (Result, error) {
	user.CardID = &card.ID
	if err := s.users.Update(ctx, user); err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to link card to user")
	}
	return Result{OK: true, Code: dErrors.CodeUserAlreadyHasCard, Message: "card already claimed", CardID: card.ID}, nil
}

// move records one object migration.
type move struct {
	fromBucket string
	oldPath    string
	newPath    string
}

// migrateObjects copies every safe referenced object into the user namespace
// of the public bucket. Objects are looked up in the anon bucket first, then
// the public bucket. Any copy failure, including an object missing from both
// buckets, aborts the whole claim so no anon-namespace reference survives an
// ownership switch.
func (s *Service) migrateObjects(ctx context.Context, card *models.Card, userID id.UserID) ([]move, error) {
	paths := storage.NormalizePaths(storage.CollectPaths(card))
	moves := make([]move, 0, len(paths))

	for _, oldPath := range paths {
		newPath, err := storage.RewriteOwnedPath(oldPath, userID, card.ID)
		if err != nil {
			s.logger.Warn("skipping unmappable path", "card_id", card.ID, "path", oldPath, "error", err)
			continue
		}

		from := s.buckets.Anon
		err = s.objects.Copy(ctx, from, s.buckets.Public, oldPath, newPath)
		if errors.Is(err, sentinel.ErrNotFound) {
			from = s.buckets.Public
			err = s.objects.Copy(ctx, from, s.buckets.Public, oldPath, newPath)
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.Error("referenced object missing from storage", "card_id", card.ID, "path", oldPath)
			return nil, dErrors.New(dErrors.CodeMediaMigrationFailed, "referenced media object missing")
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeMediaMigrationFailed, "media migration failed")
		}
		moves = append(moves, move{fromBucket: from, oldPath: oldPath, newPath: newPath})
	}
	return moves, nil
}

// removeOldObjects deletes the pre-claim objects. Best effort: the claim is
// already durable, leftovers only cost storage.
func (s *Service) removeOldObjects(ctx context.Context, moves []move) {
	if len(moves) == 0 {
		return
	}
	paths := make([]string, 0, len(moves))
	for _, m := range moves {
		paths = append(paths, m.oldPath)
	}
	if err := s.objects.Remove(ctx, s.buckets.All(), paths); err != nil {
		s.logger.Warn("failed to remove migrated source objects", "count", len(paths), "error", err)
	}
}

// rewriteCard updates every path reference that was migrated, deriving fresh
// public URLs for the new locations.
func rewriteCard(card *models.Card, moves []move, objects storage.ObjectStorage, publicBucket string) {
	rewritten := make(map[string]string, len(moves))
	for _, m := range moves {
		rewritten[m.oldPath] = m.newPath
	}
	relocate := func(p *string, u *string) {
		newPath, ok := rewritten[*p]
		if !ok {
			return
		}
		*p = newPath
		*u = objects.PublicURL(publicBucket, newPath)
	}

	relocate(&card.Design.BackgroundPath, &card.Design.BackgroundURL)
	relocate(&card.Design.AvatarPath, &card.Design.AvatarURL)
	relocate(&card.Design.LogoPath, &card.Design.LogoURL)
	relocate(&card.Design.FaviconPath, &card.Design.FaviconURL)

	for i := range card.Gallery {
		relocate(&card.Gallery[i].Path, &card.Gallery[i].URL)
		relocate(&card.Gallery[i].ThumbPath, &card.Gallery[i].ThumbURL)
	}
	for i := range card.Uploads {
		relocate(&card.Uploads[i].Path, &card.Uploads[i].URL)
	}
}

func (s *Service) observe(ctx context.Context, start time.Time, userID id.UserID, anonID id.AnonymousID, meta Meta, result Result, err error) {
	outcome := "claimed"
	switch {
	case err != nil:
		outcome = string(dErrors.CodeOf(err))
	case result.Code != "":
		outcome = string(result.Code)
	}

	if s.metrics != nil {
		s.metrics.IncrementClaim(outcome)
		s.metrics.ObserveClaim(start)
		if result.Migrated > 0 {
			s.metrics.AddMigratedObjects(result.Migrated)
		}
	}

	if s.audit == nil {
		return
	}
	event := audit.Event{
		UserID:    userID.String(),
		Outcome:   outcome,
		RequestID: meta.RequestID,
		Device:    audit.DeviceFromUserAgent(meta.UserAgent),
		Migrated:  result.Migrated,
	}
	if !anonID.IsEmpty() {
		event.AnonHash = storage.AnonNamespace(anonID)
	}
	if err != nil {
		event.Action = audit.EventClaimRejected
		event.Reason = err.Error()
	} else {
		event.Action = audit.EventCardClaimed
		if !result.CardID.IsNil() {
			event.CardID = result.CardID.String()
		}
	}
	_ = s.audit.Emit(ctx, event)
}
