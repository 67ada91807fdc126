package claim

//go:generate mockgen -source=../storage/storage.go -destination=mocks/mocks.go -package=mocks ObjectStorage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tapcard/internal/audit"
	"tapcard/internal/card/models"
	"tapcard/internal/card/store"
	"tapcard/internal/claim/mocks"
	"tapcard/internal/storage"
	id "tapcard/pkg/domain"
	dErrors "tapcard/pkg/domain-errors"
)

const (
	anonBucket   = "tapcard-anon"
	publicBucket = "tapcard-public"
)

type ClaimSuite struct {
	suite.Suite
	cards   *store.InMemoryCardStore
	users   *store.InMemoryUserStore
	objects *storage.InMemoryStorage
	svc     *Service
	ctx     context.Context
}

func (s *ClaimSuite) SetupTest() {
	s.cards = store.NewInMemoryCardStore()
	s.users = store.NewInMemoryUserStore()
	s.objects = storage.NewInMemory("https://cdn.example.com")
	s.ctx = context.Background()

	svc, err := New(s.cards, s.users, s.objects, storage.Buckets{Anon: anonBucket, Public: publicBucket})
	s.Require().NoError(err)
	s.svc = svc
}

func TestClaimSuite(t *testing.T) {
	suite.Run(t, new(ClaimSuite))
}

// seedUser stores a user without a card and returns its ID.
func (s *ClaimSuite) seedUser() id.UserID {
	uid := id.NewUserID()
	s.Require().NoError(s.users.Save(s.ctx, &models.User{ID: uid, CreatedAt: time.Now()}))
	return uid
}

// seedAnonCard stores an anonymous card with n gallery images uploaded to
// the anon bucket.
func (s *ClaimSuite) seedAnonCard(anonID id.AnonymousID, n int) *models.Card {
	card := &models.Card{
		ID:          id.NewCardID(),
		AnonymousID: anonID,
		Plan:        models.PlanFree,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	ns := storage.AnonNamespace(anonID)
	for i := 0; i < n; i++ {
		p := storage.ObjectPath(ns, card.ID, storage.KindGallery, storage.NewObjectFilename("jpg"))
		res, err := s.objects.Upload(s.ctx, anonBucket, p, []byte{byte(i)}, "image/jpeg", false)
		s.Require().NoError(err)
		card.Gallery = append(card.Gallery, models.GalleryItem{Path: res.Path, URL: res.URL})
	}
	s.Require().NoError(s.cards.Save(s.ctx, card))
	return card
}

// TestSuccessfulClaim covers the full ownership transfer with media.
func (s *ClaimSuite) TestSuccessfulClaim() {
	uid := s.seedUser()
	card := s.seedAnonCard("device-1", 3)

	res, err := s.svc.Claim(s.ctx, uid, "device-1", Meta{})
	s.Require().NoError(err)
	s.True(res.OK)
	s.Equal(card.ID, res.CardID)
	s.Equal(3, res.Migrated)

	s.Run("card is owned and anon ID cleared", func() {
		got, err := s.cards.FindByID(s.ctx, card.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got.UserID)
		s.Equal(uid, *got.UserID)
		s.True(got.AnonymousID.IsEmpty())
	})

	s.Run("user is linked to the card", func() {
		user, err := s.users.FindByID(s.ctx, uid)
		s.Require().NoError(err)
		s.Require().NotNil(user.CardID)
		s.Equal(card.ID, *user.CardID)
	})

	s.Run("every path moved to the user namespace with a fresh URL", func() {
		got, err := s.cards.FindByID(s.ctx, card.ID)
		s.Require().NoError(err)
		prefix := storage.PathPrefix + storage.UserNamespace(uid)
		for _, item := range got.Gallery {
			s.True(strings.HasPrefix(item.Path, prefix), "path %q in user namespace", item.Path)
			s.Contains(item.URL, item.Path)
			_, _, err := s.objects.Download(s.ctx, publicBucket, item.Path)
			s.Require().NoError(err, "object exists at new path")
		}
	})

	s.Run("old objects are gone", func() {
		s.Equal(0, s.objects.Len(anonBucket))
		s.Equal(3, s.objects.Len(publicBucket))
	})
}

// TestNoMediaLoss verifies no referenced object disappears across a claim.
func (s *ClaimSuite) TestNoMediaLoss() {
	uid := s.seedUser()
	card := s.seedAnonCard("device-n", 7)

	// One design asset on top of the gallery.
	p := storage.ObjectPath(storage.AnonNamespace("device-n"), card.ID, storage.KindAvatar, storage.NewObjectFilename("png"))
	res, err := s.objects.Upload(s.ctx, anonBucket, p, []byte("avatar"), "image/png", false)
	s.Require().NoError(err)
	card.Design.AvatarPath = res.Path
	card.Design.AvatarURL = res.URL
	s.Require().NoError(s.cards.Update(s.ctx, card))

	out, err := s.svc.Claim(s.ctx, uid, "device-n", Meta{})
	s.Require().NoError(err)
	s.Equal(8, out.Migrated)

	got, err := s.cards.FindByID(s.ctx, card.ID)
	s.Require().NoError(err)
	for _, path := range storage.CollectPaths(got) {
		_, _, err := s.objects.Download(s.ctx, publicBucket, path)
		s.Require().NoError(err, "object %q survived the claim", path)
	}
}

// TestIdempotence verifies a second claim by the same user succeeds without
// side effects.
func (s *ClaimSuite) TestIdempotence() {
	uid := s.seedUser()
	card := s.seedAnonCard("device-2", 1)

	first, err := s.svc.Claim(s.ctx, uid, "device-2", Meta{})
	s.Require().NoError(err)
	s.True(first.OK)

	second, err := s.svc.Claim(s.ctx, uid, "device-2", Meta{})
	s.Require().NoError(err)
	s.True(second.OK)
	s.Equal(dErrors.CodeUserAlreadyHasCard, second.Code)
	s.Equal(card.ID, second.CardID)
	s.Zero(second.Migrated)
}

// TestRejections covers the failure half of the state machine.
func (s *ClaimSuite) TestRejections() {
	s.Run("nil user ID", func() {
		_, err := s.svc.Claim(s.ctx, id.UserID{}, "device-x", Meta{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unknown user", func() {
		s.seedAnonCard("device-3", 0)
		_, err := s.svc.Claim(s.ctx, id.NewUserID(), "device-3", Meta{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("no anonymous card", func() {
		uid := s.seedUser()
		_, err := s.svc.Claim(s.ctx, uid, "device-none", Meta{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNoAnonCard))
	})

	s.Run("card owned by another user", func() {
		owner := s.seedUser()
		s.seedAnonCard("device-4", 0)
		_, err := s.svc.Claim(s.ctx, owner, "device-4", Meta{})
		s.Require().NoError(err)

		// The card is claimed, but a stale client retries with the old
		// anonymous ID from a different account.
		card, err := s.cards.FindByUserID(s.ctx, owner)
		s.Require().NoError(err)
		card.AnonymousID = "device-4"
		card.UserID = &owner
		// Restore the anon ID to simulate a doc written by an older release.
		s.Require().NoError(s.cards.Update(s.ctx, card))

		other := s.seedUser()
		_, err = s.svc.Claim(s.ctx, other, "device-4", Meta{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeCardAlreadyClaimed))
	})
}

// TestEmptyAnonID verifies both validation modes.
func (s *ClaimSuite) TestEmptyAnonID() {
	uid := s.seedUser()

	s.Run("lenient mode is a no-op success", func() {
		res, err := s.svc.Claim(s.ctx, uid, "", Meta{})
		s.Require().NoError(err)
		s.True(res.OK)
		s.Equal(dErrors.CodeMissingAnonID, res.Code)
	})

	s.Run("strict mode rejects", func() {
		strict, err := New(s.cards, s.users, s.objects,
			storage.Buckets{Anon: anonBucket, Public: publicBucket}, WithStrictValidation())
		s.Require().NoError(err)

		_, err = strict.Claim(s.ctx, uid, "", Meta{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeMissingAnonID))
	})
}

// TestStrictRepeatClaim verifies strict mode turns the idempotent success
// into a conflict.
func (s *ClaimSuite) TestStrictRepeatClaim() {
	uid := s.seedUser()
	s.seedAnonCard("device-5", 0)

	strict, err := New(s.cards, s.users, s.objects,
		storage.Buckets{Anon: anonBucket, Public: publicBucket}, WithStrictValidation())
	s.Require().NoError(err)

	_, err = strict.Claim(s.ctx, uid, "device-5", Meta{})
	s.Require().NoError(err)

	_, err = strict.Claim(s.ctx, uid, "device-5", Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUserAlreadyHasCard))
}

// TestAtomicityOnCopyFailure verifies a failed migration leaves both
// documents untouched.
func TestAtomicityOnCopyFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	cards := store.NewInMemoryCardStore()
	users := store.NewInMemoryUserStore()
	objects := mocks.NewMockObjectStorage(ctrl)

	uid := id.NewUserID()
	if err := users.Save(ctx, &models.User{ID: uid, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	card := &models.Card{
		ID:          id.NewCardID(),
		AnonymousID: "device-fail",
		Plan:        models.PlanFree,
		Gallery: []models.GalleryItem{
			{Path: storage.ObjectPath(storage.AnonNamespace("device-fail"), id.NewCardID(), storage.KindGallery, "a.jpg")},
		},
	}
	if err := cards.Save(ctx, card); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("backend unavailable")
	objects.EXPECT().
		Copy(gomock.Any(), anonBucket, publicBucket, gomock.Any(), gomock.Any()).
		Return(boom)

	svc, err := New(cards, users, objects, storage.Buckets{Anon: anonBucket, Public: publicBucket})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Claim(ctx, uid, "device-fail", Meta{})
	if !dErrors.HasCode(err, dErrors.CodeMediaMigrationFailed) {
		t.Fatalf("want MEDIA_MIGRATION_FAILED, got %v", err)
	}

	got, err := cards.FindByID(ctx, card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != nil {
		t.Fatal("card must remain unowned after failed migration")
	}
	if got.AnonymousID.IsEmpty() {
		t.Fatal("anonymous ID must survive a failed migration")
	}
	user, err := users.FindByID(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if user.CardID != nil {
		t.Fatal("user must not be linked after failed migration")
	}
}

// TestClaimEmitsAudit verifies claims produce audit events.
func TestClaimEmitsAudit(t *testing.T) {
	ctx := context.Background()
	cards := store.NewInMemoryCardStore()
	users := store.NewInMemoryUserStore()
	objects := storage.NewInMemory("https://cdn.example.com")
	auditStore := audit.NewInMemoryStore()
	pub := audit.NewPublisher(auditStore)
	defer pub.Close()

	uid := id.NewUserID()
	if err := users.Save(ctx, &models.User{ID: uid}); err != nil {
		t.Fatal(err)
	}
	card := &models.Card{ID: id.NewCardID(), AnonymousID: "device-a", Plan: models.PlanFree}
	if err := cards.Save(ctx, card); err != nil {
		t.Fatal(err)
	}

	svc, err := New(cards, users, objects,
		storage.Buckets{Anon: anonBucket, Public: publicBucket},
		WithAuditPublisher(pub))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Claim(ctx, uid, "device-a", Meta{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"}); err != nil {
		t.Fatal(err)
	}

	events, err := pub.List(ctx, card.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 audit event, got %d", len(events))
	}
	if events[0].Action != audit.EventCardClaimed {
		t.Fatalf("want %s, got %s", audit.EventCardClaimed, events[0].Action)
	}
	if events[0].Device == "" {
		t.Fatal("device metadata missing from audit event")
	}
}

// TestMissingObjectAbortsClaim: a referenced object absent from both buckets
// fails the claim before any document write, so no anon-namespace path can
// survive an ownership switch.
func (s *ClaimSuite) TestMissingObjectAbortsClaim() {
	uid := s.seedUser()
	card := s.seedAnonCard("device-gone", 1)

	// Reference an object that was never uploaded anywhere.
	ns := storage.AnonNamespace("device-gone")
	ghost := storage.ObjectPath(ns, card.ID, storage.KindGallery, "gone.jpg")
	card.Gallery = append(card.Gallery, models.GalleryItem{Path: ghost})
	s.Require().NoError(s.cards.Update(s.ctx, card))

	_, err := s.svc.Claim(s.ctx, uid, "device-gone", Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeMediaMigrationFailed))

	s.Run("card is untouched", func() {
		got, err := s.cards.FindByID(s.ctx, card.ID)
		s.Require().NoError(err)
		s.Nil(got.UserID)
		s.Equal(id.AnonymousID("device-gone"), got.AnonymousID)
		for _, item := range got.Gallery {
			s.True(strings.HasPrefix(item.Path, storage.PathPrefix+storage.AnonNamespace("device-gone")))
		}
	})

	s.Run("user is untouched", func() {
		user, err := s.users.FindByID(s.ctx, uid)
		s.Require().NoError(err)
		s.Nil(user.CardID)
	})
}

// TestFallbackCopyFromPublicBucket: older uploads live in the public bucket
// under the anon namespace; the claim migrates them from there.
func (s *ClaimSuite) TestFallbackCopyFromPublicBucket() {
	uid := s.seedUser()
	card := s.seedAnonCard("device-old", 0)

	ns := storage.AnonNamespace("device-old")
	p := storage.ObjectPath(ns, card.ID, storage.KindAvatar, storage.NewObjectFilename("png"))
	res, err := s.objects.Upload(s.ctx, publicBucket, p, []byte("avatar"), "image/png", false)
	s.Require().NoError(err)
	card.Design.AvatarPath = res.Path
	card.Design.AvatarURL = res.URL
	s.Require().NoError(s.cards.Update(s.ctx, card))

	result, err := s.svc.Claim(s.ctx, uid, "device-old", Meta{})
	s.Require().NoError(err)
	s.True(result.OK)
	s.Equal(1, result.Migrated)

	got, err := s.cards.FindByID(s.ctx, card.ID)
	s.Require().NoError(err)
	prefix := storage.PathPrefix + storage.UserNamespace(uid)
	s.True(strings.HasPrefix(got.Design.AvatarPath, prefix), "avatar path %q in user namespace", got.Design.AvatarPath)
	_, _, err = s.objects.Download(s.ctx, publicBucket, got.Design.AvatarPath)
	s.Require().NoError(err)
}

// TestResumesInterruptedClaim: a crash between the card write and the user
// link leaves partial state; a repeat claim repairs the user document.
func (s *ClaimSuite) TestResumesInterruptedClaim() {
	uid := s.seedUser()
	card := s.seedAnonCard("device-crash", 0)

	card.UserID = &uid
	s.Require().NoError(s.cards.Update(s.ctx, card))

	result, err := s.svc.Claim(s.ctx, uid, "device-crash", Meta{})
	s.Require().NoError(err)
	s.True(result.OK)
	s.Equal(dErrors.CodeUserAlreadyHasCard, result.Code)
	s.Equal(card.ID, result.CardID)

	user, err := s.users.FindByID(s.ctx, uid)
	s.Require().NoError(err)
	s.Require().NotNil(user.CardID)
	s.Equal(card.ID, *user.CardID)
}
