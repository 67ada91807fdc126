package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tapcard/internal/audit"
	"tapcard/internal/cache"
	"tapcard/internal/card/models"
	"tapcard/internal/card/store"
	"tapcard/internal/storage"
	"tapcard/internal/trial"
	id "tapcard/pkg/domain"
	dErrors "tapcard/pkg/domain-errors"
)

const (
	anonBucket   = "tapcard-anon"
	publicBucket = "tapcard-public"
)

type CardServiceSuite struct {
	suite.Suite
	cards   *store.InMemoryCardStore
	users   *store.InMemoryUserStore
	objects *storage.InMemoryStorage
	cache   *cache.Memory
	events  *audit.Publisher
	svc     *Service
	ctx     context.Context
	now     time.Time
}

func (s *CardServiceSuite) SetupTest() {
	s.cards = store.NewInMemoryCardStore()
	s.users = store.NewInMemoryUserStore()
	s.objects = storage.NewInMemory("https://cdn.example.com")
	s.cache = cache.NewMemory()
	s.events = audit.NewPublisher(audit.NewInMemoryStore())
	s.ctx = context.Background()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	svc, err := New(s.cards, s.users, s.objects,
		storage.Buckets{Anon: anonBucket, Public: publicBucket},
		WithCache(s.cache),
		WithAuditPublisher(s.events),
		WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.svc = svc
}

func TestCardServiceSuite(t *testing.T) {
	suite.Run(t, new(CardServiceSuite))
}

func (s *CardServiceSuite) anon(anonID string) Principal {
	return Principal{AnonID: id.AnonymousID(anonID)}
}

func (s *CardServiceSuite) authed() (Principal, id.UserID) {
	uid := id.NewUserID()
	s.Require().NoError(s.users.Save(s.ctx, &models.User{ID: uid, CreatedAt: s.now}))
	return Principal{UserID: &uid}, uid
}

func (s *CardServiceSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

// TestCreateCard covers both principal kinds and their uniqueness rules.
func (s *CardServiceSuite) TestCreateCard() {
	s.Run("anonymous visitor gets an anonymous card", func() {
		view, err := s.svc.CreateCard(s.ctx, s.anon("dev-1"), CreateCardInput{DisplayName: "Ada"})
		s.Require().NoError(err)
		s.Equal("Ada", view.Card.DisplayName)
		s.False(view.Card.IsOwned())
		s.Equal(id.AnonymousID("dev-1"), view.Card.AnonymousID)
	})

	s.Run("repeat create for the same visitor returns the existing card", func() {
		first, err := s.svc.CreateCard(s.ctx, s.anon("dev-2"), CreateCardInput{})
		s.Require().NoError(err)
		second, err := s.svc.CreateCard(s.ctx, s.anon("dev-2"), CreateCardInput{DisplayName: "ignored"})
		s.Require().NoError(err)
		s.Equal(first.Card.ID, second.Card.ID)
	})

	s.Run("authenticated user gets an owned card", func() {
		principal, uid := s.authed()
		view, err := s.svc.CreateCard(s.ctx, principal, CreateCardInput{})
		s.Require().NoError(err)
		s.True(view.Card.IsOwned())

		user, err := s.users.FindByID(s.ctx, uid)
		s.Require().NoError(err)
		s.Require().NotNil(user.CardID)
		s.Equal(view.Card.ID, *user.CardID)
	})

	s.Run("second card for the same user is rejected", func() {
		principal, _ := s.authed()
		_, err := s.svc.CreateCard(s.ctx, principal, CreateCardInput{})
		s.Require().NoError(err)

		_, err = s.svc.CreateCard(s.ctx, principal, CreateCardInput{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUserAlreadyHasCard))
	})

	s.Run("no identity at all is rejected", func() {
		_, err := s.svc.CreateCard(s.ctx, Principal{}, CreateCardInput{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeMissingAnonID))
	})
}

// TestUpdateStartsTrial verifies the first edit stamps the trial window.
func (s *CardServiceSuite) TestUpdateStartsTrial() {
	_, err := s.svc.CreateCard(s.ctx, s.anon("dev-t"), CreateCardInput{})
	s.Require().NoError(err)

	name := "Renamed"
	view, err := s.svc.UpdateCard(s.ctx, s.anon("dev-t"), UpdateCardInput{DisplayName: &name})
	s.Require().NoError(err)

	s.Equal("Renamed", view.Card.DisplayName)
	s.Require().NotNil(view.Card.TrialStartedAt)
	s.Equal(s.now, *view.Card.TrialStartedAt)
	s.Equal(s.now.Add(trial.Duration), *view.Card.TrialEndsAt)
	s.True(view.Entitlements.CanEdit)

	s.Run("second edit does not move the window", func() {
		s.advance(24 * time.Hour)
		headline := "hello"
		again, err := s.svc.UpdateCard(s.ctx, s.anon("dev-t"), UpdateCardInput{Headline: &headline})
		s.Require().NoError(err)
		s.Equal(view.Card.TrialStartedAt, again.Card.TrialStartedAt)
	})
}

// TestUpdateLockedAfterExpiry verifies the write gate.
func (s *CardServiceSuite) TestUpdateLockedAfterExpiry() {
	_, err := s.svc.CreateCard(s.ctx, s.anon("dev-l"), CreateCardInput{})
	s.Require().NoError(err)
	name := "first edit"
	_, err = s.svc.UpdateCard(s.ctx, s.anon("dev-l"), UpdateCardInput{DisplayName: &name})
	s.Require().NoError(err)

	s.advance(8 * 24 * time.Hour)

	name = "too late"
	_, err = s.svc.UpdateCard(s.ctx, s.anon("dev-l"), UpdateCardInput{DisplayName: &name})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTrialExpired))
}

// TestGetPublicCard covers the visitor projection and its cache.
func (s *CardServiceSuite) TestGetPublicCard() {
	created, err := s.svc.CreateCard(s.ctx, s.anon("dev-p"), CreateCardInput{DisplayName: "Public"})
	s.Require().NoError(err)
	cardID := created.Card.ID

	s.Run("serves display data while entitled", func() {
		name := "Public"
		_, err := s.svc.UpdateCard(s.ctx, s.anon("dev-p"), UpdateCardInput{DisplayName: &name})
		s.Require().NoError(err)

		view, err := s.svc.GetPublicCard(s.ctx, cardID)
		s.Require().NoError(err)
		s.False(view.Locked)
		s.Equal("Public", view.DisplayName)
	})

	s.Run("second read hits the cache", func() {
		var cached PublicCardView
		hit, err := s.cache.Get(s.ctx, "card:public:"+cardID.String(), &cached)
		s.Require().NoError(err)
		s.True(hit)
	})

	s.Run("expired trial serves a locked shell", func() {
		s.advance(8 * 24 * time.Hour)
		s.Require().NoError(s.cache.Invalidate(s.ctx, "card:public:"+cardID.String()))

		view, err := s.svc.GetPublicCard(s.ctx, cardID)
		s.Require().NoError(err)
		s.True(view.Locked)
		s.Empty(view.DisplayName, "locked view leaks no content")
	})

	s.Run("delete-due card reads as missing", func() {
		s.advance(8 * 24 * time.Hour) // past the grace window too
		s.Require().NoError(s.cache.Invalidate(s.ctx, "card:public:"+cardID.String()))

		_, err := s.svc.GetPublicCard(s.ctx, cardID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown card is missing", func() {
		_, err := s.svc.GetPublicCard(s.ctx, id.NewCardID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// TestGallery covers uploads, namespace choice, and the cap.
func (s *CardServiceSuite) TestGallery() {
	upload := func(principal Principal) (*CardView, error) {
		return s.svc.AddGalleryItem(s.ctx, principal, UploadInput{
			Kind:        storage.KindGallery,
			Data:        []byte("img"),
			ContentType: "image/jpeg",
			Ext:         "jpg",
		})
	}

	s.Run("anonymous upload lands in the anon bucket", func() {
		_, err := s.svc.CreateCard(s.ctx, s.anon("dev-g"), CreateCardInput{})
		s.Require().NoError(err)

		view, err := upload(s.anon("dev-g"))
		s.Require().NoError(err)
		s.Require().Len(view.Card.Gallery, 1)
		s.Require().Len(view.Card.Uploads, 1)
		s.Equal(1, s.objects.Len(anonBucket))
		s.Equal(0, s.objects.Len(publicBucket))
	})

	s.Run("owned upload lands in the public bucket", func() {
		principal, _ := s.authed()
		_, err := s.svc.CreateCard(s.ctx, principal, CreateCardInput{})
		s.Require().NoError(err)

		_, err = upload(principal)
		s.Require().NoError(err)
		s.Equal(1, s.objects.Len(publicBucket))
	})

	s.Run("gallery cap is enforced", func() {
		_, err := s.svc.CreateCard(s.ctx, s.anon("dev-cap"), CreateCardInput{})
		s.Require().NoError(err)

		for i := 0; i < 12; i++ {
			_, err := upload(s.anon("dev-cap"))
			s.Require().NoError(err)
		}
		_, err = upload(s.anon("dev-cap"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// TestSetDesignAsset covers design uploads.
func (s *CardServiceSuite) TestSetDesignAsset() {
	_, err := s.svc.CreateCard(s.ctx, s.anon("dev-d"), CreateCardInput{})
	s.Require().NoError(err)

	view, err := s.svc.SetDesignAsset(s.ctx, s.anon("dev-d"), UploadInput{
		Kind:        storage.KindAvatar,
		Data:        []byte("png"),
		ContentType: "image/png",
		Ext:         "png",
	})
	s.Require().NoError(err)
	s.NotEmpty(view.Card.Design.AvatarPath)
	s.NotEmpty(view.Card.Design.AvatarURL)
	s.Require().Len(view.Card.Uploads, 1)

	s.Run("unknown kind is rejected", func() {
		_, err := s.svc.SetDesignAsset(s.ctx, s.anon("dev-d"), UploadInput{Kind: "weird", Ext: "bin"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// TestGetMyCard covers both principals and lazy delete gating.
func (s *CardServiceSuite) TestGetMyCard() {
	s.Run("by anonymous ID", func() {
		created, err := s.svc.CreateCard(s.ctx, s.anon("dev-m"), CreateCardInput{})
		s.Require().NoError(err)

		view, err := s.svc.GetMyCard(s.ctx, s.anon("dev-m"))
		s.Require().NoError(err)
		s.Equal(created.Card.ID, view.Card.ID)
	})

	s.Run("by user", func() {
		principal, _ := s.authed()
		created, err := s.svc.CreateCard(s.ctx, principal, CreateCardInput{})
		s.Require().NoError(err)

		view, err := s.svc.GetMyCard(s.ctx, principal)
		s.Require().NoError(err)
		s.Equal(created.Card.ID, view.Card.ID)
	})

	s.Run("delete-due card reads as missing", func() {
		_, err := s.svc.CreateCard(s.ctx, s.anon("dev-due"), CreateCardInput{})
		s.Require().NoError(err)
		name := "edit"
		_, err = s.svc.UpdateCard(s.ctx, s.anon("dev-due"), UpdateCardInput{DisplayName: &name})
		s.Require().NoError(err)

		s.advance(15 * 24 * time.Hour)
		_, err = s.svc.GetMyCard(s.ctx, s.anon("dev-due"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// trialStartEvents counts trial_started audit events recorded for a card.
func (s *CardServiceSuite) trialStartEvents(cardID id.CardID) int {
	events, err := s.events.List(s.ctx, cardID.String())
	s.Require().NoError(err)
	n := 0
	for _, e := range events {
		if e.Action == audit.EventTrialStarted {
			n++
		}
	}
	return n
}

// TestTrialStartObservedOnEveryWritePath: whichever write stamps the trial
// first, the same event and metric fire exactly once.
func (s *CardServiceSuite) TestTrialStartObservedOnEveryWritePath() {
	upload := func(kind string) UploadInput {
		return UploadInput{Kind: kind, Data: []byte("img"), ContentType: "image/jpeg", Ext: "jpg"}
	}

	s.Run("patch", func() {
		view, err := s.svc.CreateCard(s.ctx, s.anon("tsa-1"), CreateCardInput{})
		s.Require().NoError(err)
		name := "Ada"
		_, err = s.svc.UpdateCard(s.ctx, s.anon("tsa-1"), UpdateCardInput{DisplayName: &name})
		s.Require().NoError(err)
		s.Equal(1, s.trialStartEvents(view.Card.ID))
	})

	s.Run("gallery upload", func() {
		view, err := s.svc.CreateCard(s.ctx, s.anon("tsa-2"), CreateCardInput{})
		s.Require().NoError(err)
		_, err = s.svc.AddGalleryItem(s.ctx, s.anon("tsa-2"), upload(storage.KindGallery))
		s.Require().NoError(err)
		s.Equal(1, s.trialStartEvents(view.Card.ID))
	})

	s.Run("design asset upload", func() {
		view, err := s.svc.CreateCard(s.ctx, s.anon("tsa-3"), CreateCardInput{})
		s.Require().NoError(err)
		_, err = s.svc.SetDesignAsset(s.ctx, s.anon("tsa-3"), upload(storage.KindAvatar))
		s.Require().NoError(err)
		s.Equal(1, s.trialStartEvents(view.Card.ID))
	})

	s.Run("second write does not re-emit", func() {
		view, err := s.svc.CreateCard(s.ctx, s.anon("tsa-4"), CreateCardInput{})
		s.Require().NoError(err)
		name := "Ada"
		_, err = s.svc.UpdateCard(s.ctx, s.anon("tsa-4"), UpdateCardInput{DisplayName: &name})
		s.Require().NoError(err)
		_, err = s.svc.AddGalleryItem(s.ctx, s.anon("tsa-4"), upload(storage.KindGallery))
		s.Require().NoError(err)
		s.Equal(1, s.trialStartEvents(view.Card.ID))
	})
}
