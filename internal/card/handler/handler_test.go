package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"tapcard/internal/card/models"
	"tapcard/internal/card/service"
	"tapcard/internal/card/store"
	"tapcard/internal/claim"
	"tapcard/internal/jwttoken"
	"tapcard/internal/platform/middleware"
	"tapcard/internal/storage"
	id "tapcard/pkg/domain"
)

const testAnonID = "visitor-device-token-1"

type testEnv struct {
	router  http.Handler
	users   *store.InMemoryUserStore
	cards   *store.InMemoryCardStore
	objects *storage.InMemoryStorage
	jwt     *jwttoken.JWTService
}

func (e *testEnv) tokenFor(t *testing.T, userID id.UserID) string {
	t.Helper()
	token, err := e.jwt.GenerateAccessToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

func (e *testEnv) seedUser(t *testing.T) id.UserID {
	t.Helper()
	user := &models.User{ID: id.NewUserID(), Email: "owner@example.com"}
	if err := e.users.Save(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user.ID
}

func TestCreateCardAnonymous(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodPost, "/cards",
		map[string]string{"displayName": "Ada"},
		withAnonID(testAnonID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating card, got %d: %s", rec.Code, rec.Body)
	}

	var view service.CardView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode card view: %v", err)
	}
	if view.Card == nil || view.Card.DisplayName != "Ada" {
		t.Fatalf("expected created card with display name, got %+v", view.Card)
	}
	if view.Card.AnonymousID.IsEmpty() {
		t.Fatalf("expected anonymous ownership on the created card")
	}
}

func TestCreateCardWithoutIdentity(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodPost, "/cards", map[string]string{"displayName": "Ada"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without any identity, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "MISSING_ANON_ID")
}

func TestCardLifecycleViaHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodPost, "/cards",
		map[string]string{"displayName": "Ada"},
		withAnonID(testAnonID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating card, got %d", rec.Code)
	}
	var created service.CardView
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}

	rec = doJSON(t, env.router, http.MethodPatch, "/cards/me",
		map[string]any{
			"headline": "Engineer",
			"design":   map[string]string{"primaryColor": "#222222"},
		},
		withAnonID(testAnonID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 updating card, got %d: %s", rec.Code, rec.Body)
	}
	var updated service.CardView
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("failed to decode update response: %v", err)
	}
	if updated.Card.Headline != "Engineer" {
		t.Fatalf("expected headline persisted, got %q", updated.Card.Headline)
	}
	if updated.Card.TrialStartedAt == nil {
		t.Fatalf("expected first edit to start the trial")
	}

	rec = doJSON(t, env.router, http.MethodGet, "/cards/me", nil, withAnonID(testAnonID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching own card, got %d", rec.Code)
	}

	rec = doJSON(t, env.router, http.MethodGet, "/cards/public/"+created.Card.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching public card, got %d", rec.Code)
	}
	var public service.PublicCardView
	if err := json.NewDecoder(rec.Body).Decode(&public); err != nil {
		t.Fatalf("failed to decode public view: %v", err)
	}
	if public.Locked {
		t.Fatalf("expected unlocked public view during trial")
	}
	if public.DisplayName != "Ada" {
		t.Fatalf("expected public display name, got %q", public.DisplayName)
	}
}

func TestGetPublicCardRejectsBadID(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodGet, "/cards/public/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed card id, got %d", rec.Code)
	}
}

func TestGalleryUploadViaHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodPost, "/cards",
		map[string]string{"displayName": "Ada"},
		withAnonID(testAnonID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating card, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/cards/me/gallery", strings.NewReader("fake-png-bytes"))
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set(middleware.AnonIDHeader, testAnonID)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 uploading gallery item, got %d: %s", rec.Code, rec.Body)
	}

	var view service.CardView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	if len(view.Card.Gallery) != 1 {
		t.Fatalf("expected one gallery item, got %d", len(view.Card.Gallery))
	}
	if !strings.HasSuffix(view.Card.Gallery[0].Path, ".png") {
		t.Fatalf("expected png object path, got %q", view.Card.Gallery[0].Path)
	}
}

func TestGalleryUploadRejectsUnknownContentType(t *testing.T) {
	env := newTestEnv(t)

	doJSON(t, env.router, http.MethodPost, "/cards",
		map[string]string{"displayName": "Ada"},
		withAnonID(testAnonID))

	req := httptest.NewRequest(http.MethodPost, "/cards/me/gallery", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(middleware.AnonIDHeader, testAnonID)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported content type, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "VALIDATION_FAILED")
}

func TestClaimRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodPost, "/claim", nil, withAnonID(testAnonID))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 claiming without a token, got %d", rec.Code)
	}
}

func TestClaimViaHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodPost, "/cards",
		map[string]string{"displayName": "Ada"},
		withAnonID(testAnonID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating card, got %d", rec.Code)
	}
	var created service.CardView
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}

	userID := env.seedUser(t)
	rec = doJSON(t, env.router, http.MethodPost, "/claim", nil,
		withAnonID(testAnonID),
		withBearer(env.tokenFor(t, userID)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 claiming card, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Status string `json:"status"`
		CardID string `json:"cardId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode claim response: %v", err)
	}
	if resp.Status != "ok" || resp.CardID != created.Card.ID.String() {
		t.Fatalf("expected claim of the anonymous card, got %+v", resp)
	}

	card, err := env.cards.FindByID(context.Background(), created.Card.ID)
	if err != nil {
		t.Fatalf("failed to reload card: %v", err)
	}
	if card.UserID == nil || *card.UserID != userID {
		t.Fatalf("expected card owned by claiming user")
	}
}

type reqOption func(*http.Request)

func withAnonID(anonID string) reqOption {
	return func(r *http.Request) { r.Header.Set(middleware.AnonIDHeader, anonID) }
}

func withBearer(token string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any, opts ...reqOption) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, code string) {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error != code {
		t.Fatalf("expected error code %s, got %s", code, resp.Error)
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	cards := store.NewInMemoryCardStore()
	users := store.NewInMemoryUserStore()
	objects := storage.NewInMemory("https://cdn.example.com")
	buckets := storage.Buckets{Anon: "tapcard-anon", Public: "tapcard-public"}

	cardSvc, err := service.New(cards, users, objects, buckets, service.WithLogger(logger))
	if err != nil {
		t.Fatalf("failed to build card service: %v", err)
	}
	claimSvc, err := claim.New(cards, users, objects, buckets, claim.WithLogger(logger))
	if err != nil {
		t.Fatalf("failed to build claim service: %v", err)
	}

	jwtSvc := jwttoken.NewJWTService("test-signing-key", "tapcard", "tapcard")

	h := New(cardSvc, claimSvc, logger)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AnonID)
	r.Use(middleware.OptionalAuth(jwtSvc, logger))
	h.Register(r)

	return &testEnv{router: r, users: users, cards: cards, objects: objects, jwt: jwtSvc}
}
