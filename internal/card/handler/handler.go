// Package handler exposes the card platform over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tapcard/internal/card/models"
	"tapcard/internal/card/service"
	"tapcard/internal/claim"
	"tapcard/internal/platform/middleware"
	"tapcard/internal/storage"
	id "tapcard/pkg/domain"
	dErrors "tapcard/pkg/domain-errors"
)

// maxUploadBytes caps a single image upload.
const maxUploadBytes = 10 << 20

// Handler wires the card and claim services to chi routes.
type Handler struct {
	cards  *service.Service
	claims *claim.Service
	logger *slog.Logger
}

func New(cards *service.Service, claims *claim.Service, logger *slog.Logger) *Handler {
	return &Handler{cards: cards, claims: claims, logger: logger}
}

// Register mounts the card routes. Auth middleware is applied by the caller;
// these routes read identity from the request context.
func (h *Handler) Register(r chi.Router) {
	r.Post("/cards", h.createCard)
	r.Get("/cards/me", h.getMyCard)
	r.Patch("/cards/me", h.updateCard)
	r.Post("/cards/me/gallery", h.addGalleryItem)
	r.Post("/cards/me/design/{kind}", h.setDesignAsset)
	r.Get("/cards/public/{cardID}", h.getPublicCard)
	r.Post("/claim", h.claimCard)
}

type createCardRequest struct {
	DisplayName string `json:"displayName"`
	Headline    string `json:"headline"`
}

func (h *Handler) createCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	view, err := h.cards.CreateCard(r.Context(), principalFrom(r), service.CreateCardInput{
		DisplayName: req.DisplayName,
		Headline:    req.Headline,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, view)
}

func (h *Handler) getMyCard(w http.ResponseWriter, r *http.Request) {
	view, err := h.cards.GetMyCard(r.Context(), principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, view)
}

type updateCardRequest struct {
	DisplayName *string `json:"displayName"`
	Headline    *string `json:"headline"`
	Design      *struct {
		PrimaryColor string `json:"primaryColor"`
		FontFamily   string `json:"fontFamily"`
	} `json:"design"`
}

func (h *Handler) updateCard(w http.ResponseWriter, r *http.Request) {
	var req updateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	input := service.UpdateCardInput{
		DisplayName: req.DisplayName,
		Headline:    req.Headline,
	}
	if req.Design != nil {
		input.Design = &models.Design{
			PrimaryColor: req.Design.PrimaryColor,
			FontFamily:   req.Design.FontFamily,
		}
	}

	view, err := h.cards.UpdateCard(r.Context(), principalFrom(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, view)
}

func (h *Handler) addGalleryItem(w http.ResponseWriter, r *http.Request) {
	input, err := readUpload(r, storage.KindGallery)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.cards.AddGalleryItem(r.Context(), principalFrom(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, view)
}

func (h *Handler) setDesignAsset(w http.ResponseWriter, r *http.Request) {
	input, err := readUpload(r, chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.cards.SetDesignAsset(r.Context(), principalFrom(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, view)
}

func (h *Handler) getPublicCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := id.ParseCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.cards.GetPublicCard(r.Context(), cardID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, view)
}

type claimResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	CardID   string `json:"cardId,omitempty"`
	Migrated int    `json:"migrated,omitempty"`
}

func (h *Handler) claimCard(w http.ResponseWriter, r *http.Request) {
	userID, err := id.ParseUserID(middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	anonID := id.AnonymousID(middleware.GetAnonID(r.Context()))

	result, err := h.claims.Claim(r.Context(), userID, anonID, claim.Meta{
		RequestID: middleware.GetRequestID(r.Context()),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := claimResponse{
		Status:   "ok",
		Code:     string(result.Code),
		Message:  result.Message,
		Migrated: result.Migrated,
	}
	if !result.CardID.IsNil() {
		resp.CardID = result.CardID.String()

		// The visitor projection may still carry pre-claim URLs.
		h.cards.InvalidatePublicView(r.Context(), result.CardID)
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// readUpload pulls one raw image from the request body.
func readUpload(r *http.Request, kind string) (service.UploadInput, error) {
	contentType := r.Header.Get("Content-Type")
	ext, ok := extensionFor(contentType)
	if !ok {
		return service.UploadInput{}, dErrors.New(dErrors.CodeValidation, "unsupported content type")
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		return service.UploadInput{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read upload")
	}
	if len(data) == 0 {
		return service.UploadInput{}, dErrors.New(dErrors.CodeValidation, "empty upload")
	}
	if len(data) > maxUploadBytes {
		return service.UploadInput{}, dErrors.New(dErrors.CodeValidation, "upload too large")
	}

	return service.UploadInput{
		Kind:        kind,
		Data:        data,
		ContentType: contentType,
		Ext:         ext,
	}, nil
}

func extensionFor(contentType string) (string, bool) {
	switch contentType {
	case "image/jpeg":
		return "jpg", true
	case "image/png":
		return "png", true
	case "image/webp":
		return "webp", true
	case "image/gif":
		return "gif", true
	case "image/svg+xml":
		return "svg", true
	default:
		return "", false
	}
}

// principalFrom builds the caller identity from the request context.
func principalFrom(r *http.Request) service.Principal {
	var principal service.Principal
	if raw := middleware.GetUserID(r.Context()); raw != "" {
		if uid, err := id.ParseUserID(raw); err == nil {
			principal.UserID = &uid
		}
	}
	principal.AnonID = id.AnonymousID(middleware.GetAnonID(r.Context()))
	return principal
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := dErrors.ToHTTPStatus(dErrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
	h.writeJSON(w, r, status, errorResponse{
		Error:   string(dErrors.CodeOf(err)),
		Message: dErrors.MessageOf(err),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}
