package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tapcard/internal/card/models"
	"tapcard/internal/platform/middleware"
	id "tapcard/pkg/domain"
	dErrors "tapcard/pkg/domain-errors"
)

// Handler exposes the admin service. The caller mounts it behind the admin
// key middleware.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Put("/admin/cards/{cardID}/override", h.setOverride)
	r.Delete("/admin/cards/{cardID}/override", h.clearOverride)
	r.Put("/admin/cards/{cardID}/tier", h.setCardTier)
	r.Put("/admin/users/{userID}/tier", h.setUserTier)
	r.Get("/admin/cards/{cardID}/audit", h.cardAudit)
}

type overrideRequest struct {
	Plan   string    `json:"plan"`
	Until  time.Time `json:"until"`
	Admin  string    `json:"admin"`
	Reason string    `json:"reason"`
}

func (h *Handler) setOverride(w http.ResponseWriter, r *http.Request) {
	cardID, err := id.ParseCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	card, err := h.svc.SetCardOverride(r.Context(), cardID, OverrideInput{
		Plan:   models.PlanKind(req.Plan),
		Until:  req.Until,
		Admin:  req.Admin,
		Reason: req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, card)
}

func (h *Handler) clearOverride(w http.ResponseWriter, r *http.Request) {
	cardID, err := id.ParseCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	card, err := h.svc.ClearCardOverride(r.Context(), cardID, r.Header.Get(middleware.AdminActorHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, card)
}

type tierRequest struct {
	Tier  string     `json:"tier"`
	Until *time.Time `json:"until"`
	Admin string     `json:"admin"`
}

func (h *Handler) setCardTier(w http.ResponseWriter, r *http.Request) {
	cardID, err := id.ParseCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req tierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	card, err := h.svc.SetCardTier(r.Context(), cardID, TierInput{
		Tier:  models.Tier(req.Tier),
		Until: req.Until,
		Admin: req.Admin,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, card)
}

func (h *Handler) setUserTier(w http.ResponseWriter, r *http.Request) {
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req tierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	user, err := h.svc.SetUserTier(r.Context(), userID, TierInput{
		Tier:  models.Tier(req.Tier),
		Until: req.Until,
		Admin: req.Admin,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, user)
}

func (h *Handler) cardAudit(w http.ResponseWriter, r *http.Request) {
	cardID, err := id.ParseCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.svc.CardAudit(r.Context(), cardID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"events": events})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := dErrors.ToHTTPStatus(dErrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "admin request failed", "path", r.URL.Path, "error", err)
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
