package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Laffyyy/collabo-tool-sub001/internal/middleware"
	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
)

type presenceService interface {
	Heartbeat(ctx context.Context, userID uuid.UUID) (*models.UserPresence, error)
	SetStatus(ctx context.Context, userID uuid.UUID, raw string) (*models.UserPresence, error)
	Get(ctx context.Context, userID uuid.UUID) (*models.UserPresence, error)
	List(ctx context.Context) ([]models.UserPresence, error)
}

type PresenceHandler struct {
	presence presenceService
}

func NewPresenceHandler(presence presenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	p, err := h.presence.Heartbeat(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PresenceHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.SetStatusRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	p, err := h.presence.SetStatus(r.Context(), middleware.GetUserID(r.Context()), req.Status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PresenceHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.presence.Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid user ID", r))
		return
	}

	p, err := h.presence.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PresenceHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.presence.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": items})
}
