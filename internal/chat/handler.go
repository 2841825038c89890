package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/pkg/httputil"
)

// Handler handles HTTP requests for the chat module. Live messaging runs
// over the WebSocket hub; this surface covers listing and history.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new chat handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers chat REST routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations)
		r.Post("/", h.CreateConversation)
		r.Get("/{id}", h.GetConversation)
		r.Get("/{id}/messages", h.ListMessages)
	})
}

// CreateConversationRequest represents the request body for creating a
// conversation.
type CreateConversationRequest struct {
	Type         string   `json:"type" validate:"omitempty,oneof=direct group channel"`
	Name         string   `json:"name" validate:"max=255"`
	Participants []string `json:"participants" validate:"max=100,dive,required"`
}

// CreateConversation handles POST /chat/conversations request.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	userID := httputil.GetUserID(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	conversation, err := h.service.CreateConversation(r.Context(), tenantID, userID, CreateConversationInput{
		Type:         domain.ConversationType(req.Type),
		Name:         req.Name,
		Participants: req.Participants,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, conversation)
}

// ListConversations handles GET /chat/conversations request.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	userID := httputil.GetUserID(r.Context())

	list, err := h.service.ListConversations(r.Context(), tenantID, userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// GetConversation handles GET /chat/conversations/{id} request.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	userID := httputil.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	conversation, err := h.service.GetConversation(r.Context(), tenantID, userID, id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, conversation)
}

// ListMessages handles GET /chat/conversations/{id}/messages request.
// Returns the newest messages in chronological order; limit clamps to the
// history maximum.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	userID := httputil.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	active, err := h.service.IsActiveParticipant(r.Context(), tenantID, id, userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if !active {
		httputil.Error(w, http.StatusForbidden, ErrNotParticipant.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	messages, err := h.service.History(r.Context(), tenantID, id, limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, messages)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotMessageAuthor):
		httputil.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidMessageType), errors.Is(err, ErrInvalidReplyTarget):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("internal error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
