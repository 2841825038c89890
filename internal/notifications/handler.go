package notifications

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/pkg/httputil"
	"github.com/heraldhq/herald/internal/templates"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrRecordNotFound, Status: http.StatusNotFound, Message: "delivery record not found"},
	{Error: ErrDuplicateDelivery, Status: http.StatusConflict, Message: "delivery record already exists for this event"},
	{Error: ErrMissingRecipient, Status: http.StatusBadRequest, Message: "recipient is required"},
	{Error: ErrMissingContent, Status: http.StatusBadRequest, Message: "either inline content or template_name is required"},
	{Error: ErrRecipientMismatch, Status: http.StatusForbidden, Message: "record does not belong to caller"},
	{Error: templates.ErrTemplateNotFound, Status: http.StatusNotFound, Message: "template not found"},
}

// Handler handles HTTP requests for delivery records.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers delivery record routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/records", func(r chi.Router) {
		r.Get("/", h.ListRecords)
		r.Post("/", h.CreateRecord)
		r.Get("/{id}", h.GetRecord)
		r.Post("/{id}/read", h.MarkRead)
	})
	r.Get("/records-unread-count", h.UnreadCount)
}

// CreateRecordRequest represents the request body for a direct send.
type CreateRecordRequest struct {
	Channel      string            `json:"channel" validate:"required,oneof=email sms push inapp"`
	Recipient    string            `json:"recipient" validate:"required"`
	Subject      string            `json:"subject"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data"`
	TemplateName string            `json:"template_name"`
	Context      map[string]any    `json:"context"`
	Priority     string            `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

// CreateRecord handles POST /records.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())

	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	record, err := h.service.Create(r.Context(), tenantID, CreateInput{
		Channel:      domain.ChannelType(req.Channel),
		Recipient:    req.Recipient,
		Subject:      req.Subject,
		Body:         req.Body,
		Data:         req.Data,
		TemplateName: req.TemplateName,
		Context:      req.Context,
		Priority:     domain.Priority(req.Priority),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, record)
}

// ListRecords handles GET /records.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())

	filter := Filter{
		Channel:   domain.ChannelType(r.URL.Query().Get("channel")),
		State:     domain.DeliveryState(r.URL.Query().Get("state")),
		Recipient: r.URL.Query().Get("recipient"),
		EventType: r.URL.Query().Get("event_type"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		filter.Offset, _ = strconv.Atoi(offset)
	}

	if filter.Channel != "" && !filter.Channel.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid channel")
		return
	}
	if filter.State != "" && !filter.State.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid state")
		return
	}

	records, err := h.service.ListRecords(r.Context(), tenantID, filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, records)
}

// GetRecord handles GET /records/{id}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	recordID := chi.URLParam(r, "id")

	record, err := h.service.GetRecord(r.Context(), tenantID, recordID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, record)
}

// MarkRead handles POST /records/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	userID := httputil.GetUserID(r.Context())
	recordID := chi.URLParam(r, "id")

	if err := h.service.MarkRead(r.Context(), tenantID, userID, recordID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnreadCount handles GET /records-unread-count.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	userID := httputil.GetUserID(r.Context())

	count, err := h.service.UnreadCount(r.Context(), tenantID, userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int{"unread_count": count})
}
