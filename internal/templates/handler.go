package templates

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/pkg/httputil"
)

// Handler handles HTTP requests for the templates module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new templates handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers template CRUD routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.ListTemplates)
		r.Post("/", h.CreateTemplate)
		r.Get("/{id}", h.GetTemplate)
		r.Put("/{id}", h.UpdateTemplate)
		r.Delete("/{id}", h.DeleteTemplate)
	})
}

// CreateTemplateRequest represents the request body for creating a template.
type CreateTemplateRequest struct {
	Name         string            `json:"name" validate:"required,min=1,max=255"`
	Channel      string            `json:"channel" validate:"required,oneof=email sms push inapp"`
	Subject      string            `json:"subject"`
	Body         string            `json:"body" validate:"required"`
	Data         map[string]string `json:"data"`
	Placeholders []string          `json:"placeholders"`
	Active       *bool             `json:"active"`
}

// ToDomain converts the request to a domain model.
func (r *CreateTemplateRequest) ToDomain(tenantID string) *domain.Template {
	active := true
	if r.Active != nil {
		active = *r.Active
	}

	placeholders := r.Placeholders
	if placeholders == nil {
		placeholders = make([]string, 0)
	}

	return &domain.Template{
		TenantID:     tenantID,
		Name:         r.Name,
		Channel:      domain.ChannelType(r.Channel),
		Subject:      r.Subject,
		Body:         r.Body,
		Data:         r.Data,
		Placeholders: placeholders,
		Active:       active,
	}
}

// UpdateTemplateRequest represents the request body for updating a template.
type UpdateTemplateRequest struct {
	Subject      string            `json:"subject"`
	Body         string            `json:"body" validate:"required"`
	Data         map[string]string `json:"data"`
	Placeholders []string          `json:"placeholders"`
	Active       *bool             `json:"active"`
}

// CreateTemplate handles POST /templates request.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())

	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	template := req.ToDomain(tenantID)
	if err := h.service.CreateTemplate(r.Context(), template); err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, template)
}

// GetTemplate handles GET /templates/{id} request.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	template, err := h.service.GetTemplate(r.Context(), tenantID, id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, template)
}

// ListTemplates handles GET /templates request.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())

	filter := Filter{
		Name: r.URL.Query().Get("name"),
	}
	if channel := r.URL.Query().Get("channel"); channel != "" {
		c := domain.ChannelType(channel)
		if !c.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid channel filter")
			return
		}
		filter.Channel = c
	}

	list, err := h.service.ListTemplates(r.Context(), tenantID, filter)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// UpdateTemplate handles PUT /templates/{id} request.
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	var req UpdateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	placeholders := req.Placeholders
	if placeholders == nil {
		placeholders = make([]string, 0)
	}

	template, err := h.service.UpdateTemplate(r.Context(), tenantID, id, UpdateTemplateInput{
		Subject:      req.Subject,
		Body:         req.Body,
		Data:         req.Data,
		Placeholders: placeholders,
		Active:       active,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, template)
}

// DeleteTemplate handles DELETE /templates/{id} request.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteTemplate(r.Context(), tenantID, id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTemplateNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUndeclaredPlaceholders):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("internal error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
