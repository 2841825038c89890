package tenants

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/pkg/httputil"
)

// Handler handles HTTP requests for tenant credential management.
type Handler struct {
	service   *Service
	cache     *Cache
	validator *validator.Validate
}

// NewHandler creates a new tenants handler.
func NewHandler(service *Service, cache *Cache) *Handler {
	return &Handler{
		service:   service,
		cache:     cache,
		validator: validator.New(),
	}
}

// RegisterRoutes registers credential management routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/credentials", func(r chi.Router) {
		r.Get("/", h.ListCredentials)
		r.Post("/", h.UpsertCredential)
		r.Put("/{id}", h.UpdateCredential)
	})
}

// UpsertCredentialRequest is the request body for POST /credentials.
type UpsertCredentialRequest struct {
	Channel string            `json:"channel" validate:"required,oneof=email sms push inapp"`
	Data    map[string]string `json:"data" validate:"required,min=1"`
	Custom  *bool             `json:"custom"`
}

// UpdateCredentialRequest is the request body for PUT /credentials/{id}.
type UpdateCredentialRequest struct {
	Data   map[string]string `json:"data"`
	Active *bool             `json:"active"`
}

// CredentialResponse is a credential with sensitive values masked.
type CredentialResponse struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	Channel   domain.ChannelType `json:"channel"`
	Data      map[string]string  `json:"data"`
	Custom    bool               `json:"custom"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func toCredentialResponse(cred *domain.Credential) CredentialResponse {
	masked := make(map[string]string, len(cred.Data))
	for k, v := range cred.Data {
		if domain.IsSensitiveCredentialField(k) {
			v = MaskedSecret
		}
		masked[k] = v
	}
	return CredentialResponse{
		ID:        cred.ID,
		TenantID:  cred.TenantID,
		Channel:   cred.Channel,
		Data:      masked,
		Custom:    cred.Custom,
		Active:    cred.Active,
		CreatedAt: cred.CreatedAt,
		UpdatedAt: cred.UpdatedAt,
	}
}

// ListCredentials handles GET /credentials request.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())

	creds, err := h.service.ListCredentials(r.Context(), tenantID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	out := make([]CredentialResponse, 0, len(creds))
	for i := range creds {
		out = append(out, toCredentialResponse(&creds[i]))
	}

	httputil.Success(w, http.StatusOK, out)
}

// UpsertCredential handles POST /credentials request. The new credential
// becomes the active one for its channel.
func (h *Handler) UpsertCredential(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())

	var req UpsertCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	custom := true
	if req.Custom != nil {
		custom = *req.Custom
	}

	cred, err := h.service.UpsertCredential(r.Context(), tenantID, domain.ChannelType(req.Channel), req.Data, custom)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.cache.InvalidateCredential(tenantID, cred.Channel)

	httputil.Success(w, http.StatusCreated, toCredentialResponse(cred))
}

// UpdateCredential handles PUT /credentials/{id} request.
func (h *Handler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	var req UpdateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	cred, err := h.service.UpdateCredential(r.Context(), tenantID, id, req.Data, req.Active)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.cache.InvalidateCredential(tenantID, cred.Channel)

	httputil.Success(w, http.StatusOK, toCredentialResponse(cred))
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCredentialNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("internal error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
