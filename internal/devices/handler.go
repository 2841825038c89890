package devices

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

// Handler handles HTTP requests for the devices module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new devices handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers device registry routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", h.ListDevices)
		r.Post("/", h.RegisterDevice)
		r.Delete("/{id}", h.DeactivateDevice)
	})
}

// RegisterDeviceRequest represents the request body for registering a device.
type RegisterDeviceRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id" validate:"required,min=1,max=255"`
	Token    string `json:"token" validate:"required,min=1,max=500"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
	Language string `json:"language" validate:"omitempty,max=10"`
}

// RegisterDevice handles POST /devices request. Registrations belong to the
// calling user unless the body names another one.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = httputil.GetUserID(r.Context())
	}
	if userID == "" {
		httputil.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	token, err := h.service.Register(r.Context(), tenantID, RegisterInput{
		UserID:   userID,
		DeviceID: req.DeviceID,
		Token:    req.Token,
		Platform: domain.DevicePlatform(req.Platform),
		Language: req.Language,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, token)
}

// ListDevices handles GET /devices request. Defaults to the calling user's
// devices; user_id overrides for administrative lookups.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = httputil.GetUserID(r.Context())
	}
	if userID == "" {
		httputil.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	list, err := h.service.ListDevices(r.Context(), tenantID, userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// DeactivateDevice handles DELETE /devices/{id} request.
func (h *Handler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.service.Deactivate(r.Context(), tenantID, id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidPlatform):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("internal error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
