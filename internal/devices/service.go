package devices

import (
	"context"
	"fmt"

	"github.com/heraldhq/herald/internal/domain"
)

const defaultLanguage = "en"

// Service provides device registry business logic. It doubles as the token
// source of the push sender.
type Service struct {
	repo Repository
}

// NewService creates a new devices service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterInput describes a device registration.
type RegisterInput struct {
	UserID   string
	DeviceID string
	Token    string
	Platform domain.DevicePlatform
	Language string
}

// Register upserts a device registration. Re-registering a known
// (user, device) pair replaces its token and reactivates it.
func (s *Service) Register(ctx context.Context, tenantID string, input RegisterInput) (*domain.DeviceToken, error) {
	if !input.Platform.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlatform, input.Platform)
	}

	language := input.Language
	if language == "" {
		language = defaultLanguage
	}

	t := &domain.DeviceToken{
		TenantID: tenantID,
		UserID:   input.UserID,
		DeviceID: input.DeviceID,
		Token:    input.Token,
		Platform: input.Platform,
		Language: language,
	}
	if err := s.repo.UpsertToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetDevice returns a registration scoped to the tenant.
func (s *Service) GetDevice(ctx context.Context, tenantID, id string) (*domain.DeviceToken, error) {
	return s.repo.GetTokenByID(ctx, tenantID, id)
}

// ListDevices returns all of the user's registrations.
func (s *Service) ListDevices(ctx context.Context, tenantID, userID string) ([]domain.DeviceToken, error) {
	return s.repo.ListTokens(ctx, tenantID, userID)
}

// Deactivate marks a registration inactive. The row stays on record so a
// later re-registration of the same device revives it.
func (s *Service) Deactivate(ctx context.Context, tenantID, id string) error {
	return s.repo.DeactivateToken(ctx, tenantID, id)
}

// ActiveTokens returns the user's active token strings for push delivery.
func (s *Service) ActiveTokens(ctx context.Context, tenantID, userID string) ([]string, error) {
	return s.repo.ListActiveTokens(ctx, tenantID, userID)
}

// MarkTokenInactive records a token the provider reported as unregistered.
func (s *Service) MarkTokenInactive(ctx context.Context, tenantID, token string) error {
	return s.repo.DeactivateByToken(ctx, tenantID, token)
}
