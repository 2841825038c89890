// Package devices maintains the per-user registry of push-capable devices
// the push sender resolves recipients against.
package devices

import (
	"context"

	"github.com/heraldhq/herald/internal/domain"
)

// Repository persists device tokens.
type Repository interface {
	// UpsertToken registers a device. An existing row for the same
	// (tenant, user, device) triple gets its token replaced and is
	// reactivated; a stale claim of the same token by another device is
	// released first so the token stays unique.
	UpsertToken(ctx context.Context, t *domain.DeviceToken) error

	GetTokenByID(ctx context.Context, tenantID, id string) (*domain.DeviceToken, error)
	ListTokens(ctx context.Context, tenantID, userID string) ([]domain.DeviceToken, error)

	// ListActiveTokens returns the raw token strings of the user's active
	// devices, most recently updated first.
	ListActiveTokens(ctx context.Context, tenantID, userID string) ([]string, error)

	DeactivateToken(ctx context.Context, tenantID, id string) error
	DeactivateByToken(ctx context.Context, tenantID, token string) error
}
