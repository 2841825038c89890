// Package tenants manages per-tenant provider credentials and branding,
// fronted by a read-through TTL cache.
package tenants

import (
	"context"

	"github.com/heraldhq/herald/internal/domain"
)

// Repository persists tenant credentials.
type Repository interface {
	// GetActiveCredential returns the single active credential for the
	// (tenant, channel) pair, or ErrCredentialNotFound.
	GetActiveCredential(ctx context.Context, tenantID string, channel domain.ChannelType) (*domain.Credential, error)

	// GetCredentialByID returns a credential scoped to the tenant.
	GetCredentialByID(ctx context.Context, tenantID, id string) (*domain.Credential, error)

	// ListCredentials returns all credentials of the tenant, newest first.
	ListCredentials(ctx context.Context, tenantID string) ([]domain.Credential, error)

	// ReplaceActiveCredential deactivates the current active credential for
	// the (tenant, channel) pair and inserts cred as the new active one, in
	// a single transaction.
	ReplaceActiveCredential(ctx context.Context, cred *domain.Credential) error

	// UpdateCredential updates data, custom and active flags of an existing
	// credential. When cred.Active is true, any other active credential for
	// the same channel is deactivated in the same transaction.
	UpdateCredential(ctx context.Context, cred *domain.Credential) error
}
