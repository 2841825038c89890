// Package templates provides CRUD and resolution for tenant-owned message
// templates.
package templates

import (
	"context"

	"github.com/heraldhq/herald/internal/domain"
)

// Filter narrows template listings.
type Filter struct {
	Name    string
	Channel domain.ChannelType
}

// Repository persists notification templates.
type Repository interface {
	CreateTemplate(ctx context.Context, t *domain.Template) error
	GetTemplateByID(ctx context.Context, tenantID, id string) (*domain.Template, error)
	ListTemplates(ctx context.Context, tenantID string, filter Filter) ([]domain.Template, error)
	UpdateTemplate(ctx context.Context, t *domain.Template) error

	// DeleteTemplate soft-deletes the template; it stops resolving but
	// stays on record.
	DeleteTemplate(ctx context.Context, tenantID, id string) error

	// GetActiveTemplate returns the highest-version active template for the
	// (tenant, name, channel) triple, or ErrTemplateNotFound.
	GetActiveTemplate(ctx context.Context, tenantID, name string, channel domain.ChannelType) (*domain.Template, error)
}
