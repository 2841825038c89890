package templates

import (
	"context"
	"fmt"
	"strings"

	"github.com/heraldhq/herald/internal/domain"
)

// Service provides templates business logic.
type Service struct {
	repo Repository
}

// NewService creates a new templates service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateTemplate validates and stores a new template at version 1.
func (s *Service) CreateTemplate(ctx context.Context, t *domain.Template) error {
	if err := checkPlaceholders(t); err != nil {
		return err
	}
	t.Version = 1
	return s.repo.CreateTemplate(ctx, t)
}

// GetTemplate returns a template scoped to the tenant.
func (s *Service) GetTemplate(ctx context.Context, tenantID, id string) (*domain.Template, error) {
	return s.repo.GetTemplateByID(ctx, tenantID, id)
}

// ListTemplates returns the tenant's templates matching the filter.
func (s *Service) ListTemplates(ctx context.Context, tenantID string, filter Filter) ([]domain.Template, error) {
	return s.repo.ListTemplates(ctx, tenantID, filter)
}

// UpdateTemplateInput replaces the mutable fields of a template. Name and
// channel are fixed at creation.
type UpdateTemplateInput struct {
	Subject      string
	Body         string
	Data         map[string]string
	Placeholders []string
	Active       bool
}

// UpdateTemplate replaces the template content and bumps its version.
func (s *Service) UpdateTemplate(ctx context.Context, tenantID, id string, input UpdateTemplateInput) (*domain.Template, error) {
	t, err := s.repo.GetTemplateByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	t.Subject = input.Subject
	t.Body = input.Body
	t.Data = input.Data
	t.Placeholders = input.Placeholders
	t.Active = input.Active

	if err := checkPlaceholders(t); err != nil {
		return nil, err
	}

	t.Version++
	if err := s.repo.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTemplate soft-deletes the template.
func (s *Service) DeleteTemplate(ctx context.Context, tenantID, id string) error {
	return s.repo.DeleteTemplate(ctx, tenantID, id)
}

// ResolveActive returns the template the renderer should use for the
// (tenant, name, channel) triple.
func (s *Service) ResolveActive(ctx context.Context, tenantID, name string, channel domain.ChannelType) (*domain.Template, error) {
	return s.repo.GetActiveTemplate(ctx, tenantID, name, channel)
}

// checkPlaceholders rejects templates whose subject, body or data reference
// placeholders missing from the declared set.
func checkPlaceholders(t *domain.Template) error {
	if missing := t.UndeclaredPlaceholders(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUndeclaredPlaceholders, strings.Join(missing, ", "))
	}
	return nil
}
