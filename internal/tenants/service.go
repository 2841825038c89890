package tenants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heraldhq/herald/internal/domain"
)

// MaskedSecret replaces sensitive credential values in API responses.
// Sending it back unchanged in an update keeps the stored value.
const MaskedSecret = "********"

// Defaults holds global fallback provider settings per channel, used to
// synthesise auto-generated credentials for tenants that have none.
type Defaults map[domain.ChannelType]map[string]string

// Service provides credential resolution and management.
type Service struct {
	repo     Repository
	defaults Defaults
}

// NewService creates a new tenants service.
func NewService(repo Repository, defaults Defaults) *Service {
	if defaults == nil {
		defaults = Defaults{}
	}
	return &Service{
		repo:     repo,
		defaults: defaults,
	}
}

// ActiveCredential resolves the credential used for sending on the
// (tenant, channel) pair. A stored active credential always wins, custom
// or auto-generated alike; a custom one is never substituted with global
// settings. When the tenant has no credential for the channel, one is
// synthesised from the global defaults and persisted as auto-generated.
func (s *Service) ActiveCredential(ctx context.Context, tenantID string, channel domain.ChannelType) (*domain.Credential, error) {
	cred, err := s.repo.GetActiveCredential(ctx, tenantID, channel)
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, ErrCredentialNotFound) {
		return nil, err
	}

	defaults, ok := s.defaults[channel]
	if !ok || len(defaults) == 0 {
		return nil, ErrChannelNotConfigured
	}

	data := make(map[string]string, len(defaults))
	for k, v := range defaults {
		data[k] = v
	}

	cred = &domain.Credential{
		TenantID: tenantID,
		Channel:  channel,
		Data:     data,
		Custom:   false,
		Active:   true,
	}
	if err := s.repo.ReplaceActiveCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist auto-generated credential: %w", err)
	}

	slog.Info("auto-generated credential provisioned", "tenant_id", tenantID, "channel", channel)
	return cred, nil
}

// UpsertCredential stores data as the new active credential for the
// (tenant, channel) pair, superseding any previous active one.
func (s *Service) UpsertCredential(ctx context.Context, tenantID string, channel domain.ChannelType, data map[string]string, custom bool) (*domain.Credential, error) {
	cred := &domain.Credential{
		TenantID: tenantID,
		Channel:  channel,
		Data:     data,
		Custom:   custom,
		Active:   true,
	}
	if err := s.repo.ReplaceActiveCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// ListCredentials returns all credentials of the tenant, newest first.
func (s *Service) ListCredentials(ctx context.Context, tenantID string) ([]domain.Credential, error) {
	return s.repo.ListCredentials(ctx, tenantID)
}

// UpdateCredential changes the data and/or active flag of an existing
// credential. Sensitive values equal to MaskedSecret keep their stored
// value, so a client may echo a masked credential back unmodified.
func (s *Service) UpdateCredential(ctx context.Context, tenantID, id string, data map[string]string, active *bool) (*domain.Credential, error) {
	cred, err := s.repo.GetCredentialByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if data != nil {
		for k, v := range data {
			if v == MaskedSecret && domain.IsSensitiveCredentialField(k) {
				if old, ok := cred.Data[k]; ok {
					data[k] = old
				}
			}
		}
		cred.Data = data
	}
	if active != nil {
		cred.Active = *active
	}

	if err := s.repo.UpdateCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}
