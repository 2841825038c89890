package notifications

import (
	"context"
	"fmt"

	"github.com/heraldhq/herald/internal/domain"
)

// TemplateSource resolves the active template for a (tenant, name,
// channel) triple.
type TemplateSource interface {
	ResolveActive(ctx context.Context, tenantID, name string, channel domain.ChannelType) (*domain.Template, error)
}

// Service provides the REST-facing delivery record operations. Sends are
// asynchronous: the service only enqueues; the worker pool delivers.
type Service struct {
	repo      Repository
	templates TemplateSource
}

// NewService creates a notifications service.
func NewService(repo Repository, templates TemplateSource) *Service {
	return &Service{
		repo:      repo,
		templates: templates,
	}
}

// CreateInput describes a direct send request. Content comes either
// inline (Subject/Body) or from a stored template (TemplateName); the
// context map feeds placeholder substitution at delivery time.
type CreateInput struct {
	Channel      domain.ChannelType
	Recipient    string
	Subject      string
	Body         string
	Data         map[string]string
	TemplateName string
	Context      map[string]any
	Priority     domain.Priority
	EventID      *string
	EventType    string
	MaxRetries   int
}

// Create enqueues a delivery record for the worker pool.
func (s *Service) Create(ctx context.Context, tenantID string, input CreateInput) (*domain.DeliveryRecord, error) {
	if input.Recipient == "" {
		return nil, ErrMissingRecipient
	}

	record := &domain.DeliveryRecord{
		TenantID:   tenantID,
		EventID:    input.EventID,
		EventType:  input.EventType,
		Channel:    input.Channel,
		Recipient:  input.Recipient,
		Subject:    input.Subject,
		Body:       input.Body,
		Data:       input.Data,
		Context:    input.Context,
		Priority:   input.Priority,
		MaxRetries: input.MaxRetries,
	}
	if record.Priority == "" {
		record.Priority = domain.PriorityNormal
	}
	if record.MaxRetries <= 0 {
		record.MaxRetries = domain.DefaultMaxRetries
	}

	if input.TemplateName != "" {
		tmpl, err := s.templates.ResolveActive(ctx, tenantID, input.TemplateName, input.Channel)
		if err != nil {
			return nil, fmt.Errorf("resolve template %q: %w", input.TemplateName, err)
		}
		record.Subject = tmpl.Subject
		record.Body = tmpl.Body
		if len(tmpl.Data) > 0 {
			record.Data = tmpl.Data
		}
	}

	if record.Body == "" && record.Subject == "" {
		return nil, ErrMissingContent
	}

	if err := s.repo.CreateRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetRecord returns a delivery record scoped to the tenant.
func (s *Service) GetRecord(ctx context.Context, tenantID, id string) (*domain.DeliveryRecord, error) {
	return s.repo.GetRecordByID(ctx, tenantID, id)
}

// ListRecords returns the tenant's delivery records matching the filter.
func (s *Service) ListRecords(ctx context.Context, tenantID string, filter Filter) ([]domain.DeliveryRecord, error) {
	return s.repo.ListRecords(ctx, tenantID, filter)
}

// MarkRead stamps a recipient's in-app record as read. Delivery state is
// untouched; repeat calls are no-ops.
func (s *Service) MarkRead(ctx context.Context, tenantID, recipient, id string) error {
	return s.repo.MarkRead(ctx, tenantID, recipient, id)
}

// UnreadCount returns the recipient's unread in-app record count.
func (s *Service) UnreadCount(ctx context.Context, tenantID, recipient string) (int, error) {
	return s.repo.UnreadCount(ctx, tenantID, recipient)
}

// QueueStats returns record counts per state.
func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	return s.repo.GetQueueStats(ctx)
}
