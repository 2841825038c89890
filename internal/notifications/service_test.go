package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/domain"
)

// mockTemplates implements TemplateSource for testing.
type mockTemplates struct {
	template *domain.Template
	err      error

	lastTenantID string
	lastName     string
	lastChannel  domain.ChannelType
}

func (m *mockTemplates) ResolveActive(_ context.Context, tenantID, name string, channel domain.ChannelType) (*domain.Template, error) {
	m.lastTenantID = tenantID
	m.lastName = name
	m.lastChannel = channel
	if m.err != nil {
		return nil, m.err
	}
	return m.template, nil
}

func TestCreate_MissingRecipient(t *testing.T) {
	service := NewService(newMockRepository(), &mockTemplates{})

	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel: domain.ChannelTypeEmail,
		Body:    "hello",
	})

	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrMissingRecipient)
}

func TestCreate_MissingContent(t *testing.T) {
	service := NewService(newMockRepository(), &mockTemplates{})

	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel:   domain.ChannelTypeEmail,
		Recipient: "user@example.com",
	})

	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrMissingContent)
}

func TestCreate_InlineContent(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockTemplates{})

	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel:   domain.ChannelTypeEmail,
		Recipient: "user@example.com",
		Subject:   "Welcome {name}",
		Body:      "Hello {name}",
		Context:   map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, "test-record-id", record.ID)
	assert.Equal(t, "tenant-1", record.TenantID)
	assert.Equal(t, "Welcome {name}", record.Subject)
	assert.Equal(t, "Hello {name}", record.Body)
	assert.Len(t, repo.created, 1)
}

func TestCreate_Defaults(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockTemplates{})

	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel:   domain.ChannelTypeInApp,
		Recipient: "user-1",
		Body:      "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PriorityNormal, record.Priority)
	assert.Equal(t, domain.DefaultMaxRetries, record.MaxRetries)
}

func TestCreate_ExplicitPriorityAndRetries(t *testing.T) {
	service := NewService(newMockRepository(), &mockTemplates{})

	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel:    domain.ChannelTypeSMS,
		Recipient:  "+12025550147",
		Body:       "code 123456",
		Priority:   domain.PriorityUrgent,
		MaxRetries: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PriorityUrgent, record.Priority)
	assert.Equal(t, 7, record.MaxRetries)
}

func TestCreate_FromTemplate(t *testing.T) {
	templates := &mockTemplates{template: &domain.Template{
		Name:    "welcome",
		Subject: "Welcome to {tenant}",
		Body:    "Hi {name}, glad to have you.",
		Data:    map[string]string{"click_action": "OPEN_HOME"},
	}}
	service := NewService(newMockRepository(), templates)

	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel:      domain.ChannelTypePush,
		Recipient:    "user-1",
		TemplateName: "welcome",
		Data:         map[string]string{"ignored": "yes"},
	})
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", templates.lastTenantID)
	assert.Equal(t, "welcome", templates.lastName)
	assert.Equal(t, domain.ChannelTypePush, templates.lastChannel)

	assert.Equal(t, "Welcome to {tenant}", record.Subject)
	assert.Equal(t, "Hi {name}, glad to have you.", record.Body)
	assert.Equal(t, map[string]string{"click_action": "OPEN_HOME"}, record.Data)
}

func TestCreate_TemplateWithoutDataKeepsInput(t *testing.T) {
	templates := &mockTemplates{template: &domain.Template{
		Name: "plain",
		Body: "template body",
	}}
	service := NewService(newMockRepository(), templates)

	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel:      domain.ChannelTypePush,
		Recipient:    "user-1",
		TemplateName: "plain",
		Data:         map[string]string{"sound": "chime"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"sound": "chime"}, record.Data)
}

func TestCreate_TemplateResolveError(t *testing.T) {
	templates := &mockTemplates{err: errors.New("template not found")}
	service := NewService(newMockRepository(), templates)

	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel:      domain.ChannelTypeEmail,
		Recipient:    "user@example.com",
		TemplateName: "missing",
	})

	assert.Nil(t, record)
	assert.ErrorContains(t, err, `resolve template "missing"`)
}

func TestCreate_DuplicateDelivery(t *testing.T) {
	repo := newMockRepository()
	repo.createErr = ErrDuplicateDelivery
	service := NewService(repo, &mockTemplates{})

	eventID := "evt-1"
	record, err := service.Create(context.Background(), "tenant-1", CreateInput{
		Channel:   domain.ChannelTypeEmail,
		Recipient: "user@example.com",
		Body:      "hello",
		EventID:   &eventID,
	})

	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrDuplicateDelivery)
}

func TestListRecords_PassesFilter(t *testing.T) {
	repo := newMockRepository()
	repo.listResult = []domain.DeliveryRecord{{ID: "rec-1"}}
	service := NewService(repo, &mockTemplates{})

	filter := Filter{
		Channel: domain.ChannelTypeInApp,
		State:   domain.DeliveryStateSuccess,
		Limit:   20,
	}
	records, err := service.ListRecords(context.Background(), "tenant-1", filter)
	require.NoError(t, err)

	assert.Len(t, records, 1)
	assert.Equal(t, filter, repo.listed)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	repo := newMockRepository()
	repo.unread = 4
	service := NewService(repo, &mockTemplates{})

	err := service.MarkRead(context.Background(), "tenant-1", "user-1", "rec-9")
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-9"}, repo.readIDs)

	count, err := service.UnreadCount(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
