package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/domain"
)

func TestSecurityHandler_CodeDeliveryFollowsMethod(t *testing.T) {
	h := NewSecurityHandler()

	sms := &domain.Event{EventType: EventTwoFactorCodeRequested, Payload: map[string]any{"method": "sms"}}
	assert.Equal(t, []domain.ChannelType{domain.ChannelTypeSMS}, h.ChannelsFor(sms))

	email := &domain.Event{EventType: EventTwoFactorCodeRequested, Payload: map[string]any{"method": "email"}}
	assert.Equal(t, []domain.ChannelType{domain.ChannelTypeEmail}, h.ChannelsFor(email))

	// SMS is the default enrollment method.
	unspecified := &domain.Event{EventType: EventTwoFactorCodeRequested, Payload: map[string]any{}}
	assert.Equal(t, []domain.ChannelType{domain.ChannelTypeSMS}, h.ChannelsFor(unspecified))
}

func TestSecurityHandler_Channels(t *testing.T) {
	h := NewSecurityHandler()

	failed := &domain.Event{EventType: EventTwoFactorAttemptFailed}
	assert.Equal(t,
		[]domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeSMS, domain.ChannelTypePush},
		h.ChannelsFor(failed))

	changed := &domain.Event{EventType: EventTwoFactorMethodChanged}
	assert.Equal(t,
		[]domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeInApp},
		h.ChannelsFor(changed))
}

func TestSecurityHandler_CodeContext(t *testing.T) {
	h := NewSecurityHandler()
	event := &domain.Event{
		EventType: EventTwoFactorCodeRequested,
		Payload:   map[string]any{"2fa_code": "123456", "user_email": "ada@example.com"},
	}

	context, err := h.ContextFor(event, domain.TenantBranding{Name: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, "123456", context["code"])
	assert.Equal(t, "sms", context["method"])
	assert.Equal(t, "15 minutes from now", context["expires_at"])
}

func TestSecurityHandler_CodeRequired(t *testing.T) {
	h := NewSecurityHandler()
	event := &domain.Event{
		EventType: EventTwoFactorCodeRequested,
		Payload:   map[string]any{"user_email": "ada@example.com"},
	}

	_, err := h.ContextFor(event, domain.TenantBranding{})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSecurityHandler_CodeEmailGreeting(t *testing.T) {
	h := NewSecurityHandler()

	named := map[string]any{"user_first_name": "Ada", "user_last_name": "Lovelace"}
	content, ok := h.ContentFor(EventTwoFactorCodeRequested, domain.ChannelTypeEmail, named)
	require.True(t, ok)
	assert.Contains(t, content.Body, "Hi Ada Lovelace,")
	assert.Contains(t, content.Body, "{code}")

	anonymous := map[string]any{}
	content, _ = h.ContentFor(EventTwoFactorCodeRequested, domain.ChannelTypeEmail, anonymous)
	assert.Contains(t, content.Body, "Hi,")
}

func TestSecurityHandler_CodeSMSContent(t *testing.T) {
	h := NewSecurityHandler()
	content, ok := h.ContentFor(EventTwoFactorCodeRequested, domain.ChannelTypeSMS, nil)
	require.True(t, ok)
	assert.Equal(t, "Your 2FA code: {code}. Expires: {expires_at}", content.Body)
}

func TestSecurityHandler_MethodChangedRequiresNewMethod(t *testing.T) {
	h := NewSecurityHandler()
	event := &domain.Event{
		EventType: EventTwoFactorMethodChanged,
		Payload:   map[string]any{"old_method": "sms"},
	}

	_, err := h.ContextFor(event, domain.TenantBranding{})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSecurityHandler_MethodChangedContent(t *testing.T) {
	h := NewSecurityHandler()

	email, ok := h.ContentFor(EventTwoFactorMethodChanged, domain.ChannelTypeEmail, nil)
	require.True(t, ok)
	assert.Equal(t, "Security Settings Changed", email.Subject)
	assert.Contains(t, email.Body, "{old_method}")
	assert.Contains(t, email.Body, "{new_method}")

	inapp, ok := h.ContentFor(EventTwoFactorMethodChanged, domain.ChannelTypeInApp, nil)
	require.True(t, ok)
	assert.Equal(t, "view_security_settings", inapp.Data["action"])

	_, ok = h.ContentFor(EventTwoFactorMethodChanged, domain.ChannelTypeSMS, nil)
	assert.False(t, ok)
}

func TestSecurityHandler_Priority(t *testing.T) {
	h := NewSecurityHandler()
	for _, eventType := range h.Types() {
		assert.Equal(t, domain.PriorityHigh, h.Priority(eventType))
	}
}
