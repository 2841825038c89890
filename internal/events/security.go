package events

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

// Security event types.
const (
	EventTwoFactorCodeRequested domain.EventType = "auth.2fa.code.requested"
	EventTwoFactorAttemptFailed domain.EventType = "auth.2fa.attempt.failed"
	EventTwoFactorMethodChanged domain.EventType = "auth.2fa.method.changed"
)

type twoFactorCodePayload struct {
	UserID        string `json:"user_id"`
	UserEmail     string `json:"user_email"`
	Phone         string `json:"phone"`
	UserFirstName string `json:"user_first_name"`
	UserLastName  string `json:"user_last_name"`
	Method        string `json:"method"`
	Code          string `json:"2fa_code" validate:"required"`
	ExpiresAt     string `json:"expires_at"`
}

type twoFactorFailurePayload struct {
	UserID        string `json:"user_id"`
	UserEmail     string `json:"user_email"`
	Phone         string `json:"phone"`
	Method        string `json:"method"`
	IPAddress     string `json:"ip_address"`
	UserAgent     string `json:"user_agent"`
	FailureReason string `json:"failure_reason"`
	AttemptCount  int    `json:"attempt_count"`
	ChangedAt     string `json:"changed_at"`
}

type twoFactorMethodPayload struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	OldMethod string `json:"old_method"`
	NewMethod string `json:"new_method" validate:"required"`
	ChangedAt string `json:"changed_at"`
}

// SecurityHandler covers two-factor authentication events.
type SecurityHandler struct {
	validate *validator.Validate
}

// NewSecurityHandler creates the handler for 2FA security events.
func NewSecurityHandler() *SecurityHandler {
	return &SecurityHandler{validate: validator.New()}
}

func (h *SecurityHandler) Types() []domain.EventType {
	return []domain.EventType{EventTwoFactorCodeRequested, EventTwoFactorAttemptFailed, EventTwoFactorMethodChanged}
}

func (h *SecurityHandler) CanHandle(eventType domain.EventType) bool {
	return slices.Contains(h.Types(), eventType)
}

func (h *SecurityHandler) Priority(domain.EventType) domain.Priority {
	return domain.PriorityHigh
}

func (h *SecurityHandler) ChannelsFor(event *domain.Event) []domain.ChannelType {
	switch event.EventType {
	case EventTwoFactorCodeRequested:
		// The code goes out on the method the user enrolled with.
		if method, _ := event.PayloadString("method"); method == "email" {
			return []domain.ChannelType{domain.ChannelTypeEmail}
		}
		return []domain.ChannelType{domain.ChannelTypeSMS}
	case EventTwoFactorAttemptFailed:
		return []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeSMS, domain.ChannelTypePush}
	default:
		return []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeInApp}
	}
}

func (h *SecurityHandler) ContextFor(event *domain.Event, branding domain.TenantBranding) (map[string]any, error) {
	context := baseContext(event, branding)

	switch event.EventType {
	case EventTwoFactorCodeRequested:
		var p twoFactorCodePayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.Method == "" {
			p.Method = "sms"
		}
		if p.ExpiresAt == "" {
			p.ExpiresAt = "15 minutes from now"
		}
		context["user_first_name"] = p.UserFirstName
		context["user_last_name"] = p.UserLastName
		context["method"] = p.Method
		context["code"] = p.Code
		context["expires_at"] = p.ExpiresAt

	case EventTwoFactorAttemptFailed:
		var p twoFactorFailurePayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		context["method"] = p.Method
		context["ip_address"] = p.IPAddress
		context["user_agent"] = p.UserAgent
		context["failure_reason"] = p.FailureReason
		context["attempt_count"] = p.AttemptCount
		context["changed_at"] = p.ChangedAt

	case EventTwoFactorMethodChanged:
		var p twoFactorMethodPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		context["old_method"] = p.OldMethod
		context["new_method"] = p.NewMethod
		context["changed_at"] = p.ChangedAt
	}

	return context, nil
}

func (h *SecurityHandler) ContentFor(eventType domain.EventType, channel domain.ChannelType, context map[string]any) (notifications.Content, bool) {
	switch eventType {
	case EventTwoFactorCodeRequested:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "Your Two-Factor Authentication Code",
				Body: twoFactorGreeting(context) + `

Your two-factor authentication code is: {code}

This code will expire at {expires_at}.

If you didn't request this code, please secure your account immediately.

Best regards,
{tenant_name} Security Team`,
			}, true
		case domain.ChannelTypeSMS:
			return notifications.Content{
				Body: "Your 2FA code: {code}. Expires: {expires_at}",
			}, true
		}

	case EventTwoFactorAttemptFailed:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "Security Alert: Failed 2FA Attempt",
				Body: `Security Alert!

A failed two-factor authentication attempt was detected on your account.

Details:
- Time: {changed_at}
- Method: {method}
- IP Address: {ip_address}
- Failure Reason: {failure_reason}
- Attempt Count: {attempt_count}

If this wasn't you, please change your password and contact support immediately.

Best regards,
Security Team`,
			}, true
		case domain.ChannelTypeSMS:
			return notifications.Content{
				Body: "Security Alert: Failed 2FA attempt detected. Check email for details.",
			}, true
		case domain.ChannelTypePush:
			return notifications.Content{
				Subject: "Security Alert",
				Body:    "Failed 2FA attempt detected",
				Data: map[string]string{
					"type":   "security_alert",
					"action": "review_security",
				},
			}, true
		}

	case EventTwoFactorMethodChanged:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "Security Settings Changed",
				Body: `Hi,

Your two-factor authentication method has been changed.

Previous method: {old_method}
New method: {new_method}
Changed at: {changed_at}

If you didn't make this change, please contact support immediately.

Best regards,
Security Team`,
			}, true
		case domain.ChannelTypeInApp:
			return notifications.Content{
				Subject: "Security Settings Updated",
				Body:    "Your 2FA method has been changed to {new_method}",
				Data: map[string]string{
					"type":   "security_settings_changed",
					"action": "view_security_settings",
				},
			}, true
		}
	}

	return notifications.Content{}, false
}

// twoFactorGreeting personalizes the code email when the event carries
// the user's name.
func twoFactorGreeting(context map[string]any) string {
	name := strings.TrimSpace(stringValue(context, "user_first_name") + " " + stringValue(context, "user_last_name"))
	if name == "" {
		return "Hi,"
	}
	return "Hi " + name + ","
}
