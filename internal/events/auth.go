package events

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

// Auth event types.
const (
	EventUserRegistered domain.EventType = "user.registration.completed"
	EventPasswordReset  domain.EventType = "user.password.reset.requested"
	EventLoginSucceeded domain.EventType = "user.login.succeeded"
	EventLoginFailed    domain.EventType = "user.login.failed"
)

type registrationPayload struct {
	Username             string `json:"username"`
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	Email                string `json:"email" validate:"required,email"`
	RegistrationDate     string `json:"registration_date"`
	VerificationRequired bool   `json:"verification_required"`
	SendCredentials      bool   `json:"send_credentials"`
	TempPassword         string `json:"temp_password"`
	LoginLink            string `json:"login_link"`
}

type passwordResetPayload struct {
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone"`
	ResetToken string `json:"reset_token" validate:"required"`
	ResetLink  string `json:"reset_link"`
	ExpiresAt  string `json:"expires_at"`
	IPAddress  string `json:"ip_address"`
}

type loginPayload struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	LoginTime     string `json:"login_time"`
	IPAddress     string `json:"ip_address"`
	UserAgent     string `json:"user_agent"`
	Location      string `json:"location"`
	FailureReason string `json:"failure_reason"`
	AttemptCount  int    `json:"attempt_count"`
}

// AuthHandler covers account lifecycle and login security events.
type AuthHandler struct {
	validate *validator.Validate
}

// NewAuthHandler creates the handler for authentication events.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{validate: validator.New()}
}

func (h *AuthHandler) Types() []domain.EventType {
	return []domain.EventType{EventUserRegistered, EventPasswordReset, EventLoginSucceeded, EventLoginFailed}
}

func (h *AuthHandler) CanHandle(eventType domain.EventType) bool {
	return slices.Contains(h.Types(), eventType)
}

func (h *AuthHandler) Priority(domain.EventType) domain.Priority {
	return domain.PriorityHigh
}

func (h *AuthHandler) ChannelsFor(event *domain.Event) []domain.ChannelType {
	if event.EventType == EventLoginFailed {
		return []domain.ChannelType{
			domain.ChannelTypeEmail,
			domain.ChannelTypeSMS,
			domain.ChannelTypePush,
			domain.ChannelTypeInApp,
		}
	}
	return []domain.ChannelType{domain.ChannelTypeEmail}
}

func (h *AuthHandler) ContextFor(event *domain.Event, branding domain.TenantBranding) (map[string]any, error) {
	context := baseContext(event, branding)

	switch event.EventType {
	case EventUserRegistered:
		var p registrationPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		context["username"] = p.Username
		context["first_name"] = p.FirstName
		context["last_name"] = p.LastName
		context["email"] = p.Email
		context["registration_date"] = p.RegistrationDate
		context["verification_required"] = p.VerificationRequired
		context["send_credentials"] = p.SendCredentials
		context["temp_password"] = p.TempPassword
		context["login_link"] = p.LoginLink

	case EventPasswordReset:
		var p passwordResetPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.ResetLink == "" {
			p.ResetLink = "/reset-password?token=" + p.ResetToken
		}
		context["email"] = p.Email
		context["phone"] = p.Phone
		context["reset_token"] = p.ResetToken
		context["reset_link"] = p.ResetLink
		context["expires_at"] = p.ExpiresAt
		context["ip_address"] = p.IPAddress

	case EventLoginSucceeded, EventLoginFailed:
		var p loginPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		context["login_time"] = p.LoginTime
		context["ip_address"] = p.IPAddress
		context["user_agent"] = p.UserAgent
		context["location"] = p.Location
		context["failure_reason"] = p.FailureReason
		context["attempt_count"] = p.AttemptCount
	}

	return context, nil
}

func (h *AuthHandler) ContentFor(eventType domain.EventType, channel domain.ChannelType, context map[string]any) (notifications.Content, bool) {
	switch eventType {
	case EventUserRegistered:
		if channel != domain.ChannelTypeEmail {
			return notifications.Content{}, false
		}
		return notifications.Content{
			Subject: "Welcome to {{tenant_name}}, {{first_name}}!",
			Body:    registrationBody(context),
		}, true

	case EventPasswordReset:
		if channel != domain.ChannelTypeEmail {
			return notifications.Content{}, false
		}
		return notifications.Content{
			Subject: "Password Reset Request - {{tenant_name}}",
			Body: `Hi,

We received a request to reset your password for your {{tenant_name}} account. If you made this request, use the link below:

{{reset_link}}

This link will expire at {{expires_at}}.

If you didn't request this reset, please ignore this email and secure your account.

For security reasons, this request was made from IP: {{ip_address}}

Best regards,
The {{tenant_name}} Security Team`,
		}, true

	case EventLoginSucceeded:
		if channel != domain.ChannelTypeEmail {
			return notifications.Content{}, false
		}
		return notifications.Content{
			Subject: "New Login to Your Account",
			Body: `Hi,

We noticed a new login to your account.

Details:
- Time: {{login_time}}
- IP Address: {{ip_address}}
- Location: {{location}}
- Device: {{user_agent}}

If this wasn't you, please secure your account immediately.

Best regards,
The Security Team`,
		}, true

	case EventLoginFailed:
		return loginFailedContent(channel)
	}

	return notifications.Content{}, false
}

func loginFailedContent(channel domain.ChannelType) (notifications.Content, bool) {
	switch channel {
	case domain.ChannelTypeEmail:
		return notifications.Content{
			Subject: "Security Alert: Failed Login Attempt",
			Body: `Security Alert!

We detected a failed login attempt on your account.

Details:
- Time: {{login_time}}
- IP Address: {{ip_address}}
- Location: {{location}}
- Reason: {{failure_reason}}
- Attempt Count: {{attempt_count}}

If this wasn't you, please change your password immediately and contact support.

Best regards,
The Security Team`,
		}, true
	case domain.ChannelTypeSMS:
		return notifications.Content{
			Body: "Security Alert: Failed login attempt detected. Check your email for details.",
		}, true
	case domain.ChannelTypePush:
		return notifications.Content{
			Subject: "Security Alert",
			Body:    "Failed login attempt detected",
			Data: map[string]string{
				"type":   "security_alert",
				"action": "open_security",
			},
		}, true
	case domain.ChannelTypeInApp:
		return notifications.Content{
			Subject: "Security Alert: Failed Login",
			Body:    "A failed login attempt was detected from {{location}}. Attempt #{{attempt_count}}",
			Data: map[string]string{
				"type":           "login_failed",
				"action":         "view_security",
				"failure_reason": "{{failure_reason}}",
				"ip_address":     "{{ip_address}}",
			},
		}, true
	}
	return notifications.Content{}, false
}

// registrationBody assembles the welcome email. The verification and
// credential sections only appear when the event asks for them.
func registrationBody(context map[string]any) string {
	var b strings.Builder
	b.WriteString("Hi {{first_name}},\n\nWelcome to {{tenant_name}}! Your account has been successfully created.\n")

	if boolValue(context, "verification_required") {
		b.WriteString("\nTo get started, please verify your email address.\n")
	}

	if boolValue(context, "send_credentials") {
		label, value := "Username", stringValue(context, "username")
		if value == "" {
			label, value = "Email", stringValue(context, "email")
		}
		fmt.Fprintf(&b, "\nYour login credentials:\n%s: %s\nTemporary Password: {{temp_password}}\n", label, value)
		if stringValue(context, "login_link") != "" {
			b.WriteString("\nLogin Link: {{login_link}}\n")
		}
		b.WriteString("\nPlease change your password after first login.\nKeep these credentials secure and do not share them with anyone.\n")
	}

	b.WriteString("\nIf you have any questions, feel free to reach out to our support team.\n\nBest regards,\nThe {{tenant_name}} Team")
	return b.String()
}
