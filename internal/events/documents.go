package events

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

// Document compliance event types.
const (
	EventDocumentExpiryWarning domain.EventType = "user.document.expiry.warning"
	EventDocumentExpired       domain.EventType = "user.document.expired"
	EventDocumentAcknowledged  domain.EventType = "document.acknowledged"
)

type documentExpiryPayload struct {
	FullName     string `json:"full_name"`
	UserEmail    string `json:"user_email" validate:"required,email"`
	UserID       string `json:"user_id"`
	Phone        string `json:"phone"`
	DocumentType string `json:"document_type" validate:"required"`
	DocumentName string `json:"document_name"`
	ExpiryDate   string `json:"expiry_date"`
	DaysLeft     int    `json:"days_left"`
	DaysExpired  int    `json:"days_expired"`
	Message      string `json:"message"`
}

type documentAckPayload struct {
	UserName       string `json:"user_name"`
	UserEmail      string `json:"user_email" validate:"required,email"`
	UserID         string `json:"user_id"`
	DocumentTitle  string `json:"document_title" validate:"required"`
	DocumentID     string `json:"document_id"`
	AcknowledgedAt string `json:"acknowledged_at"`
}

// DocumentsHandler covers HR document compliance events.
type DocumentsHandler struct {
	validate *validator.Validate
}

// NewDocumentsHandler creates the handler for document lifecycle events.
func NewDocumentsHandler() *DocumentsHandler {
	return &DocumentsHandler{validate: validator.New()}
}

func (h *DocumentsHandler) Types() []domain.EventType {
	return []domain.EventType{EventDocumentExpiryWarning, EventDocumentExpired, EventDocumentAcknowledged}
}

func (h *DocumentsHandler) CanHandle(eventType domain.EventType) bool {
	return slices.Contains(h.Types(), eventType)
}

func (h *DocumentsHandler) Priority(eventType domain.EventType) domain.Priority {
	switch eventType {
	case EventDocumentExpiryWarning:
		return domain.PriorityHigh
	case EventDocumentExpired:
		return domain.PriorityUrgent
	default:
		return domain.PriorityNormal
	}
}

func (h *DocumentsHandler) ChannelsFor(event *domain.Event) []domain.ChannelType {
	if event.EventType == EventDocumentExpired {
		return []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeSMS, domain.ChannelTypeInApp}
	}
	return []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeInApp}
}

func (h *DocumentsHandler) ContextFor(event *domain.Event, branding domain.TenantBranding) (map[string]any, error) {
	context := baseContext(event, branding)

	switch event.EventType {
	case EventDocumentExpiryWarning, EventDocumentExpired:
		var p documentExpiryPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		context["full_name"] = p.FullName
		context["user_email"] = p.UserEmail
		context["document_type"] = p.DocumentType
		context["document_name"] = p.DocumentName
		context["expiry_date"] = p.ExpiryDate
		context["days_left"] = p.DaysLeft
		context["days_expired"] = p.DaysExpired
		context["message"] = p.Message

	case EventDocumentAcknowledged:
		var p documentAckPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		context["user_name"] = p.UserName
		context["user_email"] = p.UserEmail
		context["document_title"] = p.DocumentTitle
		context["document_id"] = p.DocumentID
		context["acknowledged_at"] = p.AcknowledgedAt
	}

	return context, nil
}

func (h *DocumentsHandler) ContentFor(eventType domain.EventType, channel domain.ChannelType, context map[string]any) (notifications.Content, bool) {
	switch eventType {
	case EventDocumentExpiryWarning:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "Document Expiring Soon: {{document_type}}",
				Body: `Dear {{full_name}},

This is an important notification regarding your documents.

Document Details:
- Type: {{document_type}}
- Name: {{document_name}}
- Expiry Date: {{expiry_date}}
- Days Left: {{days_left}}

Important: {{message}}

Please take immediate action to renew this document to avoid any employment disruption or compliance issues.

If you have already renewed this document, please update your profile with the new expiry date.

Best regards,
HR & Compliance Team`,
			}, true
		case domain.ChannelTypeInApp:
			return notifications.Content{
				Subject: "{{document_type}} Expiring Soon",
				Body:    "Your {{document_type}} expires in {{days_left}} days. Please renew to avoid disruption.",
				Data: map[string]string{
					"type":          "document_expiry_warning",
					"document_type": "{{document_type}}",
					"expiry_date":   "{{expiry_date}}",
					"action":        "view_documents",
				},
			}, true
		}

	case EventDocumentExpired:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "Document Expired: {{document_type}}",
				Body: `Dear {{full_name}},

URGENT: Document Has Expired

Document Details:
- Type: {{document_type}}
- Name: {{document_name}}
- Expiry Date: {{expiry_date}}
- Days Expired: {{days_expired}}

Critical: {{message}}

Your employment status and compliance may be affected. Please renew this document immediately and update your profile.

Contact HR immediately if you need assistance with the renewal process.

Best regards,
HR & Compliance Team`,
			}, true
		case domain.ChannelTypeSMS:
			return notifications.Content{
				Body: "URGENT: Your {{document_type}} has expired. Immediate renewal required to stay compliant.",
			}, true
		case domain.ChannelTypeInApp:
			return notifications.Content{
				Subject: "{{document_type}} Expired",
				Body:    "Your {{document_type}} has expired. Immediate renewal required.",
				Data: map[string]string{
					"type":          "document_expired",
					"document_type": "{{document_type}}",
					"expiry_date":   "{{expiry_date}}",
					"action":        "renew_document",
				},
			}, true
		}

	case EventDocumentAcknowledged:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "Document Acknowledged: {{document_title}}",
				Body: `Dear {{user_name}},

This is to confirm that you have successfully acknowledged the following document:

Document Details:
- Title: {{document_title}}
- Acknowledged At: {{acknowledged_at}}
- Organization: {{tenant_name}}

By acknowledging this document, you confirm that you have read and understood its contents. This acknowledgment has been recorded for compliance purposes.

If you did not perform this action or believe this was done in error, please contact your administrator immediately.

Best regards,
Compliance & HR Team
{{tenant_name}}`,
			}, true
		case domain.ChannelTypeInApp:
			return notifications.Content{
				Subject: "Document Acknowledged",
				Body:    `You have successfully acknowledged "{{document_title}}".`,
				Data: map[string]string{
					"type":        "document_acknowledged",
					"document_id": "{{document_id}}",
					"action":      "view_acknowledgment",
				},
			}, true
		}
	}

	return notifications.Content{}, false
}
