package events

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

// Application event types.
const (
	EventInvoicePaymentFailed domain.EventType = "invoice.payment.failed"
	EventTaskAssigned         domain.EventType = "task.assigned"
	EventCommentMentioned     domain.EventType = "comment.mentioned"
	EventContentLiked         domain.EventType = "content.liked"
)

type invoicePayload struct {
	UserID        string  `json:"user_id"`
	Email         string  `json:"email"`
	InvoiceID     string  `json:"invoice_id" validate:"required"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	FailureReason string  `json:"failure_reason"`
	NextRetryDate string  `json:"next_retry_date"`
	PaymentMethod string  `json:"payment_method"`
}

type taskPayload struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	TaskID          string `json:"task_id"`
	TaskTitle       string `json:"task_title" validate:"required"`
	TaskDescription string `json:"task_description"`
	AssignedBy      string `json:"assigned_by"`
	DueDate         string `json:"due_date"`
	Priority        string `json:"priority"`
	TaskLink        string `json:"task_link"`
}

type commentPayload struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	CommentID   string `json:"comment_id"`
	CommentText string `json:"comment_text"`
	AuthorName  string `json:"author_name" validate:"required"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	EntityTitle string `json:"entity_title"`
	MentionedAt string `json:"mentioned_at"`
	CommentLink string `json:"comment_link"`
}

type engagementPayload struct {
	UserID         string `json:"user_id"`
	ContentID      string `json:"content_id"`
	ContentType    string `json:"content_type"`
	ContentTitle   string `json:"content_title"`
	LikerName      string `json:"liker_name"`
	LikeCount      int    `json:"like_count"`
	EngagementType string `json:"engagement_type"`
}

// AppHandler covers billing, collaboration and engagement events.
type AppHandler struct {
	validate *validator.Validate
}

// NewAppHandler creates the handler for application events.
func NewAppHandler() *AppHandler {
	return &AppHandler{validate: validator.New()}
}

func (h *AppHandler) Types() []domain.EventType {
	return []domain.EventType{EventInvoicePaymentFailed, EventTaskAssigned, EventCommentMentioned, EventContentLiked}
}

func (h *AppHandler) CanHandle(eventType domain.EventType) bool {
	return slices.Contains(h.Types(), eventType)
}

func (h *AppHandler) Priority(eventType domain.EventType) domain.Priority {
	switch eventType {
	case EventInvoicePaymentFailed:
		return domain.PriorityHigh
	case EventContentLiked:
		return domain.PriorityLow
	default:
		return domain.PriorityNormal
	}
}

func (h *AppHandler) ChannelsFor(event *domain.Event) []domain.ChannelType {
	switch event.EventType {
	case EventInvoicePaymentFailed:
		return []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeInApp}
	case EventTaskAssigned, EventCommentMentioned:
		return []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypePush, domain.ChannelTypeInApp}
	default:
		return []domain.ChannelType{domain.ChannelTypePush, domain.ChannelTypeInApp}
	}
}

func (h *AppHandler) ContextFor(event *domain.Event, branding domain.TenantBranding) (map[string]any, error) {
	context := baseContext(event, branding)

	switch event.EventType {
	case EventInvoicePaymentFailed:
		var p invoicePayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.Currency == "" {
			p.Currency = "USD"
		}
		context["invoice_id"] = p.InvoiceID
		context["amount"] = p.Amount
		context["currency"] = p.Currency
		context["failure_reason"] = p.FailureReason
		context["next_retry_date"] = p.NextRetryDate
		context["payment_method"] = p.PaymentMethod

	case EventTaskAssigned:
		var p taskPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.Priority == "" {
			p.Priority = "medium"
		}
		context["task_id"] = p.TaskID
		context["task_title"] = p.TaskTitle
		context["task_description"] = p.TaskDescription
		context["assigned_by"] = p.AssignedBy
		context["due_date"] = p.DueDate
		context["priority"] = p.Priority

	case EventCommentMentioned:
		var p commentPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		context["comment_id"] = p.CommentID
		context["comment_text"] = p.CommentText
		context["author_name"] = p.AuthorName
		context["entity_type"] = p.EntityType
		context["entity_id"] = p.EntityID
		context["entity_title"] = p.EntityTitle
		context["mentioned_at"] = p.MentionedAt

	case EventContentLiked:
		var p engagementPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			return nil, err
		}
		if p.EngagementType == "" {
			p.EngagementType = "like"
		}
		context["content_id"] = p.ContentID
		context["content_type"] = p.ContentType
		context["content_title"] = p.ContentTitle
		context["liker_name"] = p.LikerName
		context["like_count"] = p.LikeCount
		context["engagement_type"] = p.EngagementType
	}

	return context, nil
}

func (h *AppHandler) ContentFor(eventType domain.EventType, channel domain.ChannelType, context map[string]any) (notifications.Content, bool) {
	switch eventType {
	case EventInvoicePaymentFailed:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "Payment Failed - Invoice {{invoice_id}} - {{tenant_name}}",
				Body:    invoiceFailedBody(context),
			}, true
		case domain.ChannelTypeInApp:
			return notifications.Content{
				Subject: "Payment Failed",
				Body:    "Invoice {{invoice_id}} payment of {{currency}} {{amount}} failed",
				Data: map[string]string{
					"type":       "payment_failed",
					"invoice_id": "{{invoice_id}}",
					"action":     "open_billing",
				},
			}, true
		}

	case EventTaskAssigned:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "New Task Assigned: {{task_title}} - {{tenant_name}}",
				Body: `Hi,

A new task has been assigned to you in {{tenant_name}}:

Task: {{task_title}}
Description: {{task_description}}
Assigned by: {{assigned_by}}
Due Date: {{due_date}}
Priority: {{priority}}

Please review and complete this task by the due date.

{{task_link}}

Best regards,
{{tenant_name}} Task Management`,
			}, true
		case domain.ChannelTypePush:
			return notifications.Content{
				Subject: "New Task",
				Body:    "{{task_title}} assigned by {{assigned_by}}",
				Data: map[string]string{
					"type":    "task_notification",
					"task_id": "{{task_id}}",
					"action":  "open_task",
				},
			}, true
		case domain.ChannelTypeInApp:
			return notifications.Content{
				Subject: "New Task Assigned",
				Body:    "{{task_title}} - Due: {{due_date}}",
				Data: map[string]string{
					"type":    "task_assigned",
					"task_id": "{{task_id}}",
					"action":  "open_task",
				},
			}, true
		}

	case EventCommentMentioned:
		switch channel {
		case domain.ChannelTypeEmail:
			return notifications.Content{
				Subject: "You were mentioned in a comment",
				Body: `Hi,

{{author_name}} mentioned you in a comment on {{entity_type}} "{{entity_title}}":

"{{comment_text}}"

{{comment_link}}

Best regards,
{{tenant_name}} Team`,
			}, true
		case domain.ChannelTypePush:
			return notifications.Content{
				Subject: "Mentioned",
				Body:    "{{author_name}} mentioned you",
				Data: map[string]string{
					"type":       "mention_notification",
					"comment_id": "{{comment_id}}",
					"action":     "open_comment",
				},
			}, true
		case domain.ChannelTypeInApp:
			return notifications.Content{
				Subject: "You were mentioned",
				Body:    "{{author_name}} mentioned you in a comment",
				Data: map[string]string{
					"type":       "mention",
					"comment_id": "{{comment_id}}",
					"entity_id":  "{{entity_id}}",
					"action":     "open_comment",
				},
			}, true
		}

	case EventContentLiked:
		switch channel {
		case domain.ChannelTypePush:
			return notifications.Content{
				Subject: "New {{engagement_type}}",
				Body:    "{{liker_name}} {{engagement_type}}d your post",
				Data: map[string]string{
					"type":       "engagement_notification",
					"content_id": "{{content_id}}",
					"action":     "open_content",
				},
			}, true
		case domain.ChannelTypeInApp:
			return notifications.Content{
				Subject: "New Engagement",
				Body:    "{{liker_name}} {{engagement_type}}d your {{content_type}}",
				Data: map[string]string{
					"type":       "engagement",
					"content_id": "{{content_id}}",
					"action":     "open_content",
				},
			}, true
		}
	}

	return notifications.Content{}, false
}

// invoiceFailedBody appends the automatic retry notice only when the
// billing system scheduled one.
func invoiceFailedBody(context map[string]any) string {
	var b strings.Builder
	b.WriteString(`Payment Failed

We're sorry, but your payment of {{currency}} {{amount}} for invoice {{invoice_id}} has failed.

Reason: {{failure_reason}}

Please update your payment method or contact {{tenant_name}} support to resolve this issue.
`)
	if stringValue(context, "next_retry_date") != "" {
		b.WriteString("\nWe'll automatically retry this payment on {{next_retry_date}}.\n")
	}
	b.WriteString("\nBest regards,\n{{tenant_name}} Billing Team")
	return b.String()
}
