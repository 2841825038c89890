package domain

import "time"

// DeliveryState represents the lifecycle state of a delivery record.
type DeliveryState string

// Delivery states.
const (
	DeliveryStatePending  DeliveryState = "PENDING"
	DeliveryStateRetrying DeliveryState = "RETRYING"
	DeliveryStateSuccess  DeliveryState = "SUCCESS"
	DeliveryStateFailed   DeliveryState = "FAILED"
)

// IsValid checks if the delivery state is valid.
func (s DeliveryState) IsValid() bool {
	switch s {
	case DeliveryStatePending, DeliveryStateRetrying, DeliveryStateSuccess, DeliveryStateFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
func (s DeliveryState) IsTerminal() bool {
	return s == DeliveryStateSuccess || s == DeliveryStateFailed
}

// IsInFlight reports whether a record in this state is still awaiting delivery.
func (s DeliveryState) IsInFlight() bool {
	return s == DeliveryStatePending || s == DeliveryStateRetrying
}

// FailureReason classifies why a delivery attempt failed.
type FailureReason string

// Failure reasons.
const (
	FailureReasonAuth     FailureReason = "AUTH_ERROR"
	FailureReasonContent  FailureReason = "CONTENT_ERROR"
	FailureReasonNetwork  FailureReason = "NETWORK_ERROR"
	FailureReasonProvider FailureReason = "PROVIDER_ERROR"
	FailureReasonInternal FailureReason = "INTERNAL_ERROR"
)

// Retriable reports the default retriability of the reason. Senders may
// override it for provider-specific permanent errors.
func (r FailureReason) Retriable() bool {
	switch r {
	case FailureReasonAuth, FailureReasonContent:
		return false
	case FailureReasonNetwork, FailureReasonProvider, FailureReasonInternal:
		return true
	}
	return false
}

// DefaultMaxRetries is the retry budget assigned to new delivery records.
const DefaultMaxRetries = 3

// DeliveryRecord tracks a single attempt-chain for one
// (channel, recipient, event) decision.
type DeliveryRecord struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	EventID          *string           `json:"event_id,omitempty"`
	EventType        string            `json:"event_type,omitempty"`
	Channel          ChannelType       `json:"channel"`
	Recipient        string            `json:"recipient"`
	Subject          string            `json:"subject,omitempty"`
	Body             string            `json:"body"`
	Data             map[string]string `json:"data,omitempty"`
	Context          map[string]any    `json:"context,omitempty"`
	Priority         Priority          `json:"priority"`
	State            DeliveryState     `json:"state"`
	RetryCount       int               `json:"retry_count"`
	MaxRetries       int               `json:"max_retries"`
	FailureReason    *FailureReason    `json:"failure_reason,omitempty"`
	ProviderResponse string            `json:"provider_response,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	SentAt           *time.Time        `json:"sent_at,omitempty"`
	NextAttemptAt    time.Time         `json:"next_attempt_at"`
	ClaimedAt        *time.Time        `json:"claimed_at,omitempty"`
	ReadAt           *time.Time        `json:"read_at,omitempty"`
	DeletedAt        *time.Time        `json:"-"`
}

// IsRead reports whether an in-app record has been read by its recipient.
func (r *DeliveryRecord) IsRead() bool {
	return r.ReadAt != nil
}
