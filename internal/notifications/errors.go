package notifications

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/heraldhq/herald/internal/domain"
)

// Repository errors.
var (
	ErrRecordNotFound    = errors.New("delivery record not found")
	ErrDuplicateDelivery = errors.New("delivery record already exists for this event")
	ErrRecordTerminal    = errors.New("delivery record is in a terminal state")
	ErrClaimLost         = errors.New("delivery claim no longer held")
)

// Service errors.
var (
	ErrNoSender          = errors.New("no sender registered for channel")
	ErrMissingRecipient  = errors.New("recipient could not be resolved")
	ErrMissingContent    = errors.New("neither inline content nor template provided")
	ErrBreakerOpen       = errors.New("circuit breaker open for channel")
	ErrRecipientMismatch = errors.New("record does not belong to recipient")
)

// SendError is the error senders return across the dispatch boundary. It
// classifies the failure and carries the raw provider response for the
// delivery record.
type SendError struct {
	Reason           domain.FailureReason
	Retryable        bool
	ProviderResponse string
	Err              error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.ProviderResponse != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.ProviderResponse)
	}
	return string(e.Reason)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether the delivery may be attempted again.
func (e *SendError) IsRetryable() bool {
	return e.Retryable
}

// NewSendError creates a send error with the reason's default retriability.
func NewSendError(reason domain.FailureReason, providerResponse string, err error) *SendError {
	return &SendError{
		Reason:           reason,
		Retryable:        reason.Retriable(),
		ProviderResponse: providerResponse,
		Err:              err,
	}
}

// NewPermanentSendError creates a non-retriable send error regardless of
// the reason's default.
func NewPermanentSendError(reason domain.FailureReason, providerResponse string, err error) *SendError {
	return &SendError{
		Reason:           reason,
		Retryable:        false,
		ProviderResponse: providerResponse,
		Err:              err,
	}
}

// AsSendError classifies err as a SendError. Errors that are not already
// a SendError fall back on transport heuristics: timeouts and connection
// failures become retriable NETWORK_ERROR, everything else retriable
// INTERNAL_ERROR.
func AsSendError(err error) *SendError {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewSendError(domain.FailureReasonNetwork, "", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewSendError(domain.FailureReasonNetwork, "", err)
	}

	return NewSendError(domain.FailureReasonInternal, "", err)
}
