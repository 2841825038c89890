package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/tenants"
)

// Sender delivers rendered content over one channel type. Implementations
// classify failures as *SendError and never panic across this boundary.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, credentials map[string]string, rendered *Rendered, recipient string) (providerResponse string, err error)
}

// TenantDirectory resolves per-tenant sending credentials and branding.
type TenantDirectory interface {
	Credential(ctx context.Context, tenantID string, channel domain.ChannelType) (*domain.Credential, error)
	Branding(ctx context.Context, tenantID string) (domain.TenantBranding, error)
}

// BreakerSettings tunes the per-(tenant, channel) circuit breaker. A zero
// FailureThreshold disables it.
type BreakerSettings struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Dispatcher routes a delivery record to the sender for its channel. Each
// (tenant, channel) pair gets a circuit breaker that counts only
// authentication failures, so one tenant's broken credentials stop
// burning provider calls without affecting anyone else.
type Dispatcher struct {
	tenants TenantDirectory
	senders map[domain.ChannelType]Sender
	breaker BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDispatcher creates a dispatcher over the given senders.
func NewDispatcher(tenants TenantDirectory, breaker BreakerSettings, senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender, len(senders))
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{
		tenants:  tenants,
		senders:  senderMap,
		breaker:  breaker,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Dispatch resolves credentials and hands the rendered content to the
// channel sender. The returned provider response is only meaningful when
// err is nil; failures carry their response inside the *SendError.
func (d *Dispatcher) Dispatch(ctx context.Context, record *domain.DeliveryRecord, rendered *Rendered) (string, error) {
	sender, ok := d.senders[record.Channel]
	if !ok {
		return "", NewPermanentSendError(domain.FailureReasonInternal, "", fmt.Errorf("%w: %s", ErrNoSender, record.Channel))
	}

	credential, err := d.tenants.Credential(ctx, record.TenantID, record.Channel)
	if err != nil {
		if errors.Is(err, tenants.ErrChannelNotConfigured) {
			return "", NewPermanentSendError(domain.FailureReasonAuth, "", err)
		}
		return "", NewSendError(domain.FailureReasonInternal, "", fmt.Errorf("resolve credential: %w", err))
	}

	cb := d.breakerFor(record.TenantID, record.Channel)
	if cb == nil {
		return sender.Send(ctx, credential.Data, rendered, record.Recipient)
	}

	type outcome struct {
		response string
		err      error
	}

	v, execErr := cb.Execute(func() (interface{}, error) {
		response, sendErr := sender.Send(ctx, credential.Data, rendered, record.Recipient)
		if isAuthFailure(sendErr) {
			// Only auth failures count against the breaker.
			return nil, sendErr
		}
		return outcome{response: response, err: sendErr}, nil
	})
	if execErr != nil {
		if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
			return "", &SendError{
				Reason:           domain.FailureReasonAuth,
				Retryable:        true,
				ProviderResponse: "circuit breaker open",
				Err:              ErrBreakerOpen,
			}
		}
		return "", execErr
	}

	result := v.(outcome)
	return result.response, result.err
}

// breakerFor returns the breaker for the (tenant, channel) pair, creating
// it on first use. Returns nil when breakers are disabled.
func (d *Dispatcher) breakerFor(tenantID string, channel domain.ChannelType) *gobreaker.CircuitBreaker {
	if d.breaker.FailureThreshold <= 0 {
		return nil
	}

	key := tenantID + ":" + string(channel)

	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[key]; ok {
		return cb
	}

	threshold := uint32(d.breaker.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     d.breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("delivery circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	d.breakers[key] = cb
	return cb
}

// isAuthFailure reports whether err is an authentication SendError.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.Reason == domain.FailureReasonAuth
}
