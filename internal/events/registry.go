package events

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

// Handler turns one class of log events into per-channel content.
// Handlers are pure given the event and tenant branding; all side
// effects flow through the delivery queue.
type Handler interface {
	// Types lists the event types this handler accepts.
	Types() []domain.EventType

	// CanHandle reports whether eventType is one of Types.
	CanHandle(eventType domain.EventType) bool

	// Priority returns the queue priority assigned to the event type.
	Priority(eventType domain.EventType) domain.Priority

	// ChannelsFor selects the fan-out channels. Selection is a static
	// table per event type; a few events additionally consult the
	// payload (2FA code delivery follows the requested method).
	ChannelsFor(event *domain.Event) []domain.ChannelType

	// ContextFor validates the payload and builds the substitution
	// context persisted on each delivery record. Raw payload keys are
	// preserved; normalized fields and the tenant name are layered on
	// top. Validation failures wrap ErrInvalidPayload.
	ContextFor(event *domain.Event, branding domain.TenantBranding) (map[string]any, error)

	// ContentFor returns the template content for one channel, or
	// ok=false when the handler produces nothing for the pair.
	ContentFor(eventType domain.EventType, channel domain.ChannelType, context map[string]any) (notifications.Content, bool)
}

// Registry maps event types to their handlers. It is built once at
// startup and handed to the consumer.
type Registry struct {
	handlers map[domain.EventType]Handler
}

// NewRegistry indexes the given handlers by the event types they accept.
// Later handlers win on overlapping types.
func NewRegistry(handlers ...Handler) *Registry {
	index := make(map[domain.EventType]Handler)
	for _, h := range handlers {
		for _, t := range h.Types() {
			index[t] = h
		}
	}
	return &Registry{handlers: index}
}

// DefaultRegistry returns a registry covering every built-in event class.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewAuthHandler(),
		NewSecurityHandler(),
		NewAppHandler(),
		NewDocumentsHandler(),
	)
}

// HandlerFor returns the handler registered for eventType.
func (r *Registry) HandlerFor(eventType domain.EventType) (Handler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

// SupportedTypes returns all registered event types in sorted order.
func (r *Registry) SupportedTypes() []domain.EventType {
	types := make([]domain.EventType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// recipientFor resolves the delivery address for one channel from the
// event payload. An empty result skips the channel.
func recipientFor(channel domain.ChannelType, event *domain.Event) string {
	switch channel {
	case domain.ChannelTypeEmail:
		if email, ok := event.PayloadString("email"); ok {
			return email
		}
		email, _ := event.PayloadString("user_email")
		return email
	case domain.ChannelTypeSMS:
		phone, _ := event.PayloadString("phone")
		return phone
	case domain.ChannelTypePush:
		if token, ok := event.PayloadString("device_token"); ok {
			return token
		}
		userID, _ := event.PayloadString("user_id")
		return userID
	case domain.ChannelTypeInApp:
		userID, _ := event.PayloadString("user_id")
		return userID
	}
	return ""
}

// decodePayload maps the dynamic payload onto a typed struct via a JSON
// round trip. Type mismatches wrap ErrInvalidPayload.
func decodePayload(payload map[string]any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// baseContext seeds the substitution context. The raw payload keys are
// kept so the persisted snapshot reflects what arrived on the log, and
// the tenant's display name is added for {tenant_name} markers.
func baseContext(event *domain.Event, branding domain.TenantBranding) map[string]any {
	context := make(map[string]any, len(event.Payload)+1)
	maps.Copy(context, event.Payload)
	context["tenant_name"] = branding.Name
	return context
}

func stringValue(context map[string]any, key string) string {
	s, _ := context[key].(string)
	return s
}

func boolValue(context map[string]any, key string) bool {
	b, _ := context[key].(bool)
	return b
}
