// Package bus carries real-time frames between service instances. The
// hub publishes every broadcast through the bus and delivers frames
// arriving on it to locally connected clients, so fan-out works the same
// with one instance (memory bus) or many (Redis bus).
package bus

import (
	"context"
	"sync"
)

// HandlerFunc receives every published frame with its routing subject.
type HandlerFunc func(subject string, payload []byte)

// TenantSubject addresses every connection of a tenant.
func TenantSubject(tenantID string) string {
	return "tenant:" + tenantID
}

// UserSubject addresses the connections of one user within a tenant.
func UserSubject(tenantID, userID string) string {
	return "user:" + tenantID + ":" + userID
}

// ConversationSubject addresses the participants joined to a conversation.
func ConversationSubject(conversationID string) string {
	return "conversation:" + conversationID
}

// Bus is the frame transport between instances.
type Bus interface {
	// Publish sends payload to all subscribers, on every instance.
	Publish(ctx context.Context, subject string, payload []byte) error
	// Subscribe registers fn for all subjects. The returned function
	// removes the subscription.
	Subscribe(ctx context.Context, fn HandlerFunc) (func(), error)
	Close() error
}

// Memory is the in-process Bus used when no broker is configured.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]HandlerFunc
	closed bool
}

// NewMemory creates an in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]HandlerFunc)}
}

// Publish delivers payload to every subscriber synchronously. Handlers
// must not block; the hub only enqueues into bounded buffers.
func (m *Memory) Publish(_ context.Context, subject string, payload []byte) error {
	m.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(m.subs))
	for _, fn := range m.subs {
		handlers = append(handlers, fn)
	}
	m.mu.RUnlock()

	for _, fn := range handlers {
		fn(subject, payload)
	}
	return nil
}

// Subscribe registers fn until the returned function is called.
func (m *Memory) Subscribe(_ context.Context, fn HandlerFunc) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}, nil
}

// Close drops all subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.subs = make(map[int]HandlerFunc)
	m.closed = true
	m.mu.Unlock()
	return nil
}
