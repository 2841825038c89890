// Package inapp provides in-app delivery over the realtime bus.
package inapp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

const (
	defaultPublishTimeout = 5 * time.Second

	broadcastTarget = "all"
)

// Config holds in-app sender configuration.
type Config struct {
	Enabled        bool
	PublishTimeout time.Duration
}

// Sender delivers notifications to connected WebSocket clients through
// the realtime bus. The delivery record itself is the durable store, so
// an offline recipient is still a successful delivery: the notification
// stays queryable over REST and counts as unread.
type Sender struct {
	config Config
	bus    bus.Bus
}

// NewSender creates a new in-app sender.
func NewSender(config Config, b bus.Bus) *Sender {
	if config.PublishTimeout == 0 {
		config.PublishTimeout = defaultPublishTimeout
	}
	return &Sender{config: config, bus: b}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeInApp
}

// frame is the realtime payload pushed to connected clients.
type frame struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	TenantID  string            `json:"tenant_id"`
	Title     string            `json:"title,omitempty"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Priority  string            `json:"priority"`
}

// Send publishes a notification frame. Recipient "all" broadcasts to the
// whole tenant, anything else targets one user's connections.
func (s *Sender) Send(ctx context.Context, _ map[string]string, rendered *notifications.Rendered, recipient string) (string, error) {
	frameType := "notification"
	subject := bus.UserSubject(rendered.TenantID, recipient)
	if recipient == broadcastTarget {
		frameType = "broadcast"
		subject = bus.TenantSubject(rendered.TenantID)
	}

	priority := rendered.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	payload, err := json.Marshal(frame{
		Type:      frameType,
		ID:        rendered.RecordID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TenantID:  rendered.TenantID,
		Title:     rendered.Subject,
		Body:      rendered.Body,
		Data:      rendered.Data,
		Priority:  string(priority),
	})
	if err != nil {
		return "", notifications.NewSendError(domain.FailureReasonInternal, "",
			fmt.Errorf("marshal frame: %w", err))
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
	defer cancel()

	if err := s.bus.Publish(publishCtx, subject, payload); err != nil {
		return "", notifications.NewSendError(domain.FailureReasonInternal, "",
			fmt.Errorf("publish frame: %w", err))
	}

	return fmt.Sprintf("published %s to %s", frameType, subject), nil
}
