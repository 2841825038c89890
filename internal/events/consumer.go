// Package events consumes the tenant event log and fans each event out
// into delivery records. One consumer group reads the configured topics;
// handlers decide channels, recipients and content, and everything else
// flows through the delivery queue.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

// errUnhandled marks event types with no registered handler. The message
// is skipped, not dead-lettered.
var errUnhandled = errors.New("no handler registered")

// RecordSink enqueues delivery records. Satisfied by the notifications
// service.
type RecordSink interface {
	Create(ctx context.Context, tenantID string, input notifications.CreateInput) (*domain.DeliveryRecord, error)
}

// BrandingSource resolves tenant branding for handler context building.
// Satisfied by the tenant directory.
type BrandingSource interface {
	Branding(ctx context.Context, tenantID string) (domain.TenantBranding, error)
}

// ConsumerConfig tunes the intake consumer.
type ConsumerConfig struct {
	// HandlerTimeout bounds the processing of one message, including
	// in-process retries of transient failures.
	HandlerTimeout time.Duration
	// DLQTopic receives messages that can never succeed. Empty disables
	// dead-lettering.
	DLQTopic string
	// MaxRetries is the delivery retry budget stamped on enqueued
	// records. Zero falls back to the domain default.
	MaxRetries int
}

// Consumer implements sarama.ConsumerGroupHandler. It decodes envelopes,
// routes them through the handler registry and writes the fan-out into
// the delivery queue. An offset is only marked once its message is fully
// enqueued, skipped, or parked on the DLQ; retriable failures end the
// session unmarked so the log redelivers.
type Consumer struct {
	registry *Registry
	sink     RecordSink
	tenants  BrandingSource
	dlq      sarama.SyncProducer
	config   ConsumerConfig
	ready    chan struct{}
}

// NewConsumer wires the intake pipeline. dlq may be nil to disable
// dead-lettering.
func NewConsumer(registry *Registry, sink RecordSink, tenants BrandingSource, dlq sarama.SyncProducer, config ConsumerConfig) *Consumer {
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 15 * time.Second
	}
	return &Consumer{
		registry: registry,
		sink:     sink,
		tenants:  tenants,
		dlq:      dlq,
		config:   config,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the first group session has been set up.
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
	slog.Info("event consumer session started", "member_id", session.MemberID(), "claims", session.Claims())
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes one partition claim until the session ends.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := c.handleMessage(session, message); err != nil {
			return err
		}
		if err := session.Context().Err(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) handleMessage(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) error {
	ctx, cancel := context.WithTimeout(session.Context(), c.config.HandlerTimeout)
	defer cancel()

	err := c.processWithRetry(ctx, message)
	switch {
	case err == nil:
		recordEventConsumed(message.Topic, "processed")
	case errors.Is(err, errUnhandled):
		recordEventConsumed(message.Topic, "unhandled")
	case isPermanent(err):
		recordEventConsumed(message.Topic, "rejected")
		slog.Error("event rejected",
			"topic", message.Topic,
			"partition", message.Partition,
			"offset", message.Offset,
			"error", err)
		if dlqErr := c.deadLetter(message, err); dlqErr != nil {
			slog.Error("dead-letter publish failed", "topic", message.Topic, "offset", message.Offset, "error", dlqErr)
		}
	default:
		recordEventConsumed(message.Topic, "failed")
		return fmt.Errorf("process message %s/%d@%d: %w", message.Topic, message.Partition, message.Offset, err)
	}

	session.MarkMessage(message, "")
	return nil
}

// processWithRetry retries transient failures in place until the handler
// deadline expires. Permanent failures short-circuit.
func (c *Consumer) processWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	operation := func() error {
		err := c.processMessage(ctx, message)
		if err != nil && (isPermanent(err) || errors.Is(err, errUnhandled)) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func (c *Consumer) processMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := decodeEnvelope(message.Value)
	if err != nil {
		return err
	}

	handler, ok := c.registry.HandlerFor(event.EventType)
	if !ok {
		slog.Info("no handler for event type", "event_type", event.EventType, "tenant_id", event.TenantID)
		return errUnhandled
	}

	branding, err := c.tenants.Branding(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("resolve branding for tenant %s: %w", event.TenantID, err)
	}

	eventContext, err := handler.ContextFor(event, branding)
	if err != nil {
		return fmt.Errorf("event %s: %w", event.EventType, err)
	}

	eventID, hasEventID := event.EventID()

	enqueued := 0
	for _, channel := range handler.ChannelsFor(event) {
		recipient := recipientFor(channel, event)
		if recipient == "" {
			slog.Debug("no recipient for channel", "event_type", event.EventType, "channel", channel)
			continue
		}
		content, ok := handler.ContentFor(event.EventType, channel, eventContext)
		if !ok {
			continue
		}

		input := notifications.CreateInput{
			Channel:    channel,
			Recipient:  recipient,
			Subject:    content.Subject,
			Body:       content.Body,
			Data:       content.Data,
			Context:    eventContext,
			Priority:   handler.Priority(event.EventType),
			EventType:  string(event.EventType),
			MaxRetries: c.config.MaxRetries,
		}
		if hasEventID {
			input.EventID = &eventID
		}

		if _, err := c.sink.Create(ctx, event.TenantID, input); err != nil {
			switch {
			case errors.Is(err, notifications.ErrDuplicateDelivery):
				// Redelivery of an already fanned-out event.
				slog.Debug("duplicate delivery suppressed",
					"event_type", event.EventType, "channel", channel, "event_id", eventID)
			case errors.Is(err, notifications.ErrMissingRecipient), errors.Is(err, notifications.ErrMissingContent):
				return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			default:
				return fmt.Errorf("enqueue %s record: %w", channel, err)
			}
		} else {
			recordFanOut(string(channel))
		}
		enqueued++
	}

	if enqueued == 0 {
		return fmt.Errorf("%w: event %s", ErrNoRecipient, event.EventType)
	}

	slog.Debug("event fanned out",
		"event_type", event.EventType,
		"tenant_id", event.TenantID,
		"records", enqueued)
	return nil
}

// decodeEnvelope parses and validates the wire envelope. The event type
// must be a dotted path and the tenant id a UUID.
func decodeEnvelope(raw []byte) (*domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if !event.EventType.IsValid() {
		return nil, fmt.Errorf("%w: event_type %q", ErrInvalidEnvelope, event.EventType)
	}
	if _, err := uuid.Parse(event.TenantID); err != nil {
		return nil, fmt.Errorf("%w: tenant_id %q", ErrInvalidEnvelope, event.TenantID)
	}
	if event.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: timestamp missing", ErrInvalidEnvelope)
	}
	return &event, nil
}

// deadLetter republishes the original message with the failure attached
// as headers.
func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error) error {
	if c.dlq == nil || c.config.DLQTopic == "" {
		return nil
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: c.config.DLQTopic,
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("error"), Value: []byte(cause.Error())},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
		},
	}
	if len(message.Key) > 0 {
		dlqMessage.Key = sarama.ByteEncoder(message.Key)
	}

	if _, _, err := c.dlq.SendMessage(dlqMessage); err != nil {
		return err
	}
	recordDeadLettered()
	return nil
}
