package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/heraldhq/herald/internal/domain"
)

// Lifecycle event types published back to the log.
const (
	lifecycleSent   = "notification_sent"
	lifecycleFailed = "notification_failed"
)

// LifecycleProducer publishes terminal delivery outcomes to the
// lifecycle topic so upstream systems can observe delivery. It satisfies
// the worker's LifecycleNotifier; publishing is best effort and never
// blocks or fails a delivery.
type LifecycleProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewLifecycleProducer creates a lifecycle publisher on topic.
func NewLifecycleProducer(producer sarama.SyncProducer, topic string) *LifecycleProducer {
	return &LifecycleProducer{producer: producer, topic: topic}
}

// lifecycleEnvelope mirrors the intake envelope shape.
type lifecycleEnvelope struct {
	EventType string         `json:"event_type"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NotificationSent publishes a notification_sent event for the record.
func (p *LifecycleProducer) NotificationSent(record *domain.DeliveryRecord) {
	p.publish(lifecycleSent, record, "")
}

// NotificationFailed publishes a notification_failed event for the record.
func (p *LifecycleProducer) NotificationFailed(record *domain.DeliveryRecord, cause string) {
	p.publish(lifecycleFailed, record, cause)
}

func (p *LifecycleProducer) publish(eventType string, record *domain.DeliveryRecord, cause string) {
	payload := map[string]any{
		"record_id": record.ID,
		"channel":   string(record.Channel),
		"recipient": record.Recipient,
		"state":     string(record.State),
	}
	if record.EventType != "" {
		payload["source_event_type"] = record.EventType
	}
	if record.EventID != nil {
		payload["source_event_id"] = *record.EventID
	}
	if record.FailureReason != nil {
		payload["failure_reason"] = string(*record.FailureReason)
	}
	if cause != "" {
		payload["cause"] = cause
	}

	value, err := json.Marshal(lifecycleEnvelope{
		EventType: eventType,
		TenantID:  record.TenantID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		slog.Error("marshal lifecycle event", "record_id", record.ID, "error", err)
		return
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(record.TenantID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		recordLifecyclePublished("error")
		slog.Error("publish lifecycle event", "record_id", record.ID, "event_type", eventType, "error", err)
		return
	}
	recordLifecyclePublished("ok")
}
