package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/domain"
)

func terminalRecord(state domain.DeliveryState) *domain.DeliveryRecord {
	eventID := "evt-123"
	sentAt := time.Now().UTC()
	return &domain.DeliveryRecord{
		ID:        "rec-1",
		TenantID:  testTenantID,
		EventID:   &eventID,
		EventType: "user.login.failed",
		Channel:   domain.ChannelTypeEmail,
		Recipient: "ada@example.com",
		State:     state,
		SentAt:    &sentAt,
	}
}

func TestLifecycleProducer_Sent(t *testing.T) {
	producer := &mockProducer{}
	lifecycle := NewLifecycleProducer(producer, "notification-events")

	lifecycle.NotificationSent(terminalRecord(domain.DeliveryStateSuccess))

	require.Len(t, producer.messages, 1)
	message := producer.messages[0]
	assert.Equal(t, "notification-events", message.Topic)

	key, err := message.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, testTenantID, string(key))

	raw, err := message.Value.Encode()
	require.NoError(t, err)

	var env lifecycleEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "notification_sent", env.EventType)
	assert.Equal(t, testTenantID, env.TenantID)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, "rec-1", env.Payload["record_id"])
	assert.Equal(t, "email", env.Payload["channel"])
	assert.Equal(t, "SUCCESS", env.Payload["state"])
	assert.Equal(t, "user.login.failed", env.Payload["source_event_type"])
	assert.Equal(t, "evt-123", env.Payload["source_event_id"])
}

func TestLifecycleProducer_Failed(t *testing.T) {
	producer := &mockProducer{}
	lifecycle := NewLifecycleProducer(producer, "notification-events")

	record := terminalRecord(domain.DeliveryStateFailed)
	reason := domain.FailureReasonProvider
	record.FailureReason = &reason

	lifecycle.NotificationFailed(record, "provider rejected recipient")

	require.Len(t, producer.messages, 1)
	raw, err := producer.messages[0].Value.Encode()
	require.NoError(t, err)

	var env lifecycleEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "notification_failed", env.EventType)
	assert.Equal(t, "PROVIDER_ERROR", env.Payload["failure_reason"])
	assert.Equal(t, "provider rejected recipient", env.Payload["cause"])
}

func TestLifecycleProducer_PublishErrorIsSwallowed(t *testing.T) {
	producer := &mockProducer{err: errors.New("broker unavailable")}
	lifecycle := NewLifecycleProducer(producer, "notification-events")

	// Must not panic or propagate; delivery state is already persisted.
	lifecycle.NotificationSent(terminalRecord(domain.DeliveryStateSuccess))
	assert.Empty(t, producer.messages)
}
