package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    DeliveryState
		terminal bool
	}{
		{DeliveryStatePending, false},
		{DeliveryStateRetrying, false},
		{DeliveryStateSuccess, true},
		{DeliveryStateFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, !tt.terminal, tt.state.IsInFlight())
		})
	}
}

func TestFailureReason_Retriable(t *testing.T) {
	tests := []struct {
		reason    FailureReason
		retriable bool
	}{
		{FailureReasonAuth, false},
		{FailureReasonContent, false},
		{FailureReasonNetwork, true},
		{FailureReasonProvider, true},
		{FailureReasonInternal, true},
		{FailureReason("BOGUS"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.retriable, tt.reason.Retriable())
		})
	}
}

func TestEventType_IsValid(t *testing.T) {
	tests := []struct {
		eventType string
		valid     bool
	}{
		{"user.login.failed", true},
		{"auth.2fa.code.requested", true},
		{"nodots", false},
		{".leading", false},
		{"trailing.", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.valid, EventType(tt.eventType).IsValid())
		})
	}
}

func TestEvent_EventID(t *testing.T) {
	e := &Event{Metadata: map[string]any{"event_id": "evt-1"}}
	id, ok := e.EventID()
	assert.True(t, ok)
	assert.Equal(t, "evt-1", id)

	e = &Event{}
	_, ok = e.EventID()
	assert.False(t, ok)

	e = &Event{Metadata: map[string]any{"event_id": 42}}
	_, ok = e.EventID()
	assert.False(t, ok)
}

func TestEvent_PayloadString(t *testing.T) {
	e := &Event{Payload: map[string]any{"email": "a@b.test", "count": 3, "empty": ""}}

	v, ok := e.PayloadString("email")
	assert.True(t, ok)
	assert.Equal(t, "a@b.test", v)

	_, ok = e.PayloadString("count")
	assert.False(t, ok)

	_, ok = e.PayloadString("empty")
	assert.False(t, ok)

	_, ok = e.PayloadString("missing")
	assert.False(t, ok)
}
