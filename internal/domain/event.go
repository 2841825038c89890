package domain

import (
	"strings"
	"time"
)

// EventType is a dotted-path event identifier, e.g. "user.login.failed".
type EventType string

// IsValid checks if the event type has the dotted-path form.
func (t EventType) IsValid() bool {
	s := string(t)
	return strings.Contains(s, ".") && !strings.HasPrefix(s, ".") && !strings.HasSuffix(s, ".")
}

// Event is the immutable envelope consumed from the event log.
type Event struct {
	EventType EventType      `json:"event_type"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventID returns metadata.event_id when present. Handlers use it to key
// idempotent delivery record creation.
func (e *Event) EventID() (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	id, ok := e.Metadata["event_id"].(string)
	return id, ok && id != ""
}

// PayloadString returns the payload value under key when it is a
// non-empty string.
func (e *Event) PayloadString(key string) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	v, ok := e.Payload[key].(string)
	return v, ok && v != ""
}
