package domain

// ChannelType represents a notification delivery transport.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail ChannelType = "email"
	ChannelTypeSMS   ChannelType = "sms"
	ChannelTypePush  ChannelType = "push"
	ChannelTypeInApp ChannelType = "inapp"
)

// IsValid checks if the channel type is valid.
func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelTypeEmail, ChannelTypeSMS, ChannelTypePush, ChannelTypeInApp:
		return true
	}
	return false
}

// Priority represents the delivery priority of a notification.
type Priority string

// Priorities.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid checks if the priority is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
