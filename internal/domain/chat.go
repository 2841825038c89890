package domain

import "time"

// ConversationType represents the kind of a chat conversation.
type ConversationType string

// Conversation types.
const (
	ConversationTypeDirect  ConversationType = "direct"
	ConversationTypeGroup   ConversationType = "group"
	ConversationTypeChannel ConversationType = "channel"
)

// IsValid checks if the conversation type is valid.
func (t ConversationType) IsValid() bool {
	switch t {
	case ConversationTypeDirect, ConversationTypeGroup, ConversationTypeChannel:
		return true
	}
	return false
}

// ParticipantRole represents a participant's role within a conversation.
type ParticipantRole string

// Participant roles.
const (
	ParticipantRoleAdmin     ParticipantRole = "admin"
	ParticipantRoleModerator ParticipantRole = "moderator"
	ParticipantRoleMember    ParticipantRole = "member"
)

// IsValid checks if the participant role is valid.
func (r ParticipantRole) IsValid() bool {
	switch r {
	case ParticipantRoleAdmin, ParticipantRoleModerator, ParticipantRoleMember:
		return true
	}
	return false
}

// MessageType represents the content kind of a chat message.
type MessageType string

// Message types.
const (
	MessageTypeText   MessageType = "text"
	MessageTypeEmoji  MessageType = "emoji"
	MessageTypeFile   MessageType = "file"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// IsValid checks if the message type is valid.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeText, MessageTypeEmoji, MessageTypeFile, MessageTypeImage, MessageTypeSystem:
		return true
	}
	return false
}

// PresenceStatus represents a user's availability.
type PresenceStatus string

// Presence statuses.
const (
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusAway    PresenceStatus = "away"
	PresenceStatusBusy    PresenceStatus = "busy"
	PresenceStatusOffline PresenceStatus = "offline"
)

// IsValid checks if the presence status is valid.
func (s PresenceStatus) IsValid() bool {
	switch s {
	case PresenceStatusOnline, PresenceStatusAway, PresenceStatusBusy, PresenceStatusOffline:
		return true
	}
	return false
}

// ChatConversation groups participants and messages. LastMessageAt orders
// conversation listings and moves on every send.
type ChatConversation struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	Type          ConversationType `json:"type"`
	Name          string           `json:"name,omitempty"`
	CreatedBy     string           `json:"created_by"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ChatParticipant is a user's membership in a conversation. Sends require
// an active row.
type ChatParticipant struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Role           ParticipantRole `json:"role"`
	Active         bool            `json:"active"`
	LastSeenAt     *time.Time      `json:"last_seen_at,omitempty"`
	JoinedAt       time.Time       `json:"joined_at"`
}

// ChatMessage is a single message. Deletion is soft so reaction totals and
// reply pointers stay valid.
type ChatMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	ReplyTo        *string     `json:"reply_to,omitempty"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	DeletedAt      *time.Time  `json:"-"`
}

// IsDeleted returns true if the message was soft-deleted.
func (m *ChatMessage) IsDeleted() bool {
	return m.DeletedAt != nil
}

// MessageReaction is unique per (message, user, emoji).
type MessageReaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// UserPresence is unique per (tenant, user).
type UserPresence struct {
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	Status    PresenceStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}
