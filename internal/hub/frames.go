package hub

import (
	"time"

	"github.com/heraldhq/herald/internal/chat"
	"github.com/heraldhq/herald/internal/domain"
)

// Server frame types. Notification and broadcast frames produced by the
// delivery pipeline arrive through the bus already marshalled and are
// relayed verbatim.
const (
	frameConnectionEstablished = "connection_established"
	framePong                  = "pong"
	frameError                 = "error"
	frameUnreadCount           = "unread_count"
	frameConversationJoined    = "conversation_joined"
	frameConversationLeft      = "conversation_left"
	frameMessageSent           = "message_sent"
	frameNewMessage            = "new_message"
	frameMessageUpdated        = "message_updated"
	frameMessageDeleted        = "message_deleted"
	frameReactionAdded         = "reaction_added"
	frameReactionRemoved       = "reaction_removed"
	frameTypingIndicator       = "typing_indicator"
	framePresenceChanged       = "presence_changed"
	framePresenceUpdated       = "presence_updated"
	frameMessagesMarkedRead    = "messages_marked_read"
)

// clientMessage is the union of every field a client may send on either
// socket; Type selects the operation and the handlers pick the fields
// they need.
type clientMessage struct {
	Type           string  `json:"type"`
	NotificationID string  `json:"notification_id"`
	ConversationID string  `json:"conversation_id"`
	MessageID      string  `json:"message_id"`
	Content        string  `json:"content"`
	MessageType    string  `json:"message_type"`
	ReplyTo        *string `json:"reply_to"`
	Emoji          string  `json:"emoji"`
	Status         string  `json:"status"`
}

type welcomeFrame struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type unreadCountFrame struct {
	Type      string    `json:"type"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type conversationJoinedFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	History        []chat.Message `json:"history"`
}

type conversationLeftFrame struct {
	Type string `json:"type"`
}

// messageFrame carries message_sent, new_message and message_updated.
type messageFrame struct {
	Type    string              `json:"type"`
	Message *domain.ChatMessage `json:"message"`
}

type messageDeletedFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type reactionAddedFrame struct {
	Type     string                  `json:"type"`
	Reaction *domain.MessageReaction `json:"reaction"`
}

type reactionRemovedFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

type typingFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type presenceChangedFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type presenceUpdatedFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type markedReadFrame struct {
	Type string `json:"type"`
}
