// Package chat stores conversations, messages, reactions and presence, and
// enforces who may post, edit and delete.
package chat

import (
	"context"
	"time"

	"github.com/heraldhq/herald/internal/domain"
)

// ConversationSummary is a conversation with its active head count, the
// shape conversation listings return.
type ConversationSummary struct {
	domain.ChatConversation
	ParticipantCount int `json:"participant_count"`
}

// Message is a chat message with its reactions attached.
type Message struct {
	domain.ChatMessage
	Reactions []domain.MessageReaction `json:"reactions"`
}

// Repository persists chat state.
type Repository interface {
	// CreateConversation inserts the conversation and its creator as an
	// admin participant in one transaction.
	CreateConversation(ctx context.Context, c *domain.ChatConversation) error
	GetConversationByID(ctx context.Context, tenantID, id string) (*domain.ChatConversation, error)

	// ListConversations returns the conversations the user actively
	// participates in, most recently active first.
	ListConversations(ctx context.Context, tenantID, userID string) ([]ConversationSummary, error)

	AddParticipant(ctx context.Context, tenantID string, p *domain.ChatParticipant) error
	GetParticipant(ctx context.Context, tenantID, conversationID, userID string) (*domain.ChatParticipant, error)
	ListParticipants(ctx context.Context, tenantID, conversationID string) ([]domain.ChatParticipant, error)

	// TouchLastSeen advances the participant's read cursor. Moving it
	// backwards is a no-op.
	TouchLastSeen(ctx context.Context, tenantID, conversationID, userID string, seenAt time.Time) error

	// CreateMessage inserts the message and advances the conversation's
	// last_message_at and the sender's last_seen_at in one transaction.
	CreateMessage(ctx context.Context, tenantID string, m *domain.ChatMessage) error
	GetMessageByID(ctx context.Context, tenantID, id string) (*domain.ChatMessage, error)

	// ListMessages returns the newest limit messages in chronological
	// order, soft-deleted ones excluded.
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]domain.ChatMessage, error)

	UpdateMessageContent(ctx context.Context, tenantID, id, content string) (*domain.ChatMessage, error)
	SoftDeleteMessage(ctx context.Context, tenantID, id string) error

	// AddReaction inserts the reaction; created is false when the same
	// (message, user, emoji) reaction already exists.
	AddReaction(ctx context.Context, tenantID string, r *domain.MessageReaction) (created bool, err error)
	RemoveReaction(ctx context.Context, tenantID, messageID, userID, emoji string) (removed bool, err error)
	ListReactions(ctx context.Context, tenantID string, messageIDs []string) ([]domain.MessageReaction, error)

	UpsertPresence(ctx context.Context, p *domain.UserPresence) error
	GetPresence(ctx context.Context, tenantID, userID string) (*domain.UserPresence, error)
}
