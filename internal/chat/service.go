package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/heraldhq/herald/internal/domain"
)

// History limits. Joins and REST reads return the newest messages up to
// the clamp, oldest first.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Service provides chat business logic.
type Service struct {
	repo Repository
}

// NewService creates a new chat service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateConversationInput describes a new conversation. Participants are
// added as members; the creator becomes an admin.
type CreateConversationInput struct {
	Type         domain.ConversationType
	Name         string
	Participants []string
}

// CreateConversation creates a conversation with the creator as admin and
// the named users as members.
func (s *Service) CreateConversation(ctx context.Context, tenantID, creatorID string, input CreateConversationInput) (*domain.ChatConversation, error) {
	convType := input.Type
	if convType == "" {
		convType = domain.ConversationTypeDirect
	}
	if !convType.IsValid() {
		return nil, fmt.Errorf("invalid conversation type %q", convType)
	}

	c := &domain.ChatConversation{
		TenantID:  tenantID,
		Type:      convType,
		Name:      input.Name,
		CreatedBy: creatorID,
	}
	if err := s.repo.CreateConversation(ctx, c); err != nil {
		return nil, err
	}

	for _, userID := range input.Participants {
		if userID == "" || userID == creatorID {
			continue
		}
		p := &domain.ChatParticipant{
			ConversationID: c.ID,
			UserID:         userID,
			Role:           domain.ParticipantRoleMember,
		}
		if err := s.repo.AddParticipant(ctx, tenantID, p); err != nil {
			return nil, fmt.Errorf("add participant %s: %w", userID, err)
		}
	}

	return c, nil
}

// ListConversations returns the user's active conversations, most recently
// active first.
func (s *Service) ListConversations(ctx context.Context, tenantID, userID string) ([]ConversationSummary, error) {
	return s.repo.ListConversations(ctx, tenantID, userID)
}

// GetConversation returns a conversation the user participates in.
func (s *Service) GetConversation(ctx context.Context, tenantID, userID, id string) (*domain.ChatConversation, error) {
	if err := s.requireActiveParticipant(ctx, tenantID, id, userID); err != nil {
		return nil, err
	}
	return s.repo.GetConversationByID(ctx, tenantID, id)
}

// AddParticipant adds a user to a conversation with the given role,
// reactivating a row that previously left.
func (s *Service) AddParticipant(ctx context.Context, tenantID, conversationID, userID string, role domain.ParticipantRole) (*domain.ChatParticipant, error) {
	if role == "" {
		role = domain.ParticipantRoleMember
	}
	if !role.IsValid() {
		return nil, fmt.Errorf("invalid participant role %q", role)
	}

	if _, err := s.repo.GetConversationByID(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}

	p := &domain.ChatParticipant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
	}
	if err := s.repo.AddParticipant(ctx, tenantID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// IsActiveParticipant reports whether the user holds an active participant
// row in the conversation.
func (s *Service) IsActiveParticipant(ctx context.Context, tenantID, conversationID, userID string) (bool, error) {
	p, err := s.repo.GetParticipant(ctx, tenantID, conversationID, userID)
	if err != nil {
		if errors.Is(err, ErrNotParticipant) {
			return false, nil
		}
		return false, err
	}
	return p.Active, nil
}

// History returns the newest limit messages of a conversation in
// chronological order, reactions attached. limit <= 0 means the default.
func (s *Service) History(ctx context.Context, tenantID, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	messages, err := s.repo.ListMessages(ctx, tenantID, conversationID, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	reactions, err := s.repo.ListReactions(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}

	byMessage := make(map[string][]domain.MessageReaction, len(messages))
	for _, reaction := range reactions {
		byMessage[reaction.MessageID] = append(byMessage[reaction.MessageID], reaction)
	}

	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		attached := byMessage[m.ID]
		if attached == nil {
			attached = []domain.MessageReaction{}
		}
		out = append(out, Message{ChatMessage: m, Reactions: attached})
	}
	return out, nil
}

// SendMessageInput describes a message to post.
type SendMessageInput struct {
	Type    domain.MessageType
	Content string
	ReplyTo *string
}

// SendMessage posts a message. The sender must hold an active participant
// row; text messages require non-empty content; a reply target must belong
// to the same conversation.
func (s *Service) SendMessage(ctx context.Context, tenantID, conversationID, senderID string, input SendMessageInput) (*domain.ChatMessage, error) {
	msgType := input.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if !msgType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageType, msgType)
	}

	content := strings.TrimSpace(input.Content)
	if content == "" && msgType == domain.MessageTypeText {
		return nil, ErrEmptyMessage
	}

	if err := s.requireActiveParticipant(ctx, tenantID, conversationID, senderID); err != nil {
		return nil, err
	}

	if input.ReplyTo != nil && *input.ReplyTo != "" {
		target, err := s.repo.GetMessageByID(ctx, tenantID, *input.ReplyTo)
		if err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				return nil, ErrInvalidReplyTarget
			}
			return nil, err
		}
		if target.ConversationID != conversationID {
			return nil, ErrInvalidReplyTarget
		}
	} else {
		input.ReplyTo = nil
	}

	m := &domain.ChatMessage{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           msgType,
		Content:        content,
		ReplyTo:        input.ReplyTo,
	}
	if err := s.repo.CreateMessage(ctx, tenantID, m); err != nil {
		return nil, err
	}
	return m, nil
}

// EditMessage replaces a message's content. Author-only.
func (s *Service) EditMessage(ctx context.Context, tenantID, messageID, editorID, content string) (*domain.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	m, err := s.repo.GetMessageByID(ctx, tenantID, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted() {
		return nil, ErrMessageNotFound
	}
	if m.SenderID != editorID {
		return nil, ErrNotMessageAuthor
	}

	return s.repo.UpdateMessageContent(ctx, tenantID, messageID, content)
}

// DeleteMessage soft-deletes a message. Author-only.
func (s *Service) DeleteMessage(ctx context.Context, tenantID, messageID, userID string) error {
	m, err := s.repo.GetMessageByID(ctx, tenantID, messageID)
	if err != nil {
		return err
	}
	if m.IsDeleted() {
		return ErrMessageNotFound
	}
	if m.SenderID != userID {
		return ErrNotMessageAuthor
	}

	return s.repo.SoftDeleteMessage(ctx, tenantID, messageID)
}

// AddReaction records an emoji reaction. created is false when the user
// already reacted with the same emoji; callers skip the broadcast then.
func (s *Service) AddReaction(ctx context.Context, tenantID, messageID, userID, emoji string) (*domain.MessageReaction, bool, error) {
	if emoji == "" {
		return nil, false, errors.New("emoji required")
	}

	m, err := s.repo.GetMessageByID(ctx, tenantID, messageID)
	if err != nil {
		return nil, false, err
	}
	if m.IsDeleted() {
		return nil, false, ErrMessageNotFound
	}

	reaction := &domain.MessageReaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	}
	created, err := s.repo.AddReaction(ctx, tenantID, reaction)
	if err != nil {
		return nil, false, err
	}
	return reaction, created, nil
}

// RemoveReaction deletes the user's reaction; removed is false when there
// was none.
func (s *Service) RemoveReaction(ctx context.Context, tenantID, messageID, userID, emoji string) (bool, error) {
	return s.repo.RemoveReaction(ctx, tenantID, messageID, userID, emoji)
}

// MarkConversationRead advances the user's read cursor to now.
func (s *Service) MarkConversationRead(ctx context.Context, tenantID, conversationID, userID string) error {
	return s.repo.TouchLastSeen(ctx, tenantID, conversationID, userID, time.Now())
}

// MarkMessageRead advances the user's read cursor to the message's
// timestamp.
func (s *Service) MarkMessageRead(ctx context.Context, tenantID, messageID, userID string) error {
	m, err := s.repo.GetMessageByID(ctx, tenantID, messageID)
	if err != nil {
		return err
	}
	return s.repo.TouchLastSeen(ctx, tenantID, m.ConversationID, userID, m.CreatedAt)
}

// UpdatePresence stores the user's availability.
func (s *Service) UpdatePresence(ctx context.Context, tenantID, userID string, status domain.PresenceStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid presence status %q", status)
	}
	return s.repo.UpsertPresence(ctx, &domain.UserPresence{
		TenantID: tenantID,
		UserID:   userID,
		Status:   status,
	})
}

func (s *Service) requireActiveParticipant(ctx context.Context, tenantID, conversationID, userID string) error {
	p, err := s.repo.GetParticipant(ctx, tenantID, conversationID, userID)
	if err != nil {
		return err
	}
	if !p.Active {
		return ErrNotParticipant
	}
	return nil
}
