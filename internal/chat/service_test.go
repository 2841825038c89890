package chat

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/domain"
)

// mockRepository implements Repository for testing. Message timestamps are
// a monotonic counter so ordering assertions stay deterministic.
type mockRepository struct {
	conversations map[string]*domain.ChatConversation
	participants  map[string]*domain.ChatParticipant
	messages      map[string]*domain.ChatMessage
	messageTenant map[string]string
	reactions     map[string]*domain.MessageReaction
	presence      map[string]*domain.UserPresence
	seq           int
	base          time.Time
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		conversations: make(map[string]*domain.ChatConversation),
		participants:  make(map[string]*domain.ChatParticipant),
		messages:      make(map[string]*domain.ChatMessage),
		messageTenant: make(map[string]string),
		reactions:     make(map[string]*domain.MessageReaction),
		presence:      make(map[string]*domain.UserPresence),
		base:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepository) tick() time.Time {
	m.seq++
	return m.base.Add(time.Duration(m.seq) * time.Second)
}

func participantKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

func reactionKey(messageID, userID, emoji string) string {
	return messageID + "|" + userID + "|" + emoji
}

func (m *mockRepository) CreateConversation(_ context.Context, c *domain.ChatConversation) error {
	c.ID = fmt.Sprintf("conv-%d", len(m.conversations)+1)
	c.CreatedAt = m.tick()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.conversations[c.ID] = &cp

	m.participants[participantKey(c.ID, c.CreatedBy)] = &domain.ChatParticipant{
		ID:             fmt.Sprintf("part-%d", len(m.participants)+1),
		ConversationID: c.ID,
		UserID:         c.CreatedBy,
		Role:           domain.ParticipantRoleAdmin,
		Active:         true,
		JoinedAt:       c.CreatedAt,
	}
	return nil
}

func (m *mockRepository) GetConversationByID(_ context.Context, tenantID, id string) (*domain.ChatConversation, error) {
	c, ok := m.conversations[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepository) ListConversations(_ context.Context, tenantID, userID string) ([]ConversationSummary, error) {
	out := make([]ConversationSummary, 0)
	for _, c := range m.conversations {
		if c.TenantID != tenantID {
			continue
		}
		p, ok := m.participants[participantKey(c.ID, userID)]
		if !ok || !p.Active {
			continue
		}
		count := 0
		for _, other := range m.participants {
			if other.ConversationID == c.ID && other.Active {
				count++
			}
		}
		out = append(out, ConversationSummary{ChatConversation: *c, ParticipantCount: count})
	}
	return out, nil
}

func (m *mockRepository) AddParticipant(_ context.Context, _ string, p *domain.ChatParticipant) error {
	key := participantKey(p.ConversationID, p.UserID)
	if existing, ok := m.participants[key]; ok {
		existing.Role = p.Role
		existing.Active = true
		*p = *existing
		return nil
	}
	p.ID = fmt.Sprintf("part-%d", len(m.participants)+1)
	p.Active = true
	p.JoinedAt = m.tick()
	cp := *p
	m.participants[key] = &cp
	return nil
}

func (m *mockRepository) GetParticipant(_ context.Context, _, conversationID, userID string) (*domain.ChatParticipant, error) {
	p, ok := m.participants[participantKey(conversationID, userID)]
	if !ok {
		return nil, ErrNotParticipant
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepository) ListParticipants(_ context.Context, _, conversationID string) ([]domain.ChatParticipant, error) {
	out := make([]domain.ChatParticipant, 0)
	for _, p := range m.participants {
		if p.ConversationID == conversationID && p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockRepository) TouchLastSeen(_ context.Context, _, conversationID, userID string, seenAt time.Time) error {
	p, ok := m.participants[participantKey(conversationID, userID)]
	if !ok {
		return nil
	}
	if p.LastSeenAt == nil || p.LastSeenAt.Before(seenAt) {
		p.LastSeenAt = &seenAt
	}
	return nil
}

func (m *mockRepository) CreateMessage(_ context.Context, tenantID string, msg *domain.ChatMessage) error {
	msg.ID = fmt.Sprintf("msg-%d", len(m.messages)+1)
	msg.CreatedAt = m.tick()
	cp := *msg
	m.messages[msg.ID] = &cp
	m.messageTenant[msg.ID] = tenantID

	if c, ok := m.conversations[msg.ConversationID]; ok {
		at := msg.CreatedAt
		c.LastMessageAt = &at
	}
	if p, ok := m.participants[participantKey(msg.ConversationID, msg.SenderID)]; ok {
		at := msg.CreatedAt
		if p.LastSeenAt == nil || p.LastSeenAt.Before(at) {
			p.LastSeenAt = &at
		}
	}
	return nil
}

func (m *mockRepository) GetMessageByID(_ context.Context, tenantID, id string) (*domain.ChatMessage, error) {
	msg, ok := m.messages[id]
	if !ok || m.messageTenant[id] != tenantID {
		return nil, ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *mockRepository) ListMessages(_ context.Context, tenantID, conversationID string, limit int) ([]domain.ChatMessage, error) {
	out := make([]domain.ChatMessage, 0)
	for id, msg := range m.messages {
		if m.messageTenant[id] != tenantID || msg.ConversationID != conversationID || msg.DeletedAt != nil {
			continue
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockRepository) UpdateMessageContent(_ context.Context, tenantID, id, content string) (*domain.ChatMessage, error) {
	msg, ok := m.messages[id]
	if !ok || m.messageTenant[id] != tenantID || msg.DeletedAt != nil {
		return nil, ErrMessageNotFound
	}
	msg.Content = content
	at := m.tick()
	msg.EditedAt = &at
	cp := *msg
	return &cp, nil
}

func (m *mockRepository) SoftDeleteMessage(_ context.Context, tenantID, id string) error {
	msg, ok := m.messages[id]
	if !ok || m.messageTenant[id] != tenantID || msg.DeletedAt != nil {
		return ErrMessageNotFound
	}
	at := m.tick()
	msg.DeletedAt = &at
	return nil
}

func (m *mockRepository) AddReaction(_ context.Context, _ string, r *domain.MessageReaction) (bool, error) {
	key := reactionKey(r.MessageID, r.UserID, r.Emoji)
	if _, ok := m.reactions[key]; ok {
		return false, nil
	}
	r.ID = fmt.Sprintf("react-%d", len(m.reactions)+1)
	r.CreatedAt = m.tick()
	cp := *r
	m.reactions[key] = &cp
	return true, nil
}

func (m *mockRepository) RemoveReaction(_ context.Context, _, messageID, userID, emoji string) (bool, error) {
	key := reactionKey(messageID, userID, emoji)
	if _, ok := m.reactions[key]; !ok {
		return false, nil
	}
	delete(m.reactions, key)
	return true, nil
}

func (m *mockRepository) ListReactions(_ context.Context, _ string, messageIDs []string) ([]domain.MessageReaction, error) {
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	out := make([]domain.MessageReaction, 0)
	for _, r := range m.reactions {
		if wanted[r.MessageID] {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRepository) UpsertPresence(_ context.Context, p *domain.UserPresence) error {
	p.UpdatedAt = m.tick()
	cp := *p
	m.presence[p.TenantID+"|"+p.UserID] = &cp
	return nil
}

func (m *mockRepository) GetPresence(_ context.Context, tenantID, userID string) (*domain.UserPresence, error) {
	p, ok := m.presence[tenantID+"|"+userID]
	if !ok {
		return &domain.UserPresence{TenantID: tenantID, UserID: userID, Status: domain.PresenceStatusOffline}, nil
	}
	cp := *p
	return &cp, nil
}

// newTestConversation creates a conversation owned by "alice" with "bob" as
// a member.
func newTestConversation(t *testing.T, svc *Service) *domain.ChatConversation {
	t.Helper()
	c, err := svc.CreateConversation(context.Background(), "t1", "alice", CreateConversationInput{
		Type:         domain.ConversationTypeGroup,
		Name:         "deploys",
		Participants: []string{"bob"},
	})
	require.NoError(t, err)
	return c
}

func TestService_CreateConversation(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	c := newTestConversation(t, svc)

	creator, err := repo.GetParticipant(context.Background(), "t1", c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantRoleAdmin, creator.Role)
	assert.True(t, creator.Active)

	member, err := repo.GetParticipant(context.Background(), "t1", c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantRoleMember, member.Role)
}

func TestService_CreateConversation_DefaultsToDirect(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	c, err := svc.CreateConversation(context.Background(), "t1", "alice", CreateConversationInput{})
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationTypeDirect, c.Type)
}

func TestService_CreateConversation_InvalidType(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	_, err := svc.CreateConversation(context.Background(), "t1", "alice", CreateConversationInput{Type: "broadcast"})
	assert.ErrorContains(t, err, "invalid conversation type")
}

func TestService_SendMessage(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	msg, err := svc.SendMessage(context.Background(), "t1", c.ID, "bob", SendMessageInput{
		Content: "  ship it  ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeText, msg.Type, "type defaults to text")
	assert.Equal(t, "ship it", msg.Content, "content is trimmed")
	assert.Equal(t, "bob", msg.SenderID)

	stored := repo.conversations[c.ID]
	require.NotNil(t, stored.LastMessageAt)
	assert.Equal(t, msg.CreatedAt, *stored.LastMessageAt)

	sender, err := repo.GetParticipant(context.Background(), "t1", c.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, sender.LastSeenAt)
	assert.Equal(t, msg.CreatedAt, *sender.LastSeenAt)
}

func TestService_SendMessage_RequiresActiveParticipant(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	_, err := svc.SendMessage(context.Background(), "t1", c.ID, "mallory", SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	repo.participants[participantKey(c.ID, "bob")].Active = false
	_, err = svc.SendMessage(context.Background(), "t1", c.ID, "bob", SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestService_SendMessage_TextRequiresContent(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	_, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	// Non-text messages carry their payload elsewhere, so empty content is
	// allowed.
	_, err = svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{
		Type: domain.MessageTypeSystem,
	})
	assert.NoError(t, err)
}

func TestService_SendMessage_InvalidType(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	_, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{
		Type:    "video",
		Content: "x",
	})
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestService_SendMessage_ReplyValidation(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)
	other := newTestConversation(t, svc)

	first, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "root"})
	require.NoError(t, err)

	reply, err := svc.SendMessage(context.Background(), "t1", c.ID, "bob", SendMessageInput{
		Content: "reply",
		ReplyTo: &first.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, first.ID, *reply.ReplyTo)

	// A reply target from another conversation is rejected.
	_, err = svc.SendMessage(context.Background(), "t1", other.ID, "alice", SendMessageInput{
		Content: "cross",
		ReplyTo: &first.ID,
	})
	assert.ErrorIs(t, err, ErrInvalidReplyTarget)

	missing := "msg-404"
	_, err = svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{
		Content: "dangling",
		ReplyTo: &missing,
	})
	assert.ErrorIs(t, err, ErrInvalidReplyTarget)
}

func TestService_EditMessage_AuthorOnly(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	msg, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "draft"})
	require.NoError(t, err)

	_, err = svc.EditMessage(context.Background(), "t1", msg.ID, "bob", "hijacked")
	assert.ErrorIs(t, err, ErrNotMessageAuthor)

	edited, err := svc.EditMessage(context.Background(), "t1", msg.ID, "alice", "final")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content)
	assert.NotNil(t, edited.EditedAt)
}

func TestService_EditMessage_EmptyContent(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	msg, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "draft"})
	require.NoError(t, err)

	_, err = svc.EditMessage(context.Background(), "t1", msg.ID, "alice", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestService_DeleteMessage_AuthorOnly(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	msg, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "oops"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteMessage(context.Background(), "t1", msg.ID, "bob"), ErrNotMessageAuthor)
	require.NoError(t, svc.DeleteMessage(context.Background(), "t1", msg.ID, "alice"))

	// Deleted messages cannot be edited or re-deleted.
	_, err = svc.EditMessage(context.Background(), "t1", msg.ID, "alice", "rewrite")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.ErrorIs(t, svc.DeleteMessage(context.Background(), "t1", msg.ID, "alice"), ErrMessageNotFound)
}

func TestService_History(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	for i := 1; i <= 5; i++ {
		_, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	history, err := svc.History(context.Background(), "t1", c.ID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3, "newest messages win the clamp")
	assert.Equal(t, "message 3", history[0].Content, "history is oldest first")
	assert.Equal(t, "message 5", history[2].Content)
	assert.NotNil(t, history[0].Reactions, "reactions default to an empty slice")
}

func TestService_History_ExcludesDeletedAndAttachesReactions(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	kept, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "kept"})
	require.NoError(t, err)
	gone, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "gone"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteMessage(context.Background(), "t1", gone.ID, "alice"))

	_, created, err := svc.AddReaction(context.Background(), "t1", kept.ID, "bob", "👍")
	require.NoError(t, err)
	require.True(t, created)

	history, err := svc.History(context.Background(), "t1", c.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, kept.ID, history[0].ID)
	require.Len(t, history[0].Reactions, 1)
	assert.Equal(t, "👍", history[0].Reactions[0].Emoji)
}

func TestService_AddReaction_DuplicateIsNoOp(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	msg, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "nice"})
	require.NoError(t, err)

	_, created, err := svc.AddReaction(context.Background(), "t1", msg.ID, "bob", "🎉")
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = svc.AddReaction(context.Background(), "t1", msg.ID, "bob", "🎉")
	require.NoError(t, err)
	assert.False(t, created, "duplicate reaction is silently kept")

	// Same emoji from another user is a distinct reaction.
	_, created, err = svc.AddReaction(context.Background(), "t1", msg.ID, "alice", "🎉")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestService_RemoveReaction(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	msg, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "nice"})
	require.NoError(t, err)

	_, _, err = svc.AddReaction(context.Background(), "t1", msg.ID, "bob", "🎉")
	require.NoError(t, err)

	removed, err := svc.RemoveReaction(context.Background(), "t1", msg.ID, "bob", "🎉")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.RemoveReaction(context.Background(), "t1", msg.ID, "bob", "🎉")
	require.NoError(t, err)
	assert.False(t, removed, "removing an absent reaction reports nothing to broadcast")
}

func TestService_MarkMessageRead(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	first, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "one"})
	require.NoError(t, err)
	second, err := svc.SendMessage(context.Background(), "t1", c.ID, "alice", SendMessageInput{Content: "two"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkMessageRead(context.Background(), "t1", second.ID, "bob"))
	bob, err := repo.GetParticipant(context.Background(), "t1", c.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, bob.LastSeenAt)
	assert.Equal(t, second.CreatedAt, *bob.LastSeenAt)

	// The cursor never moves backwards.
	require.NoError(t, svc.MarkMessageRead(context.Background(), "t1", first.ID, "bob"))
	bob, err = repo.GetParticipant(context.Background(), "t1", c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, second.CreatedAt, *bob.LastSeenAt)
}

func TestService_IsActiveParticipant(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	c := newTestConversation(t, svc)

	active, err := svc.IsActiveParticipant(context.Background(), "t1", c.ID, "bob")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = svc.IsActiveParticipant(context.Background(), "t1", c.ID, "mallory")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestService_UpdatePresence(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	require.NoError(t, svc.UpdatePresence(context.Background(), "t1", "alice", domain.PresenceStatusAway))
	p, err := repo.GetPresence(context.Background(), "t1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceStatusAway, p.Status)

	err = svc.UpdatePresence(context.Background(), "t1", "alice", "invisible")
	assert.ErrorContains(t, err, "invalid presence status")
}
