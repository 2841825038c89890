package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/chat"
	"github.com/heraldhq/herald/internal/domain"
)

// ChatService is the slice of chat behaviour the hub drives on behalf
// of socket clients.
type ChatService interface {
	IsActiveParticipant(ctx context.Context, tenantID, conversationID, userID string) (bool, error)
	History(ctx context.Context, tenantID, conversationID string, limit int) ([]chat.Message, error)
	SendMessage(ctx context.Context, tenantID, conversationID, senderID string, input chat.SendMessageInput) (*domain.ChatMessage, error)
	EditMessage(ctx context.Context, tenantID, messageID, editorID, content string) (*domain.ChatMessage, error)
	DeleteMessage(ctx context.Context, tenantID, messageID, userID string) error
	AddReaction(ctx context.Context, tenantID, messageID, userID, emoji string) (*domain.MessageReaction, bool, error)
	RemoveReaction(ctx context.Context, tenantID, messageID, userID, emoji string) (bool, error)
	MarkConversationRead(ctx context.Context, tenantID, conversationID, userID string) error
	MarkMessageRead(ctx context.Context, tenantID, messageID, userID string) error
	UpdatePresence(ctx context.Context, tenantID, userID string, status domain.PresenceStatus) error
}

// handleChatFrame processes one frame from a chat socket client. Unlike
// the notification socket, chat clients get an error frame back for
// anything they got wrong.
func (h *Hub) handleChatFrame(c *connection, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid json format")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()

	switch msg.Type {
	case "join_conversation":
		h.joinConversation(ctx, c, msg)
	case "leave_conversation":
		h.leaveConversation(c, msg)
	case "send_message":
		h.sendMessage(ctx, c, msg)
	case "edit_message":
		h.editMessage(ctx, c, msg)
	case "delete_message":
		h.deleteMessage(ctx, c, msg)
	case "add_reaction":
		h.addReaction(ctx, c, msg)
	case "remove_reaction":
		h.removeReaction(ctx, c, msg)
	case "start_typing":
		h.startTyping(c)
	case "stop_typing":
		h.stopTypingRequest(c)
	case "mark_read":
		h.markRead(ctx, c, msg)
	case "update_presence":
		h.updatePresence(ctx, c, msg)
	default:
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

// joinConversation verifies membership, replays recent history and
// swaps the connection onto the conversation's group. A connection
// follows one conversation at a time; joining another leaves the first.
func (h *Hub) joinConversation(ctx context.Context, c *connection, msg clientMessage) {
	if msg.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}

	ok, err := h.chat.IsActiveParticipant(ctx, c.tenantID, msg.ConversationID, c.userID)
	if err != nil {
		h.sendChatError(c, "join_conversation", err)
		return
	}
	if !ok {
		h.sendError(c, "not authorized for this conversation")
		return
	}

	history, err := h.chat.History(ctx, c.tenantID, msg.ConversationID, h.config.HistoryLimit)
	if err != nil {
		h.sendChatError(c, "join_conversation", err)
		return
	}

	if conversationID, wasTyping := c.stopTyping(); wasTyping {
		h.publishTyping(c, conversationID, false)
	}

	c.mu.Lock()
	previous := c.conversationID
	c.conversationID = msg.ConversationID
	c.mu.Unlock()

	if previous != "" && previous != msg.ConversationID {
		h.leaveGroup(c, bus.ConversationSubject(previous))
	}
	h.joinGroup(c, bus.ConversationSubject(msg.ConversationID))

	h.sendJSON(c, conversationJoinedFrame{
		Type:           frameConversationJoined,
		ConversationID: msg.ConversationID,
		History:        history,
	})
}

func (h *Hub) leaveConversation(c *connection, msg clientMessage) {
	if conversationID, wasTyping := c.stopTyping(); wasTyping {
		h.publishTyping(c, conversationID, false)
	}

	c.mu.Lock()
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = c.conversationID
	}
	if c.conversationID == conversationID {
		c.conversationID = ""
	}
	c.mu.Unlock()

	if conversationID != "" {
		h.leaveGroup(c, bus.ConversationSubject(conversationID))
	}
	h.sendJSON(c, conversationLeftFrame{Type: frameConversationLeft})
}

// sendMessage persists the message, confirms to the sender and fans
// new_message out to the conversation group on every instance.
func (h *Hub) sendMessage(ctx context.Context, c *connection, msg clientMessage) {
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = c.currentConversation()
	}
	if conversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}

	m, err := h.chat.SendMessage(ctx, c.tenantID, conversationID, c.userID, chat.SendMessageInput{
		Type:    domain.MessageType(msg.MessageType),
		Content: msg.Content,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		h.sendChatError(c, "send_message", err)
		return
	}

	h.sendJSON(c, messageFrame{Type: frameMessageSent, Message: m})
	h.publish(ctx, bus.ConversationSubject(conversationID), messageFrame{Type: frameNewMessage, Message: m})
}

func (h *Hub) editMessage(ctx context.Context, c *connection, msg clientMessage) {
	if msg.MessageID == "" {
		h.sendError(c, "message_id required")
		return
	}

	m, err := h.chat.EditMessage(ctx, c.tenantID, msg.MessageID, c.userID, msg.Content)
	if err != nil {
		h.sendChatError(c, "edit_message", err)
		return
	}

	h.publish(ctx, bus.ConversationSubject(m.ConversationID), messageFrame{Type: frameMessageUpdated, Message: m})
}

// deleteMessage broadcasts to the connection's current conversation;
// deletions are author-only, so the author is expected to be in the
// room they are deleting from.
func (h *Hub) deleteMessage(ctx context.Context, c *connection, msg clientMessage) {
	if msg.MessageID == "" {
		h.sendError(c, "message_id required")
		return
	}

	if err := h.chat.DeleteMessage(ctx, c.tenantID, msg.MessageID, c.userID); err != nil {
		h.sendChatError(c, "delete_message", err)
		return
	}

	if conversationID := c.currentConversation(); conversationID != "" {
		h.publish(ctx, bus.ConversationSubject(conversationID), messageDeletedFrame{
			Type:      frameMessageDeleted,
			MessageID: msg.MessageID,
		})
	}
}

// addReaction broadcasts only genuinely new reactions; a duplicate
// (message, user, emoji) add is a silent no-op.
func (h *Hub) addReaction(ctx context.Context, c *connection, msg clientMessage) {
	if msg.MessageID == "" || msg.Emoji == "" {
		h.sendError(c, "message_id and emoji required")
		return
	}

	reaction, created, err := h.chat.AddReaction(ctx, c.tenantID, msg.MessageID, c.userID, msg.Emoji)
	if err != nil {
		h.sendChatError(c, "add_reaction", err)
		return
	}
	if !created {
		return
	}

	if conversationID := c.currentConversation(); conversationID != "" {
		h.publish(ctx, bus.ConversationSubject(conversationID), reactionAddedFrame{
			Type:     frameReactionAdded,
			Reaction: reaction,
		})
	}
}

func (h *Hub) removeReaction(ctx context.Context, c *connection, msg clientMessage) {
	if msg.MessageID == "" || msg.Emoji == "" {
		h.sendError(c, "message_id and emoji required")
		return
	}

	removed, err := h.chat.RemoveReaction(ctx, c.tenantID, msg.MessageID, c.userID, msg.Emoji)
	if err != nil {
		h.sendChatError(c, "remove_reaction", err)
		return
	}
	if !removed {
		return
	}

	if conversationID := c.currentConversation(); conversationID != "" {
		h.publish(ctx, bus.ConversationSubject(conversationID), reactionRemovedFrame{
			Type:      frameReactionRemoved,
			MessageID: msg.MessageID,
			UserID:    c.userID,
			Emoji:     msg.Emoji,
		})
	}
}

// startTyping broadcasts the indicator and arms the expiry timer that
// broadcasts the stop for clients that never send one.
func (h *Hub) startTyping(c *connection) {
	conversationID := c.currentConversation()
	if conversationID == "" {
		h.sendError(c, "join a conversation first")
		return
	}

	c.mu.Lock()
	if c.typing != nil {
		c.typing.Reset(h.config.TypingTTL)
	} else {
		c.typing = time.AfterFunc(h.config.TypingTTL, func() {
			c.mu.Lock()
			c.typing = nil
			c.mu.Unlock()
			h.publishTyping(c, conversationID, false)
		})
	}
	c.mu.Unlock()

	h.publishTyping(c, conversationID, true)
}

func (h *Hub) stopTypingRequest(c *connection) {
	if conversationID, wasTyping := c.stopTyping(); wasTyping {
		h.publishTyping(c, conversationID, false)
	}
}

// markRead accepts either a conversation_id (cursor moves to now) or a
// message_id (cursor moves to that message's timestamp).
func (h *Hub) markRead(ctx context.Context, c *connection, msg clientMessage) {
	var err error
	switch {
	case msg.ConversationID != "":
		err = h.chat.MarkConversationRead(ctx, c.tenantID, msg.ConversationID, c.userID)
	case msg.MessageID != "":
		err = h.chat.MarkMessageRead(ctx, c.tenantID, msg.MessageID, c.userID)
	default:
		h.sendError(c, "conversation_id or message_id required")
		return
	}
	if err != nil {
		h.sendChatError(c, "mark_read", err)
		return
	}
	h.sendJSON(c, markedReadFrame{Type: frameMessagesMarkedRead})
}

func (h *Hub) updatePresence(ctx context.Context, c *connection, msg clientMessage) {
	status := domain.PresenceStatus(msg.Status)
	if !status.IsValid() {
		h.sendError(c, "invalid presence status")
		return
	}

	if err := h.chat.UpdatePresence(ctx, c.tenantID, c.userID, status); err != nil {
		h.sendChatError(c, "update_presence", err)
		return
	}

	h.sendJSON(c, presenceUpdatedFrame{Type: framePresenceUpdated, Status: msg.Status})

	if conversationID := c.currentConversation(); conversationID != "" {
		h.publish(ctx, bus.ConversationSubject(conversationID), presenceChangedFrame{
			Type:   framePresenceChanged,
			UserID: c.userID,
			Status: msg.Status,
		})
	}
}

// setPresence records availability at connect and disconnect. Failures
// only get logged; presence is advisory.
func (h *Hub) setPresence(c *connection, status domain.PresenceStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := h.chat.UpdatePresence(ctx, c.tenantID, c.userID, status); err != nil {
		slog.Warn("update presence", "user_id", c.userID, "status", status, "error", err)
	}
}

// sendChatError turns known service errors into error frames and hides
// everything else behind a generic message.
func (h *Hub) sendChatError(c *connection, op string, err error) {
	if reason := chatErrorMessage(err); reason != "" {
		h.sendError(c, reason)
		return
	}
	slog.Error("chat socket operation failed", "op", op, "tenant_id", c.tenantID, "error", err)
	h.sendError(c, "internal error")
}

func chatErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		return "conversation not found"
	case errors.Is(err, chat.ErrMessageNotFound):
		return "message not found"
	case errors.Is(err, chat.ErrNotParticipant):
		return "not authorized for this conversation"
	case errors.Is(err, chat.ErrNotMessageAuthor):
		return "only the author may modify a message"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "message content required"
	case errors.Is(err, chat.ErrInvalidMessageType):
		return "invalid message type"
	case errors.Is(err, chat.ErrInvalidReplyTarget):
		return "reply target not in this conversation"
	default:
		return ""
	}
}
