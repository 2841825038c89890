// Package postgres provides PostgreSQL implementation of chat repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/chat"
	"github.com/heraldhq/herald/internal/domain"
)

// Repository implements chat.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const (
	conversationColumns = `id, tenant_id, type, name, created_by, last_message_at, created_at, updated_at`
	participantColumns  = `id, conversation_id, user_id, role, active, last_seen_at, joined_at`
	messageColumns      = `id, conversation_id, sender_id, type, content, reply_to, edited_at, created_at, deleted_at`
)

// CreateConversation inserts the conversation and its creator as an admin
// participant in one transaction.
func (r *Repository) CreateConversation(ctx context.Context, c *domain.ChatConversation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	insert := `
		INSERT INTO chat_conversations (tenant_id, type, name, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, insert, c.TenantID, c.Type, c.Name, c.CreatedBy).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	creator := `
		INSERT INTO chat_participants (tenant_id, conversation_id, user_id, role, active)
		VALUES ($1, $2, $3, $4, TRUE)
	`
	if _, err := tx.Exec(ctx, creator, c.TenantID, c.ID, c.CreatedBy, domain.ParticipantRoleAdmin); err != nil {
		return fmt.Errorf("insert creator participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetConversationByID retrieves a conversation scoped to the tenant.
func (r *Repository) GetConversationByID(ctx context.Context, tenantID, id string) (*domain.ChatConversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM chat_conversations
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`
	return scanConversation(r.db.QueryRow(ctx, query, id, tenantID))
}

// ListConversations retrieves the conversations the user actively
// participates in, most recently active first.
func (r *Repository) ListConversations(ctx context.Context, tenantID, userID string) ([]chat.ConversationSummary, error) {
	query := `
		SELECT c.id, c.tenant_id, c.type, c.name, c.created_by, c.last_message_at, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM chat_participants a WHERE a.conversation_id = c.id AND a.active) AS participant_count
		FROM chat_conversations c
		JOIN chat_participants p ON p.conversation_id = c.id AND p.user_id = $2 AND p.active
		WHERE c.tenant_id = $1 AND c.deleted_at IS NULL
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]chat.ConversationSummary, 0)
	for rows.Next() {
		var s chat.ConversationSummary
		err := rows.Scan(
			&s.ID,
			&s.TenantID,
			&s.Type,
			&s.Name,
			&s.CreatedBy,
			&s.LastMessageAt,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.ParticipantCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		list = append(list, s)
	}

	return list, rows.Err()
}

// AddParticipant adds a user to a conversation. Re-adding a user who left
// reactivates the row with the new role.
func (r *Repository) AddParticipant(ctx context.Context, tenantID string, p *domain.ChatParticipant) error {
	query := `
		INSERT INTO chat_participants (tenant_id, conversation_id, user_id, role, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, active = TRUE
		RETURNING id, joined_at
	`
	err := r.db.QueryRow(ctx, query, tenantID, p.ConversationID, p.UserID, p.Role).
		Scan(&p.ID, &p.JoinedAt)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	p.Active = true
	return nil
}

// GetParticipant retrieves a participant row, active or not.
func (r *Repository) GetParticipant(ctx context.Context, tenantID, conversationID, userID string) (*domain.ChatParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM chat_participants
		WHERE tenant_id = $1 AND conversation_id = $2 AND user_id = $3
	`
	return scanParticipant(r.db.QueryRow(ctx, query, tenantID, conversationID, userID))
}

// ListParticipants retrieves the active participants of a conversation.
func (r *Repository) ListParticipants(ctx context.Context, tenantID, conversationID string) ([]domain.ChatParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM chat_participants
		WHERE tenant_id = $1 AND conversation_id = $2 AND active
		ORDER BY joined_at
	`
	rows, err := r.db.Query(ctx, query, tenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	list := make([]domain.ChatParticipant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}

	return list, rows.Err()
}

// TouchLastSeen advances the read cursor; it never moves backwards.
func (r *Repository) TouchLastSeen(ctx context.Context, tenantID, conversationID, userID string, seenAt time.Time) error {
	query := `
		UPDATE chat_participants
		SET last_seen_at = $4
		WHERE tenant_id = $1 AND conversation_id = $2 AND user_id = $3
		  AND (last_seen_at IS NULL OR last_seen_at < $4)
	`
	if _, err := r.db.Exec(ctx, query, tenantID, conversationID, userID, seenAt); err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// CreateMessage inserts the message and advances the conversation's
// last_message_at and the sender's read cursor in one transaction.
func (r *Repository) CreateMessage(ctx context.Context, tenantID string, m *domain.ChatMessage) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	insert := `
		INSERT INTO chat_messages (tenant_id, conversation_id, sender_id, type, content, reply_to)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insert, tenantID, m.ConversationID, m.SenderID, m.Type, m.Content, m.ReplyTo).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	touch := `
		UPDATE chat_conversations
		SET last_message_at = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`
	if _, err := tx.Exec(ctx, touch, m.ConversationID, tenantID, m.CreatedAt); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	seen := `
		UPDATE chat_participants
		SET last_seen_at = $4
		WHERE tenant_id = $1 AND conversation_id = $2 AND user_id = $3
		  AND (last_seen_at IS NULL OR last_seen_at < $4)
	`
	if _, err := tx.Exec(ctx, seen, tenantID, m.ConversationID, m.SenderID, m.CreatedAt); err != nil {
		return fmt.Errorf("touch sender last seen: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetMessageByID retrieves a message scoped to the tenant, soft-deleted
// ones included so authorship checks survive deletion.
func (r *Repository) GetMessageByID(ctx context.Context, tenantID, id string) (*domain.ChatMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE id = $1 AND tenant_id = $2
	`
	return scanMessage(r.db.QueryRow(ctx, query, id, tenantID))
}

// ListMessages retrieves the newest limit messages in chronological order.
func (r *Repository) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]domain.ChatMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM (
			SELECT ` + messageColumns + `
			FROM chat_messages
			WHERE tenant_id = $1 AND conversation_id = $2 AND deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT $3
		) AS recent
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	list := make([]domain.ChatMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}

	return list, rows.Err()
}

// UpdateMessageContent replaces the content and stamps edited_at.
func (r *Repository) UpdateMessageContent(ctx context.Context, tenantID, id, content string) (*domain.ChatMessage, error) {
	query := `
		UPDATE chat_messages
		SET content = $3, edited_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		RETURNING ` + messageColumns + `
	`
	return scanMessage(r.db.QueryRow(ctx, query, id, tenantID, content))
}

// SoftDeleteMessage hides the message; reaction rows and reply pointers
// stay intact.
func (r *Repository) SoftDeleteMessage(ctx context.Context, tenantID, id string) error {
	query := `
		UPDATE chat_messages
		SET deleted_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`
	result, err := r.db.Exec(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return chat.ErrMessageNotFound
	}
	return nil
}

// AddReaction inserts the reaction unless the same (message, user, emoji)
// row already exists.
func (r *Repository) AddReaction(ctx context.Context, tenantID string, reaction *domain.MessageReaction) (bool, error) {
	query := `
		INSERT INTO message_reactions (tenant_id, message_id, user_id, emoji)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, tenantID, reaction.MessageID, reaction.UserID, reaction.Emoji).
		Scan(&reaction.ID, &reaction.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("add reaction: %w", err)
	}
	return true, nil
}

// RemoveReaction deletes the reaction; removed is false when it never
// existed.
func (r *Repository) RemoveReaction(ctx context.Context, tenantID, messageID, userID, emoji string) (bool, error) {
	query := `
		DELETE FROM message_reactions
		WHERE tenant_id = $1 AND message_id = $2 AND user_id = $3 AND emoji = $4
	`
	result, err := r.db.Exec(ctx, query, tenantID, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListReactions retrieves the reactions of the given messages, oldest first.
func (r *Repository) ListReactions(ctx context.Context, tenantID string, messageIDs []string) ([]domain.MessageReaction, error) {
	if len(messageIDs) == 0 {
		return []domain.MessageReaction{}, nil
	}

	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE tenant_id = $1 AND message_id = ANY($2)
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, tenantID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	list := make([]domain.MessageReaction, 0)
	for rows.Next() {
		var reaction domain.MessageReaction
		err := rows.Scan(
			&reaction.ID,
			&reaction.MessageID,
			&reaction.UserID,
			&reaction.Emoji,
			&reaction.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		list = append(list, reaction)
	}

	return list, rows.Err()
}

// UpsertPresence stores the user's availability, one row per (tenant, user).
func (r *Repository) UpsertPresence(ctx context.Context, p *domain.UserPresence) error {
	query := `
		INSERT INTO user_presence (tenant_id, user_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING updated_at
	`
	if err := r.db.QueryRow(ctx, query, p.TenantID, p.UserID, p.Status).Scan(&p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

// GetPresence retrieves the user's stored availability.
func (r *Repository) GetPresence(ctx context.Context, tenantID, userID string) (*domain.UserPresence, error) {
	query := `
		SELECT tenant_id, user_id, status, updated_at
		FROM user_presence
		WHERE tenant_id = $1 AND user_id = $2
	`
	var p domain.UserPresence
	err := r.db.QueryRow(ctx, query, tenantID, userID).
		Scan(&p.TenantID, &p.UserID, &p.Status, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.UserPresence{
				TenantID: tenantID,
				UserID:   userID,
				Status:   domain.PresenceStatusOffline,
			}, nil
		}
		return nil, fmt.Errorf("get presence: %w", err)
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*domain.ChatConversation, error) {
	var c domain.ChatConversation
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Type,
		&c.Name,
		&c.CreatedBy,
		&c.LastMessageAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrConversationNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

func scanParticipant(row rowScanner) (*domain.ChatParticipant, error) {
	var p domain.ChatParticipant
	err := row.Scan(
		&p.ID,
		&p.ConversationID,
		&p.UserID,
		&p.Role,
		&p.Active,
		&p.LastSeenAt,
		&p.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotParticipant
		}
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	return &p, nil
}

func scanMessage(row rowScanner) (*domain.ChatMessage, error) {
	var m domain.ChatMessage
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Type,
		&m.Content,
		&m.ReplyTo,
		&m.EditedAt,
		&m.CreatedAt,
		&m.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrMessageNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}
