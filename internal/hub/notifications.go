package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// RecordReader is the slice of the notifications service the hub uses
// to answer read receipts and unread counts.
type RecordReader interface {
	MarkRead(ctx context.Context, tenantID, recipient, id string) error
	UnreadCount(ctx context.Context, tenantID, recipient string) (int, error)
}

// handleNotificationFrame processes one frame from a notification
// socket client. Malformed or unknown frames are logged and dropped;
// the socket stays open.
func (h *Hub) handleNotificationFrame(c *connection, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid json on notification socket", "connection_id", c.id)
		return
	}

	switch msg.Type {
	case "ping":
		h.sendJSON(c, pongFrame{Type: framePong, Timestamp: time.Now().UTC()})

	case "mark_read":
		if msg.NotificationID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
		defer cancel()
		if err := h.records.MarkRead(ctx, c.tenantID, c.userID, msg.NotificationID); err != nil {
			slog.Warn("mark notification read",
				"notification_id", msg.NotificationID, "tenant_id", c.tenantID, "error", err)
		}

	case "get_unread_count":
		ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
		defer cancel()
		count, err := h.records.UnreadCount(ctx, c.tenantID, c.userID)
		if err != nil {
			slog.Error("count unread notifications", "tenant_id", c.tenantID, "error", err)
			return
		}
		h.sendJSON(c, unreadCountFrame{Type: frameUnreadCount, Count: count, Timestamp: time.Now().UTC()})

	default:
		slog.Warn("unknown notification socket message", "type", msg.Type, "connection_id", c.id)
	}
}

// handleBroadcastFrame serves the receive-only tenant broadcast socket.
// Pings keep the connection inside the idle deadline; anything else is
// ignored.
func (h *Hub) handleBroadcastFrame(c *connection, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type == "ping" {
		h.sendJSON(c, pongFrame{Type: framePong, Timestamp: time.Now().UTC()})
	}
}
