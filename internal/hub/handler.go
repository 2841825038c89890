package hub

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/domain"
)

// RegisterRoutes mounts the socket endpoints. The paths keep their
// trailing slash; existing clients connect with it.
func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/ws/notifications/{tenant}/", h.serveNotificationsWS)
	r.Get("/ws/chat/{tenant}/", h.serveChatWS)
	r.Get("/ws/tenant/{tenant}/broadcast/", h.serveBroadcastWS)
}

func (h *Hub) serveNotificationsWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Debug("websocket accept failed", "error", err)
		return
	}

	c, ok := h.authenticate(r, sock, kindNotifications)
	if !ok {
		return
	}

	h.sendJSON(c, welcomeFrame{
		Type:      frameConnectionEstablished,
		Message:   "connected to notification service",
		UserID:    c.userID,
		TenantID:  c.tenantID,
		Timestamp: time.Now().UTC(),
	})
	h.serve(c, h.handleNotificationFrame)
}

func (h *Hub) serveChatWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Debug("websocket accept failed", "error", err)
		return
	}

	c, ok := h.authenticate(r, sock, kindChat)
	if !ok {
		return
	}

	h.sendJSON(c, welcomeFrame{
		Type:      frameConnectionEstablished,
		Message:   "connected to chat service",
		UserID:    c.userID,
		TenantID:  c.tenantID,
		Timestamp: time.Now().UTC(),
	})

	h.setPresence(c, domain.PresenceStatusOnline)
	defer func() {
		if conversationID := c.currentConversation(); conversationID != "" {
			h.publishPresenceChanged(c, conversationID, domain.PresenceStatusOffline)
		}
		h.setPresence(c, domain.PresenceStatusOffline)
	}()

	h.serve(c, h.handleChatFrame)
}

// serveBroadcastWS attaches a receive-only listener to the tenant
// group. Broadcast listeners authenticate with the same token as the
// other sockets; there is no anonymous access.
func (h *Hub) serveBroadcastWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Debug("websocket accept failed", "error", err)
		return
	}

	c, ok := h.authenticate(r, sock, kindBroadcast)
	if !ok {
		return
	}
	h.serve(c, h.handleBroadcastFrame)
}

// authenticate validates the handshake token after the upgrade so the
// client receives a proper close code instead of a bare HTTP error.
func (h *Hub) authenticate(r *http.Request, sock *websocket.Conn, kind string) (*connection, bool) {
	pathTenant := chi.URLParam(r, "tenant")

	token := bearerToken(r)
	if token == "" {
		_ = sock.Close(closeUnauthorized, "missing token")
		return nil, false
	}

	userID, tenantID, err := h.verifier.ValidateToken(r.Context(), token)
	if err != nil {
		_ = sock.Close(closeUnauthorized, "invalid token")
		return nil, false
	}
	if tenantID != pathTenant {
		_ = sock.Close(closeTenantMismatch, "tenant mismatch")
		return nil, false
	}

	return h.newConnection(r.Context(), sock, kind, tenantID, userID), true
}

// bearerToken pulls the handshake token from the query string or the
// Authorization header. Browsers cannot set headers on WebSocket
// upgrades, so the query form is the common path.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return after
	}
	return ""
}

// publishPresenceChanged runs at teardown, after the connection context
// is gone, so it uses its own deadline.
func (h *Hub) publishPresenceChanged(c *connection, conversationID string, status domain.PresenceStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	h.publish(ctx, bus.ConversationSubject(conversationID), presenceChangedFrame{
		Type:   framePresenceChanged,
		UserID: c.userID,
		Status: string(status),
	})
}
