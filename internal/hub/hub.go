// Package hub fans notification and chat frames out to WebSocket
// clients. Every broadcast is routed through the bus, so a frame
// published on one instance reaches clients attached to any other.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/pkg/httputil"
)

// Socket endpoint kinds, also used as the metrics label.
const (
	kindNotifications = "notifications"
	kindChat          = "chat"
	kindBroadcast     = "broadcast"
)

// Close codes of the socket contract.
const (
	closeUnauthorized   websocket.StatusCode = 4001
	closeTenantMismatch websocket.StatusCode = 4003
	closeSlowConsumer   websocket.StatusCode = 4008
)

// opTimeout bounds database work done on behalf of a socket client so a
// stuck query cannot wedge the read loop forever.
const opTimeout = 10 * time.Second

// Config tunes per-connection buffering and liveness.
type Config struct {
	// SendBuffer is the number of frames queued per connection before
	// it is treated as a slow consumer and dropped.
	SendBuffer int
	// PingInterval is the cadence clients are expected to ping at; a
	// connection silent for twice this long is closed.
	PingInterval time.Duration
	WriteTimeout time.Duration
	// HistoryLimit is the number of messages replayed on join_conversation.
	HistoryLimit int
	// TypingTTL is how long a typing indicator lives without a refresh.
	TypingTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer < 1 {
		c.SendBuffer = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.HistoryLimit < 1 {
		c.HistoryLimit = 50
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 10 * time.Second
	}
	return c
}

// Hub tracks live connections and their group subscriptions.
type Hub struct {
	config   Config
	bus      bus.Bus
	verifier httputil.TokenValidator
	records  RecordReader
	chat     ChatService

	mu     sync.RWMutex
	conns  map[string]*connection
	groups map[string]map[string]*connection

	wg          sync.WaitGroup
	unsubscribe func()
}

// New creates a Hub. Start must be called before clients connect.
func New(cfg Config, b bus.Bus, verifier httputil.TokenValidator, records RecordReader, chatSvc ChatService) *Hub {
	return &Hub{
		config:   cfg.withDefaults(),
		bus:      b,
		verifier: verifier,
		records:  records,
		chat:     chatSvc,
		conns:    make(map[string]*connection),
		groups:   make(map[string]map[string]*connection),
	}
}

// Start subscribes the hub to bus frames.
func (h *Hub) Start(ctx context.Context) error {
	unsubscribe, err := h.bus.Subscribe(ctx, h.dispatch)
	if err != nil {
		return fmt.Errorf("subscribe hub to bus: %w", err)
	}
	h.unsubscribe = unsubscribe
	return nil
}

// Shutdown detaches from the bus, closes every client and waits for
// their handlers to drain or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}

	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Broadcast delivers a frame to every connection in the tenant group,
// on this instance and every other one sharing the bus.
func (h *Hub) Broadcast(ctx context.Context, tenantID string, frame []byte) error {
	return h.bus.Publish(ctx, bus.TenantSubject(tenantID), frame)
}

// BroadcastUser delivers a frame to all of one user's connections.
func (h *Hub) BroadcastUser(ctx context.Context, tenantID, userID string, frame []byte) error {
	return h.bus.Publish(ctx, bus.UserSubject(tenantID, userID), frame)
}

// ActiveConnections reports the number of clients currently attached.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// dispatch fans a bus frame out to the local members of its subject
// group. It must not block: the in-memory bus invokes it inline from
// Publish, so delivery only ever enqueues.
func (h *Hub) dispatch(subject string, payload []byte) {
	h.mu.RLock()
	group := h.groups[subject]
	members := make([]*connection, 0, len(group))
	for _, c := range group {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		h.enqueue(c, payload)
	}
}

// connection is one attached WebSocket client.
type connection struct {
	id       string
	kind     string
	tenantID string
	userID   string

	sock *websocket.Conn
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	// Chat state. Guarded by mu: the read loop and expiring typing
	// timers touch it from different goroutines.
	mu             sync.Mutex
	conversationID string
	typing         *time.Timer
}

func (h *Hub) newConnection(ctx context.Context, sock *websocket.Conn, kind, tenantID, userID string) *connection {
	connCtx, cancel := context.WithCancel(ctx)
	return &connection{
		id:       uuid.NewString(),
		kind:     kind,
		tenantID: tenantID,
		userID:   userID,
		sock:     sock,
		send:     make(chan []byte, h.config.SendBuffer),
		ctx:      connCtx,
		cancel:   cancel,
	}
}

// close terminates the socket once; later calls are no-ops.
func (c *connection) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.sock.Close(code, reason)
	})
}

func (c *connection) currentConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// stopTyping cancels the expiry timer, reporting whether one was armed
// and for which conversation.
func (c *connection) stopTyping() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typing == nil {
		return "", false
	}
	c.typing.Stop()
	c.typing = nil
	return c.conversationID, true
}

// frameHandler processes one raw client frame. Handlers do their own
// decoding because the sockets disagree on how to report bad JSON.
type frameHandler func(c *connection, data []byte)

// serve owns the connection from registration to teardown. It blocks
// until the client goes away, the hub shuts down or the connection is
// idle past twice the ping interval.
func (h *Hub) serve(c *connection, handle frameHandler) {
	h.wg.Add(1)
	defer h.wg.Done()

	h.register(c)
	defer h.unregister(c)

	go h.writeLoop(c)

	for {
		readCtx, cancel := context.WithTimeout(c.ctx, 2*h.config.PingInterval)
		_, data, err := c.sock.Read(readCtx)
		cancel()
		if err != nil {
			return
		}
		handle(c, data)
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	recordConnectionOpened(c.kind)

	// Chat clients only join groups via join_conversation.
	switch c.kind {
	case kindNotifications:
		h.joinGroup(c, bus.TenantSubject(c.tenantID))
		h.joinGroup(c, bus.UserSubject(c.tenantID, c.userID))
	case kindBroadcast:
		h.joinGroup(c, bus.TenantSubject(c.tenantID))
	}

	slog.Debug("websocket connected",
		"connection_id", c.id, "endpoint", c.kind, "tenant_id", c.tenantID, "user_id", c.userID)
}

func (h *Hub) unregister(c *connection) {
	if conversationID, wasTyping := c.stopTyping(); wasTyping {
		h.publishTyping(c, conversationID, false)
	}

	h.mu.Lock()
	delete(h.conns, c.id)
	for subject, group := range h.groups {
		if _, ok := group[c.id]; ok {
			delete(group, c.id)
			if len(group) == 0 {
				delete(h.groups, subject)
			}
		}
	}
	h.mu.Unlock()

	c.close(websocket.StatusNormalClosure, "")
	recordConnectionClosed(c.kind)

	slog.Debug("websocket disconnected", "connection_id", c.id, "endpoint", c.kind)
}

func (h *Hub) joinGroup(c *connection, subject string) {
	h.mu.Lock()
	group, ok := h.groups[subject]
	if !ok {
		group = make(map[string]*connection)
		h.groups[subject] = group
	}
	group[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) leaveGroup(c *connection, subject string) {
	h.mu.Lock()
	if group, ok := h.groups[subject]; ok {
		delete(group, c.id)
		if len(group) == 0 {
			delete(h.groups, subject)
		}
	}
	h.mu.Unlock()
}

// enqueue hands a frame to the connection's writer. A full buffer means
// the client cannot keep up; it is closed rather than allowed to stall
// delivery to everyone else.
func (h *Hub) enqueue(c *connection, frame []byte) {
	select {
	case c.send <- frame:
	default:
		slog.Warn("closing slow websocket consumer",
			"connection_id", c.id, "endpoint", c.kind, "tenant_id", c.tenantID)
		recordSlowConsumerClose(c.kind)
		c.close(closeSlowConsumer, "send buffer overflow")
	}
}

// writeLoop serialises all writes to one connection.
func (h *Hub) writeLoop(c *connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, h.config.WriteTimeout)
			err := c.sock.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
			recordFrameSent(c.kind)
		}
	}
}

func (h *Hub) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal websocket frame", "error", err)
		return
	}
	h.enqueue(c, data)
}

func (h *Hub) sendError(c *connection, message string) {
	h.sendJSON(c, errorFrame{Type: frameError, Message: message})
}

// publish routes a frame through the bus so group members on other
// instances see it too, this instance's included.
func (h *Hub) publish(ctx context.Context, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal websocket frame", "error", err)
		return
	}
	if err := h.bus.Publish(ctx, subject, data); err != nil {
		slog.Error("publish hub frame", "subject", subject, "error", err)
	}
}

// publishTyping is called outside request flow (timer expiry, teardown),
// so it cannot use the connection context.
func (h *Hub) publishTyping(c *connection, conversationID string, isTyping bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	h.publish(ctx, bus.ConversationSubject(conversationID), typingFrame{
		Type:     frameTypingIndicator,
		UserID:   c.userID,
		IsTyping: isTyping,
	})
}
