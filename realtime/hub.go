package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gameverse-api/delivery"
	"gameverse-api/models"
	"gameverse-api/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// TokenParser validates the handshake token
type TokenParser interface {
	Parse(token string) (*services.Claims, error)
}

// Relay carries frames between API instances. Without one the hub only
// reaches clients connected to this process.
type Relay interface {
	Publish(ctx context.Context, userID string, payload []byte) error
	Track(ctx context.Context, userID string) error
	Untrack(ctx context.Context, userID string) error
}

// Hub keeps the WebSocket connections of this instance, grouped by user
type Hub struct {
	tokens   TokenParser
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	relay   Relay
}

type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func NewHub(tokens TokenParser, log *zap.Logger) *Hub {
	return &Hub{
		tokens:  tokens,
		log:     log,
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetRelay switches the hub to cross-instance delivery
func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	h.relay = relay
	h.mu.Unlock()
}

func (h *Hub) Name() string {
	return "websocket"
}

// Push implements delivery.Channel
func (h *Hub) Push(ctx context.Context, userID string, n *models.Notification) error {
	return h.publish(ctx, userID, delivery.NotificationMessage(n))
}

// PublishUnread sends the fresh unread counters to the user's open sessions
func (h *Hub) PublishUnread(ctx context.Context, userID string, counts *models.UnreadCounts) error {
	return h.publish(ctx, userID, delivery.UnreadCountMessage(counts))
}

func (h *Hub) publish(ctx context.Context, userID string, msg delivery.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return delivery.Permanent(fmt.Errorf("encode %s message: %w", msg.Type, err))
	}

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()

	if relay != nil {
		return relay.Publish(ctx, userID, payload)
	}
	h.SendLocal(userID, payload)
	return nil
}

// SendLocal writes payload to every session of userID on this instance and
// returns how many sessions took it.
func (h *Hub) SendLocal(userID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
			sent++
		default:
			h.log.Warn("websocket send buffer full, frame dropped", zap.String("user_id", userID))
		}
	}
	return sent
}

// Connections counts open sessions for userID on this instance
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// ServeWS authenticates the handshake, then upgrades the connection
func (h *Hub) ServeWS(c *gin.Context) {
	token := handshakeToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token", "code": "UNAUTHORIZED"})
		return
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "code": "UNAUTHORIZED"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return
	}

	cl := &client{hub: h, userID: claims.UserID, conn: conn, send: make(chan []byte, sendBuffer)}
	go cl.writePump()
	h.register(c.Request.Context(), cl)
	go cl.readPump()
}

func handshakeToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Hub) register(ctx context.Context, c *client) {
	h.mu.Lock()
	sessions, ok := h.clients[c.userID]
	if !ok {
		sessions = make(map[*client]struct{})
		h.clients[c.userID] = sessions
	}
	sessions[c] = struct{}{}
	first := len(sessions) == 1
	relay := h.relay
	h.mu.Unlock()

	h.log.Debug("websocket connected", zap.String("user_id", c.userID))

	if first && relay != nil {
		// the upgrade request context ends with the handshake
		ctx = context.WithoutCancel(ctx)
		if err := relay.Track(ctx, c.userID); err != nil {
			h.log.Warn("could not subscribe user channel", zap.String("user_id", c.userID), zap.Error(err))
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	sessions, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := sessions[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(sessions, c)
	close(c.send)
	last := len(sessions) == 0
	if last {
		delete(h.clients, c.userID)
	}
	relay := h.relay
	h.mu.Unlock()

	h.log.Debug("websocket disconnected", zap.String("user_id", c.userID))

	if last && relay != nil {
		if err := relay.Untrack(context.Background(), c.userID); err != nil {
			h.log.Warn("could not unsubscribe user channel", zap.String("user_id", c.userID), zap.Error(err))
		}
	}
}

// Close drops every session
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*client
	for _, sessions := range h.clients {
		for c := range sessions {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		_ = c.conn.Close()
	}
}

// readPump only services control frames; clients do not send data
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read failed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
