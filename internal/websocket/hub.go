package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/middleware"
	"inkwell-backend/internal/models"
)

// FeedChannel carries every saved interaction to teacher dashboards.
const FeedChannel = "interaction_updates"

// defaultWriteWait bounds how long one stalled dashboard can hold up the feed.
const defaultWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans the interaction feed out to connected teachers. With Redis the
// feed crosses server instances; without it Publish broadcasts locally.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]string
	redis  *redis.Client
	jwt    *middleware.JWTAuth
	log    *logger.Logger
	cancel context.CancelFunc

	writeWait time.Duration
}

func NewHub(client *redis.Client, jwt *middleware.JWTAuth, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		conns: make(map[*websocket.Conn]string),
		redis: client,
		jwt:   jwt,
		log:   log,

		writeWait: defaultWriteWait,
	}
}

// Publish sends msg to every teacher dashboard.
func (h *Hub) Publish(ctx context.Context, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if h.redis == nil {
		h.broadcast(data)
		return nil
	}
	return h.redis.Publish(ctx, FeedChannel, data).Err()
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on the upgrade request.
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := h.jwt.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if claims.Role != models.RoleTeacher {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	h.register(conn, claims.Username)

	go func() {
		defer h.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Connections reports how many dashboards are attached.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close drops every connection and the feed subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Hub) register(conn *websocket.Conn, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[conn] = username

	// First dashboard starts the subscription.
	if len(h.conns) == 1 && h.redis != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.subscribe(ctx)
	}

	h.log.Info("Dashboard connected", "user_id", username, "total", len(h.conns))
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()
	username, ok := h.conns[conn]
	if !ok {
		return
	}
	delete(h.conns, conn)

	if len(h.conns) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}

	h.log.Info("Dashboard disconnected", "user_id", username)
}

func (h *Hub) subscribe(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, FeedChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast([]byte(msg.Payload))
		}
	}
}

// broadcast holds the exclusive lock: a websocket.Conn allows one writer.
// A dashboard that misses the write deadline is closed; its reader then
// unregisters it.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	deadline := time.Now().Add(h.writeWait)
	for conn, username := range h.conns {
		conn.SetWriteDeadline(deadline)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("Feed write failed", "user_id", username, "error", err)
			conn.Close()
		}
	}
}
