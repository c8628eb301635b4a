package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sprache-backend/internal/events"
	"sprache-backend/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// events queued per client before it is dropped as too slow
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans conversation events out to every connected chat client. With a
// Redis client it relays the shared event channel, so events from any server
// instance reach every tab. Without one it only relays what is published to
// it directly.
type Hub struct {
	mu          sync.Mutex
	connections map[uuid.UUID]*client
	redisClient *redis.Client
	cancel      context.CancelFunc
	logger      *zap.Logger
}

func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]*client),
		redisClient: redisClient,
		logger:      logger,
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.New()
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.registerConnection(id, c)

	go h.writePump(id, c)
	go h.readPump(id, c)
}

// readPump only detects the disconnect; clients never send anything.
func (h *Hub) readPump(id uuid.UUID, c *client) {
	defer h.unregisterConnection(id)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of c.conn and the one that closes it. It stops
// when the hub closes c.send or a write fails.
func (h *Hub) writePump(id uuid.UUID, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unregisterConnection(id)
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", zap.String("conn_id", id.String()), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) registerConnection(id uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[id] = c

	// Subscribe when the first client arrives
	if len(h.connections) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.subscribeToPubSub(ctx)
	}

	h.logger.Debug("websocket connected",
		zap.String("conn_id", id.String()),
		zap.Int("total", len(h.connections)),
	)
}

func (h *Hub) unregisterConnection(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

// removeLocked drops id from the hub. Callers hold mu.
func (h *Hub) removeLocked(id uuid.UUID) {
	c, ok := h.connections[id]
	if !ok {
		return
	}
	delete(h.connections, id)
	close(c.send)

	if len(h.connections) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}

	h.logger.Debug("websocket disconnected", zap.String("conn_id", id.String()))
}

func (h *Hub) subscribeToPubSub(ctx context.Context) {
	pubsub := h.redisClient.Subscribe(ctx, events.Channel)
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

// broadcast queues data for every client without blocking. A client whose
// queue is full is dropped.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.connections {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket client too slow, dropping", zap.String("conn_id", id.String()))
			h.removeLocked(id)
		}
	}
}

// Publish sends msg to the clients connected to this instance. It lets the
// hub stand in for the Redis publisher when Redis is not configured.
func (h *Hub) Publish(_ context.Context, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast(data)
}

// Connections returns the number of connected clients.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Close disconnects every client and stops the subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id := range h.connections {
		h.removeLocked(id)
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

var _ events.Publisher = (*Hub)(nil)
