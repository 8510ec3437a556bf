package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	// PDV terminals connect from the same LAN; origin checks are left to CORS at the edge.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans messages out to websocket connections subscribed to a topic.
type Hub struct {
	topics  map[string]map[*Connection]bool
	clients map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection

	broadcast chan *Message

	mu     sync.RWMutex
	logger *zap.Logger
}

type Connection struct {
	ws     *websocket.Conn
	topics []string
	send   chan *Message
	hub    *Hub
}

type Message struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics:     make(map[string]map[*Connection]bool),
		clients:    make(map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *Message, 256),
		logger:     logger.Named("ws"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.RLock()
			conns := make([]*Connection, 0, len(h.clients))
			for c := range h.clients {
				conns = append(conns, c)
			}
			h.mu.RUnlock()

			// read pumps see the close and unregister themselves
			for _, c := range conns {
				_ = c.ws.Close()
			}
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			for _, topic := range conn.topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*Connection]bool)
				}
				h.topics[topic][conn] = true
			}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.remove(conn)

		case message := <-h.broadcast:
			var slow []*Connection
			h.mu.RLock()
			for conn := range h.topics[message.Topic] {
				select {
				case conn.send <- message:
				default:
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range slow {
				h.logger.Warn("dropping slow websocket subscriber", zap.String("topic", message.Topic))
				h.remove(conn)
			}
		}
	}
}

// remove detaches conn from every topic and closes its send channel once.
func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[conn] {
		return
	}
	delete(h.clients, conn)
	for _, topic := range conn.topics {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, conn)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(conn.send)
}

func (h *Hub) Broadcast(topic string, message *Message) {
	message.Topic = topic
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("hub broadcast channel is full, dropping message", zap.String("topic", topic), zap.String("type", message.Type))
	}
}

// Subscribers reports how many connections listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, topics []string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Connection{
		ws:     ws,
		topics: topics,
		send:   make(chan *Message, 256),
		hub:    h,
	}

	h.register <- conn

	go conn.writePump()
	go conn.readPump()
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10
)

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.ws.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteJSON(message); err != nil {
				c.hub.logger.Warn("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
