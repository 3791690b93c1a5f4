package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"idevicedesk/logs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54 seconds
)

// TopicSession carries store snapshots. Backup progress is published on the
// backup id.
const TopicSession = "session"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local desktop UI
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Message is the JSON frame pushed to clients
type Message struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// request is the JSON frame clients send
type request struct {
	Type  string `json:"type"` // subscribe, unsubscribe
	Topic string `json:"topic"`
}

type Client struct {
	hub        *WebSocketHub
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.Mutex
}

func (c *Client) isSubscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed[topic] || c.subscribed["all"]
}

type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	// last frame per topic, replayed to new subscribers
	latest map[string][]byte
	done   chan struct{}
	mu     sync.RWMutex
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		latest:     make(map[string][]byte),
		done:       make(chan struct{}),
	}
}

func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logs.Logger.Debugf("WebSocket client connected (total: %d)", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logs.Logger.Debugf("WebSocket client disconnected (total: %d)", total)
		}
	}
}

// Publish sends a message to every client subscribed to topic and keeps
// it for clients subscribing later
func (h *WebSocketHub) Publish(topic, msgType string, data any) {
	frame, err := json.Marshal(Message{Type: msgType, Topic: topic, Data: data})
	if err != nil {
		logs.Logger.WithError(err).Error("Failed to marshal websocket message")
		return
	}

	h.mu.Lock()
	h.latest[topic] = frame
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.isSubscribed(topic) {
			deliver(client, frame)
		}
	}
}

// Forget drops the cached frame of a topic
func (h *WebSocketHub) Forget(topic string) {
	h.mu.Lock()
	delete(h.latest, topic)
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver queues frame, dropping the oldest queued frame when the client
// is too slow
func deliver(client *Client, frame []byte) {
	select {
	case client.send <- frame:
		return
	default:
	}
	select {
	case <-client.send:
	default:
	}
	select {
	case client.send <- frame:
	default:
		logs.Logger.Warn("WebSocket client channel full, dropping message")
	}
}

func HandleWebSocket(hub *WebSocketHub, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 64),
		subscribed: make(map[string]bool),
	}
	select {
	case client.hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump handles subscription requests from the client
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logs.Logger.WithError(err).Warn("WebSocket error")
			}
			break
		}

		var req request
		if err := json.Unmarshal(message, &req); err != nil || req.Topic == "" {
			continue
		}
		switch req.Type {
		case "subscribe":
			c.mu.Lock()
			c.subscribed[req.Topic] = true
			c.mu.Unlock()
			logs.Logger.WithField("topic", req.Topic).Debug("Client subscribed")

			c.hub.mu.RLock()
			if frame := c.hub.latest[req.Topic]; frame != nil && c.hub.clients[c] {
				deliver(c, frame)
			}
			c.hub.mu.RUnlock()
		case "unsubscribe":
			c.mu.Lock()
			delete(c.subscribed, req.Topic)
			c.mu.Unlock()
			logs.Logger.WithField("topic", req.Topic).Debug("Client unsubscribed")
		}
	}
}

// writePump handles outgoing messages to the client
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
