package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"LUCID/go-backend/internal/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

type WebSocketMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type wsClient struct {
	conn     *websocket.Conn
	clientID string
	send     chan WebSocketMessage
}

// Hub fans server events out to every connected websocket client. A client
// that cannot keep up with its send buffer is disconnected.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*wsClient
	maxClients int
	metrics    *services.Metrics
	upgrader   websocket.Upgrader
}

func NewHub(maxClients int, metrics *services.Metrics) *Hub {
	if metrics == nil {
		metrics = services.NewMetrics()
	}
	return &Hub{
		clients:    make(map[string]*wsClient),
		maxClients: maxClients,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast implements monitor.Broadcaster.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	msg := WebSocketMessage{Type: msgType, Payload: payload, Timestamp: time.Now().Unix()}

	var slow []string
	h.mu.RLock()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
			h.metrics.IncrementWebSocketMessages()
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		log.Printf("WebSocket client %s too slow, disconnecting", id)
		h.metrics.IncrementWebSocketErrors()
		h.remove(id)
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.maxClients > 0 && h.Count() >= h.maxClients {
		writeError(w, http.StatusServiceUnavailable, "too many websocket clients")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		h.metrics.IncrementWebSocketErrors()
		return
	}

	client := &wsClient{
		conn:     conn,
		clientID: r.URL.Query().Get("clientId"),
		send:     make(chan WebSocketMessage, sendBuffer),
	}

	h.mu.Lock()
	if _, taken := h.clients[client.clientID]; client.clientID == "" || taken {
		client.clientID = "client-" + uuid.NewString()
	}
	h.clients[client.clientID] = client
	h.mu.Unlock()
	h.metrics.IncrementWebSocketConnections()
	log.Printf("WebSocket client connected: %s", client.clientID)

	client.send <- WebSocketMessage{
		Type:      "WELCOME",
		ClientID:  client.clientID,
		Timestamp: time.Now().Unix(),
		Payload: map[string]interface{}{
			"message": "Connected to Lucid driver monitor",
			"version": "1.0",
		},
	}

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) deliver(c *wsClient, msg WebSocketMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.clientID]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.DecrementWebSocketConnections()
		log.Printf("WebSocket client disconnected: %s", id)
	}
}

func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.remove(client.clientID)
		client.conn.Close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg WebSocketMessage
		err := client.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error for %s: %v", client.clientID, err)
				h.metrics.IncrementWebSocketErrors()
			}
			return
		}

		switch msg.Type {
		case "PING":
			h.deliver(client, WebSocketMessage{
				Type:      "PONG",
				ClientID:  client.clientID,
				Timestamp: time.Now().Unix(),
			})
		default:
			log.Printf("Unknown message type from %s: %s", client.clientID, msg.Type)
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.remove(id)
	}
}
