package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"landflow/internal/models"
	pub "landflow/pkg/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // admin UI is served from another origin in development
	},
}

// Client represents a connected WebSocket client. clientID scopes which
// tenant's events it receives.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	clientID uint
}

type outbound struct {
	clientID uint
	payload  []byte
}

// Hub maintains the set of active clients and fans tenant events out to
// them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("module", "ws")),
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", zap.Uint("client_id", client.clientID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", zap.Uint("client_id", client.clientID))
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.clientID != msg.clientID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastEvent queues an event for one tenant. It never blocks: when the
// queue is full the event is dropped.
func (h *Hub) BroadcastEvent(clientID uint, eventType string, data interface{}) {
	payload, err := json.Marshal(pub.Event{Type: eventType, Data: data})
	if err != nil {
		h.logger.Error("marshal websocket event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{clientID: clientID, payload: payload}:
	default:
		h.logger.Warn("websocket queue full, dropping event", zap.String("type", eventType))
	}
}

// NotifyTask implements automation.Notifier.
func (h *Hub) NotifyTask(task models.ScheduledTask) {
	h.BroadcastEvent(task.ClientID, pub.EventTaskUpdate, pub.TaskEvent{
		TaskID:       task.ID,
		ClientID:     task.ClientID,
		TaskType:     task.TaskType,
		Status:       task.Status,
		Result:       task.Result,
		ScheduledFor: task.ScheduledFor,
		ExecutedAt:   task.ExecutedAt,
	})
}

func (h *Hub) NotifyLead(ev pub.LeadEvent) {
	h.BroadcastEvent(ev.ClientID, pub.EventLeadCaptured, ev)
}

// ServeWs upgrades the request. The tenant comes from ?client_id= since
// browsers cannot set headers on websocket requests.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("client_id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "missing client_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), clientID: uint(id)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		// clients only send pings; anything else is ignored
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
