// Package ws streams run progress to browsers. Clients subscribe to a
// conversation and receive every event emitted while its workflows run;
// inbound frames other than pings are ignored.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"fragmentforge/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types pushed to subscribers.
const (
	EventRouting      = "routing"
	EventRunProgress  = "run_progress"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// Event is the frame sent to subscribers of a conversation.
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Hub maintains subscriber connections grouped by conversation ID.
type Hub struct {
	rooms map[string]map[*client]bool

	register   chan *client
	unregister chan *client
	events     chan Event
	shutdown   chan struct{}

	mu sync.RWMutex
}

type client struct {
	conn           *websocket.Conn
	conversationID string
	send           chan []byte
	hub            *Hub
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients authenticate with a JWT before upgrading; the
		// Origin header carries no extra trust here.
		return true
	},
}

// NewHub creates an empty hub. Call Run on its own goroutine.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		events:     make(chan Event, 64),
		shutdown:   make(chan struct{}),
	}
}

// Run is the hub's main loop; it exits after Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.rooms = make(map[string]map[*client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.conversationID] == nil {
				h.rooms[c.conversationID] = make(map[*client]bool)
			}
			h.rooms[c.conversationID][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if room := h.rooms[c.conversationID]; room != nil {
				if room[c] {
					delete(room, c)
					close(c.send)
				}
				if len(room) == 0 {
					delete(h.rooms, c.conversationID)
				}
			}
			h.mu.Unlock()

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// Shutdown stops the hub and closes all subscriber connections.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

// Broadcast queues an event for every subscriber of the conversation.
// Safe to call from any goroutine; drops the event if the hub is gone.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case h.events <- ev:
	case <-h.shutdown:
	}
}

func (h *Hub) deliver(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logging.L().Error("failed to marshal ws event", zap.Error(err))
		return
	}

	h.mu.RLock()
	room := h.rooms[ev.ConversationID]
	stale := make([]*client, 0)
	for c := range room {
		select {
		case c.send <- payload:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	// Slow consumers are disconnected rather than blocking the loop.
	h.mu.Lock()
	for _, c := range stale {
		if room := h.rooms[c.conversationID]; room != nil && room[c] {
			delete(room, c)
			close(c.send)
		}
	}
	h.mu.Unlock()
}

// SubscriberCount reports connected clients for one conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// HandleWebSocket upgrades the request and subscribes it to the
// conversation named by the conversation_id query parameter.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		conn:           conn,
		conversationID: conversationID,
		send:           make(chan []byte, 256),
		hub:            h,
	}
	h.register <- cl

	go cl.writePump()
	go cl.readPump()
}
