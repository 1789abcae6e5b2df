package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/skeetgame-ingest/internal/bus"
)

// Message types
const (
	MessageTypeGameEvent   = "game_event"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	EventKind string      `json:"event_kind,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of connected observers and fans bus events out
// to them. Observers subscribe per event kind; a message with no kind
// goes to everyone.
type Hub struct {
	// Registered clients by event kind
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	kind   string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("observer hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("observer hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("observer connected", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for kind, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, kind)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("observer disconnected", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.kind]; !ok {
				h.clients[req.kind] = make(map[*Client]bool)
			}
			h.clients[req.kind][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("observer subscribed", "client_id", req.client.id, "event_kind", req.kind)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.kind]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.kind)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("observer unsubscribed", "client_id", req.client.id, "event_kind", req.kind)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to subscribed observers
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	if message.EventKind != "" {
		if clients, ok := h.clients[message.EventKind]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					h.logger.Warn("observer buffer full, skipping", "client_id", client.id)
				}
			}
		}
		return
	}
	for client := range h.allClients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("observer buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastEvent fans one bus event out to observers subscribed to its
// kind. Dropping on a full broadcast channel is acceptable; observers
// are best-effort consumers.
func (h *Hub) BroadcastEvent(ev bus.Event) {
	message := &Message{
		Type:      MessageTypeGameEvent,
		EventKind: string(ev.Kind),
		Data:      ev,
		Timestamp: time.Now(),
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "kind", ev.Kind)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to an event-kind subscription
func (h *Hub) Subscribe(client *Client, kind string) {
	h.subscribe <- &subscriptionRequest{client: client, kind: kind}
}

// Unsubscribe removes a client from an event-kind subscription
func (h *Hub) Unsubscribe(client *Client, kind string) {
	h.unsubscribe <- &subscriptionRequest{client: client, kind: kind}
}

// GetSubscriberCount returns the number of observers for an event kind
func (h *Hub) GetSubscriberCount(kind string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[kind]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected observers
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
