package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skeetgame-ingest/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client is one connected observer. Observers are read-mostly: the only
// inbound traffic is subscription management for game event kinds.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is an inbound control message from the observer
type ClientMessage struct {
	Type      string `json:"type"`
	EventKind string `json:"event_kind,omitempty"`
}

// NewClient creates a new observer client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger,
	}
}

// readPump reads control messages off the connection until it drops
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			c.sendError("invalid message format")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// handleMessage processes one observer control message. Subscriptions
// are checked against the closed event-kind set so a typo gets an error
// back instead of a subscription that never fires.
func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if msg.EventKind == "" {
			c.sendError("event_kind required")
			return
		}
		if !bus.Kind(msg.EventKind).Valid() {
			c.sendError("unknown event kind " + msg.EventKind)
			return
		}
		if msg.Type == MessageTypeSubscribe {
			c.hub.Subscribe(c, msg.EventKind)
			c.sendAck("subscribed", msg.EventKind)
		} else {
			c.hub.Unsubscribe(c, msg.EventKind)
			c.sendAck("unsubscribed", msg.EventKind)
		}

	case MessageTypePing:
		c.sendControl(Message{Type: MessageTypePong})

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

// writePump drains the send channel onto the connection and keeps the
// peer alive with pings; queued messages are coalesced into one frame
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// sendControl queues a control message, dropping it if the observer's
// buffer is full
func (c *Client) sendControl(msg Message) {
	msg.Timestamp = time.Now()
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(errMsg string) {
	c.sendControl(Message{
		Type: MessageTypeError,
		Data: map[string]string{"error": errMsg},
	})
}

func (c *Client) sendAck(action, kind string) {
	c.sendControl(Message{
		Type:      action,
		EventKind: kind,
		Data:      map[string]string{"status": "ok"},
	})
}

// ServeWs upgrades an observer request and starts its pumps
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.writePump()
	go client.readPump()

	logger.Debug("new observer connection", "client_id", client.id)
}
