package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ericfisherdev/myaipanel/internal/domain/port/driven"
)

const (
	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// clientSendBuffer bounds the per-client event queue. Events beyond it
	// are dropped; the stream is advisory and clients re-query state.
	clientSendBuffer = 32
)

// Event is the envelope pushed to connected clients for every published
// change notification.
type Event struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Payload any    `json:"payload,omitempty"`
	At      string `json:"at"`
}

// EventHub bridges the notification bus to the UI shell: it implements
// driven.Notifier and fans every published event out to all connected
// websocket clients. Publish never blocks the mutation path.
type EventHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

var _ driven.Notifier = (*EventHub)(nil)

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates an EventHub with no connected clients.
func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The listener is loopback-only; the desktop shell connects
			// with an app:// or file:// origin that would fail the
			// same-origin default.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*eventClient]struct{}),
	}
}

// Publish implements driven.Notifier. The event is serialized once and
// queued to every connected client; clients with a full queue miss it.
func (h *EventHub) Publish(topic string, payload any) {
	event := Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		Payload: payload,
		At:      time.Now().UTC().Format(time.RFC3339Nano),
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("could not encode event", "topic", topic, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// ClientCount reports how many clients are connected.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleEvents upgrades the request to a websocket and streams events until
// the client disconnects or stops answering pings.
func (h *EventHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &eventClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("event stream connected", "clients", count)

	go h.writePump(client)
	h.readPump(client)
}

// drop removes the client and closes its queue exactly once. Safe to call
// from both pumps.
func (h *EventHub) drop(client *eventClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	if present {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	_ = client.conn.Close()
	if present {
		h.logger.Info("event stream disconnected", "clients", count)
	}
}

// readPump discards inbound frames and enforces the pong deadline. The
// stream is one-way; reads exist only to notice the client going away.
func (h *EventHub) readPump(client *eventClient) {
	defer h.drop(client)

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump flushes the client's queue and keeps the connection alive with
// periodic pings.
func (h *EventHub) writePump(client *eventClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(client)
	}()

	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
