// Package websocket pushes alerts and status to connected browsers.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pisafe/pisafe/internal/metrics"
	"github.com/rs/zerolog"
)

// AllTopics subscribes a client to every topic
const AllTopics = "*"

// ErrHubClosed is returned by Publish once the hub has stopped
var ErrHubClosed = errors.New("websocket hub closed")

type message struct {
	topic   string
	payload []byte
}

// Envelope wraps every payload sent to a client
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub maintains the set of active clients and routes messages by topic
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	onConnect  func() interface{}
	logger     zerolog.Logger
}

// NewHub creates a new hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With().Str("component", "websocket").Logger(),
	}
}

// OnConnect sets a function whose result is sent to every new client as a
// "status" message
func (h *Hub) OnConnect(fn func() interface{}) {
	h.onConnect = fn
}

// Run routes messages until ctx ends, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WebsocketClients.Inc()
			h.logger.Info().Str("remote", client.remote).Strs("topics", client.topicList()).Msg("WebSocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.subscribed(msg.topic) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					h.logger.Warn().Str("remote", client.remote).Msg("WebSocket client send buffer full, removing")
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	metrics.WebsocketClients.Dec()
	h.logger.Info().Str("remote", client.remote).Msg("WebSocket client unregistered")
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	for client := range h.clients {
		h.remove(client)
	}
	h.mu.Unlock()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends payload to every client subscribed to topic
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	msg, err := json.Marshal(Envelope{Type: "alert", Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	return h.enqueue(ctx, message{topic: topic, payload: msg})
}

// Broadcast sends a typed message to every client regardless of topic
func (h *Hub) Broadcast(ctx context.Context, kind string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Envelope{Type: kind, Payload: payload})
	if err != nil {
		return err
	}
	return h.enqueue(ctx, message{topic: AllTopics, payload: msg})
}

func (h *Hub) enqueue(ctx context.Context, msg message) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS upgrades the request and attaches a client. Topics come from
// the comma-separated "topics" query parameter; none means all.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	client := newClient(h, conn, topics)

	// Queued before registration so it is always the first frame
	if h.onConnect != nil {
		if status, err := json.Marshal(h.onConnect()); err == nil {
			if msg, err := json.Marshal(Envelope{Type: "status", Payload: status}); err == nil {
				client.send <- msg
			}
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
