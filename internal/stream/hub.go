// Package stream pushes coordination state to dashboard clients over
// WebSocket. The stream is one-way: the service broadcasts snapshots,
// clients only keep the connection alive.
package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ops-coordination-service/internal/observability/metrics"
)

// Envelope types pushed to stream clients.
const (
	TypeReadiness = "readiness"
	TypeRoster    = "roster"
	TypeVoice     = "voiceSession"
)

// Envelope wraps every message on the stream so clients can dispatch on
// type without sniffing the payload.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans broadcast messages out to all connected stream clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	metrics *metrics.Metrics

	stop chan struct{}
	done chan struct{}
}

// NewHub creates a hub. Run must be called before clients attach.
func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		metrics:    m,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes register, unregister and broadcast events until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-h.stop:
			h.closeAll()
			return
		}
	}
}

// Shutdown stops the hub loop and closes every client connection.
func (h *Hub) Shutdown() {
	close(h.stop)
	<-h.done
}

// Broadcast queues an envelope for delivery to every connected client.
// Dropped when the hub queue is full; the next snapshot supersedes it.
func (h *Hub) Broadcast(envType string, payload any) {
	data, err := json.Marshal(Envelope{Type: envType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("type", envType).Msg("Failed to marshal stream envelope")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Warn().Str("type", envType).Msg("Stream broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.RecordStreamClient(true)
	log.Debug().Str("clientId", client.id).Int("total", total).Msg("Stream client attached")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, exists := h.clients[client]
	if exists {
		delete(h.clients, client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !exists {
		return
	}
	client.close()
	h.metrics.RecordStreamClient(false)
	log.Debug().Str("clientId", client.id).Int("total", total).Msg("Stream client detached")
}

func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.enqueue(message)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.mu.Unlock()
}

// Attach registers a freshly upgraded connection and starts its pumps.
// The returned context ends when the client disconnects.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn) *Client {
	clientCtx, cancel := context.WithCancel(ctx)
	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, clientSendBufferSize),
		hub:    h,
		ctx:    clientCtx,
		cancel: cancel,
	}
	h.register <- client
	client.start()
	return client
}
