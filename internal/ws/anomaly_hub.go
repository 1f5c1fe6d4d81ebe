package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"securo/internal/pipeline"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 16
)

// client is one WebSocket connection with its outbound queue
type client struct {
	conn     *websocket.Conn
	cameraID string // Empty means every camera
	send     chan []byte
}

// AnomalyHub fans anomaly summaries out to WebSocket clients.
// It subscribes to the pipeline EventBus; OnAnomaly never blocks on a slow client.
type AnomalyHub struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

// NewAnomalyHub creates a new anomaly hub
func NewAnomalyHub() *AnomalyHub {
	return &AnomalyHub{
		clients: make(map[*client]bool),
	}
}

// register adds a connection and returns its client
func (h *AnomalyHub) register(conn *websocket.Conn, cameraID string) *client {
	c := &client{conn: conn, cameraID: cameraID, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[WS] Client registered (camera filter %q, total: %d)", cameraID, total)
	return c
}

// unregister removes a client and closes its queue. Safe to call twice.
func (h *AnomalyHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Printf("[WS] Client unregistered (total: %d)", len(h.clients))
	}
}

// OnAnomaly implements pipeline.AnomalyHandler
func (h *AnomalyHub) OnAnomaly(summary *pipeline.AnomalySummary) {
	data, err := json.Marshal(summary)
	if err != nil {
		log.Printf("[WS] Error marshaling anomaly %s: %v", summary.ID, err)
		return
	}
	h.broadcast(summary.CameraID, data)
}

// broadcast queues a message for every matching client. A client whose
// queue is full is dropped.
func (h *AnomalyHub) broadcast(cameraID string, message []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if c.cameraID != "" && c.cameraID != cameraID {
			continue
		}
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("[WS] Dropping slow client")
		h.unregister(c)
	}
}

// ClientCount returns the number of connected clients
func (h *AnomalyHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *AnomalyHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Ensure AnomalyHub can subscribe to the EventBus
var _ pipeline.AnomalyHandler = (*AnomalyHub)(nil)
