// Package hub fans telemetry events out to WebSocket subscribers.
// Every frame on the wire is a JSON envelope: {"event": ..., "data": ...}.
// Slow clients get messages dropped rather than stalling the publisher.
package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// broadcastBuffer bounds how many pending broadcasts the hub queues before
// dropping. The poll loop publishes at ~2Hz, so a small buffer is plenty.
const broadcastBuffer = 256

// Event is the wire envelope for every WebSocket message, in both
// directions. Inbound client messages carry only the event name.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub maintains the set of active WebSocket clients and broadcasts
// telemetry events to all of them. It implements session.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
}

// New creates a hub. Call Run in a goroutine before serving connections.
func New() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It exits when Stop is called, closing every
// remaining client connection.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Client's buffer is full; drop rather than block
					// the broadcast path.
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Publish marshals the event envelope and broadcasts it to all connected
// clients. Marshal failures and a saturated broadcast queue are logged and
// dropped; publishing never blocks the caller.
func (h *Hub) Publish(event string, payload any) {
	message, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		log.Printf("Broadcast queue full, dropping %s event", event)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
