package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the peer
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-client outbound queue length
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is already CORS-open; the WebSocket follows suit.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// RequestFunc handles an inbound client event by name.
type RequestFunc func(c *Client, event string)

// ServeWS upgrades an HTTP request to a WebSocket subscription.
// onConnect, if non-nil, runs once after registration (e.g., to push the
// current status to the new client). onRequest handles inbound events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, onConnect func(*Client), onRequest RequestFunc) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.add(c)

	go c.writePump()
	go c.readPump(onRequest)

	if onConnect != nil {
		onConnect(c)
	}
}

// Send queues an event for this client only. Messages to a slow or closed
// client are dropped.
func (c *Client) Send(event string, payload any) {
	message, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}
	select {
	case c.send <- message:
	case <-c.done:
	default:
	}
}

// close signals the pumps to exit. Safe to call more than once; only the
// hub's event loop calls it, so no extra locking is needed.
func (c *Client) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
		c.conn.Close()
	}
}

// readPump consumes inbound frames and keeps the connection alive via
// pong deadlines. Any read error unregisters the client.
func (c *Client) readPump(onRequest RequestFunc) {
	defer c.hub.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil || ev.Event == "" {
			continue
		}
		if onRequest != nil {
			onRequest(c, ev.Event)
		}
	}
}

// writePump drains the send queue to the connection and pings the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
