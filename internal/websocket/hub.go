package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/orafaelscosta/music/internal/progress"
)

// Client represents a WebSocket client
type Client struct {
	ProjectID string
	Conn      *websocket.Conn
	Send      chan []byte

	closeOnce sync.Once
}

// closeSend closes the outbound channel exactly once. Only the unregister
// path calls it, after the connection's reader has returned, so the reader
// can never send on a closed channel.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// Hub maintains active WebSocket connections per project and fans progress
// events out to them. Events originate in worker processes and arrive over
// the progress bus; the hub is the only relay path to live observers.
type Hub struct {
	// Clients grouped by project ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to project subscribers
	broadcast chan *BroadcastMessage

	relayBackoff time.Duration

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	ProjectID string
	Message   []byte
}

// NewHub creates a new Hub
func NewHub(relayBackoff time.Duration) *Hub {
	return &Hub{
		clients:      make(map[string]map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *BroadcastMessage, 256),
		relayBackoff: relayBackoff,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ProjectID] == nil {
				h.clients[client.ProjectID] = make(map[*Client]bool)
			}
			h.clients[client.ProjectID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for project %s", client.ProjectID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ProjectID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.clients, client.ProjectID)
				}
			}
			h.mu.Unlock()
			client.closeSend()
			log.Printf("Client unregistered from project %s", client.ProjectID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.ProjectID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						// Dead or stalled client; stop delivering to it,
						// keep serving the rest. Its Send stays open until
						// the connection handler unregisters, so the reader
						// can still reply to pings meanwhile.
						delete(clients, client)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.ProjectID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Deliver sends a raw payload to every client watching the project.
func (h *Hub) Deliver(projectID string, payload []byte) {
	h.broadcast <- &BroadcastMessage{
		ProjectID: projectID,
		Message:   payload,
	}
}

// ClientCount returns the number of live clients for a project.
func (h *Hub) ClientCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[projectID])
}

// RunRelay subscribes to the progress bus and forwards every event to the
// clients of the event's project. The subscription is the sole path from
// workers to observers, so on any failure the loop logs, waits the backoff
// and resubscribes, indefinitely, until the context is cancelled.
func (h *Hub) RunRelay(ctx context.Context, subscriber progress.Subscriber) {
	for {
		sub, err := subscriber.Subscribe(ctx)
		if err != nil {
			log.Printf("Progress relay subscribe failed: %v", err)
			if !h.sleepBackoff(ctx) {
				return
			}
			continue
		}

		log.Printf("Progress relay started")
		h.relayMessages(ctx, sub)
		sub.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("Progress relay subscription lost, restarting")
		if !h.sleepBackoff(ctx) {
			return
		}
	}
}

func (h *Hub) relayMessages(ctx context.Context, sub progress.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			h.Deliver(msg.ProjectID, msg.Payload)
		}
	}
}

func (h *Hub) sleepBackoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(h.relayBackoff):
		return true
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, projectID string) {
	client := &Client{
		ProjectID: projectID,
		Conn:      c,
		Send:      make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == "ping" {
			data, _ := json.Marshal(map[string]string{"type": "pong"})
			client.Send <- data
		}
	}
}
