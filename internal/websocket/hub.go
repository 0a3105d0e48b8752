// Package websocket provides WebSocket connection management and message broadcasting.
package websocket

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// envelope is one outbound message plus the assignees it concerns.
type envelope struct {
	data      []byte
	assignees []string
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages to fan out
	broadcast chan envelope

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop until ctx is done.
// This should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("total", total).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("total", total).Msg("websocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.assignees) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client send buffer full, drop the connection
					client.close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(message []byte) {
	h.publish(envelope{data: message})
}

// BroadcastFor sends a message to clients subscribed to any of the assignees,
// and to clients without a subscription filter.
func (h *Hub) BroadcastFor(message []byte, assignees ...string) {
	h.publish(envelope{data: message, assignees: assignees})
}

func (h *Hub) publish(msg envelope) {
	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Msg("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	send chan []byte

	mu        sync.RWMutex
	assignees map[string]bool
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub) *Client {
	return &Client{
		hub:       hub,
		send:      make(chan []byte, 256),
		assignees: make(map[string]bool),
	}
}

// Send returns the send channel for the client.
func (c *Client) Send() chan []byte {
	return c.send
}

// Reply queues a direct response to this client. It reports false when
// the client is gone or its buffer is full.
func (c *Client) Reply(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Subscribe restricts scoped messages to the given assignees.
func (c *Client) Subscribe(assignees ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range assignees {
		c.assignees[a] = true
	}
}

// Unsubscribe removes assignees from the filter. With no arguments the
// filter is cleared and the client receives everything again.
func (c *Client) Unsubscribe(assignees ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(assignees) == 0 {
		c.assignees = make(map[string]bool)
		return
	}
	for _, a := range assignees {
		delete(c.assignees, a)
	}
}

// Subscriptions returns the current assignee filter.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.assignees))
	for a := range c.assignees {
		out = append(out, a)
	}
	return out
}

func (c *Client) wants(assignees []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.assignees) == 0 || len(assignees) == 0 {
		return true
	}
	for _, a := range assignees {
		if c.assignees[a] {
			return true
		}
	}
	return false
}
