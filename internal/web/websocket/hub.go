package websocket

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Send chan []byte
	Hub  *Hub

	once    sync.Once
	closeCh chan struct{}
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients, owned by Run
	clients map[*Client]bool

	// Channel for broadcasting messages to all clients
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	log *logrus.Logger

	mu    sync.Mutex
	count int
}

// NewHub creates a new Hub instance
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's message handling loop until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.log.WithFields(logrus.Fields{
				"component": "websocket",
				"client":    client.ID,
				"clients":   len(h.clients),
			}).Info("New client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.log.WithFields(logrus.Fields{
					"component": "websocket",
					"client":    client.ID,
					"clients":   len(h.clients),
				}).Info("Client disconnected")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// slow client, drop it
					h.remove(client)
				}
			}
		}
	}
}

// remove must only be called from Run
func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Close detaches a client from the hub
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closeCh)
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
	})
}
