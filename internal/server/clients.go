// Package server handles WebSocket connections, HTTP print endpoints, and job queueing.
package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ClientRegistry manages connected WebSocket clients thread-safely.
// Each client is tracked with its remote address for rate limiting.
type ClientRegistry struct {
	clients map[*websocket.Conn]string
	mu      sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*websocket.Conn]string),
	}
}

// Add registers a new client connection
func (r *ClientRegistry) Add(conn *websocket.Conn, remoteAddr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn] = remoteAddr
}

// Remove unregisters a client connection
func (r *ClientRegistry) Remove(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, conn)
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Addr returns the remote address a client connected from
func (r *ClientRegistry) Addr(conn *websocket.Conn) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[conn]
}

// ForEach executes a function for each connected client
func (r *ClientRegistry) ForEach(fn func(*websocket.Conn)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for conn := range r.clients {
		fn(conn)
	}
}
