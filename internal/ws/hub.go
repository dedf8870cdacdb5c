// Package ws fans detection results out to live-feed subscribers.
package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send(payload []byte) error
	Close()
}

// Hub tracks the connected subscribers for the single live stream.
// A subscriber whose Send fails is dropped on the spot.
type Hub struct {
	mu      sync.Mutex
	clients map[Subscriber]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[Subscriber]struct{})}
}

// Register adds a subscriber to the stream.
func (h *Hub) Register(client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		client.Close()
		return
	}
	h.clients[client] = struct{}{}
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

// Broadcast sends payload to every subscriber, dropping the ones that
// fail to accept it.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err := client.Send(payload); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

// Count reports the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects future registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}
