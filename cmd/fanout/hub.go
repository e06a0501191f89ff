package main

import (
	"log"
	"sync"
)

// TopicKind distinguishes the two event audiences: a holder receives
// their own settlement and vote events, a vault channel carries
// governance outcomes for every subscriber of that vault.
type TopicKind string

const (
	KindHolder TopicKind = "holder"
	KindVault  TopicKind = "vault"
)

// Valid reports whether the kind is one of the known topic kinds.
func (k TopicKind) Valid() bool {
	return k == KindHolder || k == KindVault
}

// Topic identifies one subscription target: a (kind, id) pair.
type Topic struct {
	Kind TopicKind
	ID   string
}

// Hub maintains active WebSocket connections grouped by topic.
type Hub struct {
	connections map[Topic][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

// Message is one event to fan out to a topic's subscribers
type Message struct {
	Topic Topic
	Data  []byte
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		connections: make(map[Topic][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	log.Println("Hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToTopic(message)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.topic] = append(h.connections[client.topic], client)
	log.Printf("Client registered: kind=%s id=%s total_for_topic=%d",
		client.topic.Kind, client.topic.ID, len(h.connections[client.topic]))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.topic]
	for i, c := range clients {
		if c == client {
			h.connections[client.topic] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.topic]) == 0 {
				delete(h.connections, client.topic)
			}

			log.Printf("Client unregistered: kind=%s id=%s remaining_for_topic=%d",
				client.topic.Kind, client.topic.ID, len(h.connections[client.topic]))
			break
		}
	}
}

// broadcastToTopic sends a message to all connections subscribed to a topic
func (h *Hub) broadcastToTopic(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.Topic]
	if len(clients) == 0 {
		return
	}

	log.Printf("Broadcasting to kind=%s id=%s client_count=%d",
		message.Topic.Kind, message.Topic.ID, len(clients))

	for _, client := range clients {
		select {
		case client.send <- message.Data:
		default:
			// Client's send buffer is full, close the connection
			log.Printf("Client send buffer full, closing connection: kind=%s id=%s",
				client.topic.Kind, client.topic.ID)
			close(client.send)
		}
	}
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// GetTopicCounts returns the number of live topics per kind
func (h *Hub) GetTopicCounts() map[TopicKind]int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	counts := make(map[TopicKind]int)
	for topic := range h.connections {
		counts[topic.Kind]++
	}
	return counts
}
