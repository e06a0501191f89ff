package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway terminates auth; origin checks happen there
		return true
	},
}

// Server handles WebSocket subscriptions
type Server struct {
	hub *Hub
}

// NewServer creates a new Server instance
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// HandleWebSocket handles WebSocket upgrade and registration. A holder
// subscribes to their own settlement events with ?holder=, or to a
// vault's governance outcomes with ?vault=. Without either, the
// X-Holder-ID header subscribes the caller to their own events.
// URL: /ws?holder=holder-42 or /ws?vault=<vault-uuid>
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	topic, err := topicFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := NewClient(s.hub, conn, topic)
	s.hub.register <- client

	log.Printf("New WebSocket connection: kind=%s id=%s remote=%s", topic.Kind, topic.ID, r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

func topicFromRequest(r *http.Request) (Topic, error) {
	if vaultID := r.URL.Query().Get("vault"); vaultID != "" {
		return Topic{Kind: KindVault, ID: vaultID}, nil
	}

	holderID := r.URL.Query().Get("holder")
	if holderID == "" {
		holderID = r.Header.Get("X-Holder-ID")
	}
	if holderID == "" {
		return Topic{}, errors.New("holder or vault query parameter required")
	}

	return Topic{Kind: KindHolder, ID: holderID}, nil
}

// HandleStats reports live subscription counts
// GET /api/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	counts := s.hub.GetTopicCounts()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"connections":   s.hub.GetConnectionCount(),
		"holder_topics": counts[KindHolder],
		"vault_topics":  counts[KindVault],
	})
}
