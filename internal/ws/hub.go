package ws

import (
	"encoding/json"
	"log"
	"sync"

	"trip-chat-service/internal/models"
)

// Hub maintains the live sessions of each trip room and fans events out to
// them. Delivery is fire-and-forget: payloads are marshalled once and
// enqueued per session; sessions that cannot keep up are closed by their
// own queue.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int]map[*Session]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int]map[*Session]struct{})}
}

// Register adds a session to its trip room.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[s.TripID]; !ok {
		h.rooms[s.TripID] = make(map[*Session]struct{})
	}
	h.rooms[s.TripID][s] = struct{}{}
}

// Unregister removes a session from its trip room. Idempotent.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessions, ok := h.rooms[s.TripID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.rooms, s.TripID)
		}
	}
}

// Broadcast delivers an event to every live session of the trip — all tabs
// and devices, not just distinct users.
func (h *Hub) Broadcast(tripID int, event models.ChatEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.rooms[tripID]))
	for s := range h.rooms[tripID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if !s.enqueue(payload) {
			log.Printf("websocket send queue overflow, dropping session %s", s.ID)
		}
	}
}

// SendTo delivers an event to a single session, bypassing the room. Used
// for snapshots and request-scoped errors.
func (h *Hub) SendTo(s *Session, event models.ChatEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("send marshal error: %v", err)
		return
	}
	s.enqueue(payload)
}

// RoomSize reports the number of live sessions in a trip room.
func (h *Hub) RoomSize(tripID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tripID])
}
