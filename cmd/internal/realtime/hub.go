// Package realtime is the websocket gateway: authenticated connections,
// per-user rooms and the event loop that relays direct messages.
package realtime

import (
	"log/slog"
	"slices"
	"sync"

	"instant/cmd/internal/metrics"
	v1 "instant/shared/contracts/realtime/v1"
)

// Hub groups connected clients into named rooms. A user's connections share
// the room named after the user id.
//
// Join, Leave and Emit are safe for concurrent use. Emit never blocks: a
// member whose queue is full misses the envelope.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]map[string]*Client // room -> session id -> client
	sessions map[string]map[string]struct{} // session id -> rooms
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		rooms:    make(map[string]map[string]*Client),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Join adds client to room.
func (h *Hub) Join(room string, client *Client) {
	if room == "" || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[client.SessionID] = client

	joined, ok := h.sessions[client.SessionID]
	if !ok {
		joined = make(map[string]struct{})
		h.sessions[client.SessionID] = joined
	}
	joined[room] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("ws.room.join", "room", room, "session_id", client.SessionID)
}

// Leave removes a session from room.
func (h *Hub) Leave(room, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, sessionID)
}

// LeaveAll removes a session from every room it joined.
func (h *Hub) LeaveAll(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.sessions[sessionID] {
		h.leaveLocked(room, sessionID)
	}
}

func (h *Hub) leaveLocked(room, sessionID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.sessions[sessionID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// Rooms returns the rooms a session is in, sorted.
func (h *Hub) Rooms(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions[sessionID]))
	for room := range h.sessions[sessionID] {
		out = append(out, room)
	}
	slices.Sort(out)
	return out
}

// Size returns the number of sessions in room.
func (h *Hub) Size(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Emit fans env out to every member of room and returns how many accepted it.
func (h *Hub) Emit(room string, env v1.Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, m := range h.rooms[room] {
		if m.offer(env) {
			delivered++
			continue
		}
		metrics.WSDropped.Inc()
	}
	return delivered
}
