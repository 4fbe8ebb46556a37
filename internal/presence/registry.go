package presence

import (
	"sort"
	"sync"
)

// Registry tracks which (user, session) pairs are connected to each trip
// room. A user is online in a room iff they have at least one live session
// there; callers use the booleans returned by AddSession/RemoveSession to
// broadcast presence deltas only on the true first-join/last-leave edges.
//
// Each room carries its own mutex so unrelated trips never contend.
type Registry struct {
	mu    sync.Mutex
	rooms map[int]*room
}

type room struct {
	mu       sync.Mutex
	sessions map[string]int // sessionID -> userID
	users    map[int]int    // userID -> live session count
	dead     bool           // evicted from the registry, must not be reused
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int]*room)}
}

func (r *Registry) room(tripID int) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[tripID]
	if !ok {
		rm = &room{sessions: make(map[string]int), users: make(map[int]int)}
		r.rooms[tripID] = rm
	}
	return rm
}

// liveRoom returns the trip's room locked. Eviction marks a room dead under
// its own mutex before removing it from the map, so a caller that raced the
// eviction observes the flag and retries on a fresh room instead of
// mutating the orphan.
func (r *Registry) liveRoom(tripID int) *room {
	for {
		rm := r.room(tripID)
		rm.mu.Lock()
		if !rm.dead {
			return rm
		}
		rm.mu.Unlock()
	}
}

// AddSession registers a session in the trip room. Idempotent per session
// id. Returns true iff this is the user's first live session in the room.
func (r *Registry) AddSession(tripID int, userID int, sessionID string) bool {
	rm := r.liveRoom(tripID)
	defer rm.mu.Unlock()

	if _, exists := rm.sessions[sessionID]; exists {
		return false
	}
	rm.sessions[sessionID] = userID
	rm.users[userID]++
	return rm.users[userID] == 1
}

// RemoveSession removes a session from the trip room. Idempotent; unknown
// sessions are a no-op. Returns true iff this was the user's last live
// session in the room.
func (r *Registry) RemoveSession(tripID int, userID int, sessionID string) bool {
	rm := r.liveRoom(tripID)
	wentOffline := false
	if _, exists := rm.sessions[sessionID]; exists {
		delete(rm.sessions, sessionID)
		rm.users[userID]--
		if rm.users[userID] <= 0 {
			delete(rm.users, userID)
			wentOffline = true
		}
	}
	empty := len(rm.sessions) == 0
	rm.mu.Unlock()

	if empty {
		r.dropIfEmpty(tripID)
	}
	return wentOffline
}

// OnlineUsers returns a sorted snapshot of distinct user ids with at least
// one live session in the trip room.
func (r *Registry) OnlineUsers(tripID int) []int {
	rm := r.liveRoom(tripID)
	users := make([]int, 0, len(rm.users))
	for id := range rm.users {
		users = append(users, id)
	}
	rm.mu.Unlock()

	sort.Ints(users)
	return users
}

// SessionCount reports the number of live sessions in the trip room.
func (r *Registry) SessionCount(tripID int) int {
	rm := r.liveRoom(tripID)
	defer rm.mu.Unlock()
	return len(rm.sessions)
}

// dropIfEmpty evicts the room if it is still empty. Both locks are held for
// the death mark and the map delete, always registry first then room, so a
// concurrent liveRoom either finds the room before the mark (and its
// session blocks the eviction on the re-check) or after (and retries).
func (r *Registry) dropIfEmpty(tripID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[tripID]
	if !ok {
		return
	}
	rm.mu.Lock()
	if len(rm.sessions) == 0 {
		rm.dead = true
		delete(r.rooms, tripID)
	}
	rm.mu.Unlock()
}
