package presence

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays alive without a
// fresh signal.
const DefaultTypingTTL = 3 * time.Second

// Notifier receives typing transitions. Implemented by the websocket
// gateway, which broadcasts them to the room. Callbacks run inside the
// tracker's critical section so emission order always matches transition
// order; implementations must not call back into the tracker.
type Notifier interface {
	TypingStarted(tripID int, userID int)
	TypingStopped(tripID int, userID int)
}

// TypingTracker holds short-lived per-(trip, user) typing state. Repeated
// signals inside the TTL window refresh the expiry without re-broadcasting;
// entries that outlive their expiry are swept and reported as stopped, so
// indicators self-heal when a client disconnects mid-type.
type TypingTracker struct {
	mu       sync.Mutex
	rooms    map[int]map[int]time.Time // tripID -> userID -> expiresAt
	ttl      time.Duration
	notifier Notifier
	now      func() time.Time
}

// NewTypingTracker constructs a tracker with the given TTL. A zero ttl
// falls back to DefaultTypingTTL.
func NewTypingTracker(ttl time.Duration, notifier Notifier) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		rooms:    make(map[int]map[int]time.Time),
		ttl:      ttl,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetNotifier wires the broadcast target after construction. The tracker
// and the gateway reference each other, so one side is attached late.
func (t *TypingTracker) SetNotifier(n Notifier) {
	t.mu.Lock()
	t.notifier = n
	t.mu.Unlock()
}

// MarkTyping (re)sets the user's typing expiry. Notifies a start only on
// the not-typing to typing transition.
func (t *TypingTracker) MarkTyping(tripID int, userID int) {
	t.mu.Lock()
	users, ok := t.rooms[tripID]
	if !ok {
		users = make(map[int]time.Time)
		t.rooms[tripID] = users
	}
	expiry, wasTyping := users[userID]
	now := t.now()
	stillActive := wasTyping && expiry.After(now)
	users[userID] = now.Add(t.ttl)
	if !stillActive && t.notifier != nil {
		t.notifier.TypingStarted(tripID, userID)
	}
	t.mu.Unlock()
}

// ClearTyping removes the user's typing entry, notifying a stop iff the
// entry was still live. Called on message send and on last-session leave.
func (t *TypingTracker) ClearTyping(tripID int, userID int) {
	t.mu.Lock()
	users, ok := t.rooms[tripID]
	var wasActive bool
	if ok {
		expiry, present := users[userID]
		wasActive = present && expiry.After(t.now())
		delete(users, userID)
		if len(users) == 0 {
			delete(t.rooms, tripID)
		}
	}
	if wasActive && t.notifier != nil {
		t.notifier.TypingStopped(tripID, userID)
	}
	t.mu.Unlock()
}

// Run sweeps expired entries until ctx is cancelled.
func (t *TypingTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				log.Printf("typing sweep evicted %d entries", n)
			}
		}
	}
}

// Sweep evicts every expired entry and notifies a stop for each. Returns
// the number of evictions.
func (t *TypingTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	evicted := 0
	for tripID, users := range t.rooms {
		for userID, expiry := range users {
			if !expiry.After(now) {
				delete(users, userID)
				evicted++
				if t.notifier != nil {
					t.notifier.TypingStopped(tripID, userID)
				}
			}
		}
		if len(users) == 0 {
			delete(t.rooms, tripID)
		}
	}
	return evicted
}
