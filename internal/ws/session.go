package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sendQueueSize bounds the per-session outbound queue. A session that
// cannot drain it in time is disconnected rather than allowed to block the
// broadcaster.
const sendQueueSize = 64

// ConnInfo carries transport-level identity attached to a session for
// observability events.
type ConnInfo struct {
	DeviceID  string
	IP        string
	RequestID string
	TraceID   string
}

// Session is one live connection of a user to a trip room. A user may hold
// several sessions at once (tabs, devices); each gets its own id and
// outbound queue.
type Session struct {
	ID       string
	TripID   int
	UserID   int
	JoinedAt time.Time
	Info     ConnInfo

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	leaveOnce sync.Once
}

// NewSession creates a session with a fresh id and an empty outbound queue.
func NewSession(tripID int, userID int) *Session {
	return &Session{
		ID:       uuid.NewString(),
		TripID:   tripID,
		UserID:   userID,
		JoinedAt: time.Now(),
		send:     make(chan []byte, sendQueueSize),
		closed:   make(chan struct{}),
	}
}

// enqueue hands a payload to the session without blocking. A full queue
// closes the session: delivery is at-most-once and a slow consumer is
// disconnected.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		s.Close()
		return false
	}
}

// Close marks the session closed. Safe to call from any goroutine, any
// number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Done is closed when the session is shut down.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}
