package ws

import (
	"context"

	"trip-chat-service/internal/chat"
	"trip-chat-service/internal/models"
	"trip-chat-service/internal/observability"
	"trip-chat-service/internal/presence"
)

// SessionManager owns the join/leave protocol: it mediates between the
// presence registry, the typing tracker and the hub so presence deltas go
// out only on true first-join/last-leave edges.
type SessionManager struct {
	hub      *Hub
	registry *presence.Registry
	typing   *presence.TypingTracker
	members  chat.MembershipChecker
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(hub *Hub, registry *presence.Registry, typing *presence.TypingTracker, members chat.MembershipChecker) *SessionManager {
	return &SessionManager{hub: hub, registry: registry, typing: typing, members: members}
}

// Join validates trip membership and registers the session. The online
// delta goes to the already-joined sessions before the joiner is added to
// the hub; the joiner itself receives the full snapshot, which already
// includes them.
func (m *SessionManager) Join(ctx context.Context, s *Session) error {
	member, err := m.members.IsTripMember(ctx, s.TripID, s.UserID)
	if err != nil {
		return err
	}
	if !member {
		return chat.ErrNotAMember
	}

	newlyOnline := m.registry.AddSession(s.TripID, s.UserID, s.ID)
	if newlyOnline {
		online := true
		m.hub.Broadcast(s.TripID, models.ChatEvent{
			Type:   models.EventPresenceDelta,
			TripID: s.TripID,
			UserID: s.UserID,
			Online: &online,
		})
	}

	m.hub.Register(s)
	m.hub.SendTo(s, models.ChatEvent{
		Type:          models.EventPresence,
		TripID:        s.TripID,
		OnlineUserIDs: m.registry.OnlineUsers(s.TripID),
	})

	observability.IncPresenceSessions()
	return nil
}

// Leave tears the session down exactly once, no matter how many disconnect
// signals observe it (read error, close frame, explicit leave event). The
// offline delta and the typing clear fire only when the user's last session
// goes away.
func (m *SessionManager) Leave(s *Session) {
	s.leaveOnce.Do(func() {
		m.hub.Unregister(s)
		wentOffline := m.registry.RemoveSession(s.TripID, s.UserID, s.ID)
		observability.DecPresenceSessions()
		if !wentOffline {
			return
		}

		m.typing.ClearTyping(s.TripID, s.UserID)
		online := false
		m.hub.Broadcast(s.TripID, models.ChatEvent{
			Type:   models.EventPresenceDelta,
			TripID: s.TripID,
			UserID: s.UserID,
			Online: &online,
		})
	})
}
