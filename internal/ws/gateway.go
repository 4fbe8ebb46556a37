package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"trip-chat-service/internal/chat"
	"trip-chat-service/internal/models"
	"trip-chat-service/internal/observability"
	"trip-chat-service/internal/presence"
)

// ProfileLoader hydrates sender display data on outbound messages.
type ProfileLoader interface {
	GetMemberProfile(ctx context.Context, userID int) (models.MemberProfile, error)
}

// Gateway is the single entry point for inbound room events. It validates,
// dispatches to the session manager / typing tracker / chat service, and
// emits outbound events to room subscribers. Errors go back to the
// originating session only.
//
// Sends are not idempotent: a duplicate send produces a duplicate message.
// The client_request_id is echoed on the broadcast so clients can reconcile
// optimistic entries; there is no server-side dedupe window.
type Gateway struct {
	hub      *Hub
	sessions *SessionManager
	service  *chat.Service
	typing   *presence.TypingTracker
	profiles ProfileLoader
}

// NewGateway constructs a Gateway.
func NewGateway(hub *Hub, sessions *SessionManager, service *chat.Service, typing *presence.TypingTracker, profiles ProfileLoader) *Gateway {
	return &Gateway{hub: hub, sessions: sessions, service: service, typing: typing, profiles: profiles}
}

// Dispatch routes one inbound frame from a session.
func (g *Gateway) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var ev models.ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		g.sendError(s, "bad_event", "malformed event payload", false, "")
		return
	}

	switch ev.Type {
	case models.ClientEventSend:
		g.handleSend(ctx, s, ev)
	case models.ClientEventTyping:
		g.typing.MarkTyping(s.TripID, s.UserID)
	case models.ClientEventLeave:
		g.sessions.Leave(s)
		s.Close()
	default:
		g.sendError(s, "unknown_event", "unknown event type: "+ev.Type, false, ev.ClientRequestID)
	}
	observability.IncWSEvent("trip", ev.Type)
}

func (g *Gateway) handleSend(ctx context.Context, s *Session, ev models.ClientEvent) {
	_, err := g.Send(ctx, s.TripID, s.UserID, ev.Content, ev.MessageType, ev.ReplyTo, ev.ClientRequestID)
	if err == nil {
		return
	}

	var validation *chat.ValidationError
	var store *chat.StoreError
	switch {
	case errors.As(err, &validation):
		g.sendError(s, "validation_error", validation.Reason, false, ev.ClientRequestID)
	case errors.Is(err, chat.ErrNotAMember):
		g.sendError(s, "not_a_member", "sender is not a member of this trip", false, ev.ClientRequestID)
	case errors.As(err, &store):
		g.sendError(s, "store_unavailable", "message could not be stored, retry", true, ev.ClientRequestID)
	default:
		g.sendError(s, "internal", "internal error", true, ev.ClientRequestID)
	}
}

// Send runs the shared send path: clear the sender's typing state, append
// through the chat service, hydrate the sender profile and broadcast to
// every session of the trip. Also used by the REST handler.
func (g *Gateway) Send(ctx context.Context, tripID int, userID int, content string, messageType string, replyTo *int, clientRequestID string) (models.MessagePayload, error) {
	g.typing.ClearTyping(tripID, userID)

	msg, err := g.service.Send(ctx, tripID, userID, content, messageType, replyTo)
	if err != nil {
		return models.MessagePayload{}, err
	}

	payload := g.hydrate(ctx, msg)
	g.hub.Broadcast(tripID, models.ChatEvent{
		Type:            models.EventMessage,
		TripID:          tripID,
		Message:         &payload,
		ClientRequestID: clientRequestID,
	})
	observability.IncMessageStored()
	return payload, nil
}

func (g *Gateway) hydrate(ctx context.Context, msg models.Message) models.MessagePayload {
	payload := models.MessagePayload{Message: msg}
	if g.profiles == nil {
		return payload
	}
	profile, err := g.profiles.GetMemberProfile(ctx, msg.SenderID)
	if err != nil {
		log.Printf("sender profile lookup failed for user %d: %v", msg.SenderID, err)
		return payload
	}
	payload.SenderName = profile.Name
	payload.SenderImageURL = profile.ImageURL
	return payload
}

func (g *Gateway) sendError(s *Session, code, message string, retryable bool, clientRequestID string) {
	g.hub.SendTo(s, models.ChatEvent{
		Type:            models.EventError,
		TripID:          s.TripID,
		Error:           &models.ErrorInfo{Code: code, Message: message, Retryable: retryable},
		ClientRequestID: clientRequestID,
	})
}

// TypingStarted implements presence.Notifier.
func (g *Gateway) TypingStarted(tripID int, userID int) {
	g.hub.Broadcast(tripID, models.ChatEvent{Type: models.EventTypingStart, TripID: tripID, UserID: userID})
	observability.IncTypingEvent("start")
}

// TypingStopped implements presence.Notifier.
func (g *Gateway) TypingStopped(tripID int, userID int) {
	g.hub.Broadcast(tripID, models.ChatEvent{Type: models.EventTypingStop, TripID: tripID, UserID: userID})
	observability.IncTypingEvent("stop")
}
