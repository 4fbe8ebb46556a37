package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"trip-chat-service/internal/models"
	"trip-chat-service/internal/repositories"
)

// MaxContentLength bounds message content in runes.
const MaxContentLength = 4000

// MembershipChecker is the trip-store collaborator surface the chat core
// depends on.
type MembershipChecker interface {
	IsTripMember(ctx context.Context, tripID int, userID int) (bool, error)
}

// Service owns the send path shared by the websocket gateway and the REST
// handler: validate, check membership, append. Broadcasting stays with the
// caller so the store can be tested without sockets.
type Service struct {
	messages repositories.MessageRepository
	members  MembershipChecker
}

// NewService constructs a Service.
func NewService(messages repositories.MessageRepository, members MembershipChecker) *Service {
	return &Service{messages: messages, members: members}
}

// Send validates and appends a message to the trip log. Returns
// *ValidationError for bad content or reply targets, ErrNotAMember for
// senders outside the trip, and *StoreError when persistence fails.
func (s *Service) Send(ctx context.Context, tripID int, senderID int, content string, messageType string, replyTo *int) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, &ValidationError{Reason: "content is empty"}
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return models.Message{}, &ValidationError{Reason: "content exceeds maximum length"}
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	switch messageType {
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile:
	default:
		return models.Message{}, &ValidationError{Reason: "unknown message type"}
	}

	member, err := s.members.IsTripMember(ctx, tripID, senderID)
	if err != nil {
		return models.Message{}, &StoreError{Err: err}
	}
	if !member {
		return models.Message{}, ErrNotAMember
	}

	if replyTo != nil {
		parent, err := s.messages.GetMessage(ctx, *replyTo)
		if err != nil {
			return models.Message{}, &ValidationError{Reason: "reply target not found"}
		}
		if parent.TripID != tripID {
			return models.Message{}, &ValidationError{Reason: "reply target belongs to another trip"}
		}
	}

	msg, err := s.messages.CreateMessage(ctx, tripID, senderID, content, messageType, replyTo)
	if err != nil {
		return models.Message{}, &StoreError{Err: err}
	}
	return msg, nil
}
