package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trip-chat-service/internal/chat"
	"trip-chat-service/internal/models"
	"trip-chat-service/internal/repositories"
	"trip-chat-service/internal/telemetry"
)

type tripClient interface {
	IsTripMember(ctx context.Context, tripID int, userID int) (bool, error)
	BulkProfiles(ctx context.Context, ids []int) ([]models.MemberProfile, error)
}

type messageSender interface {
	Send(ctx context.Context, tripID int, userID int, content string, messageType string, replyTo *int, clientRequestID string) (models.MessagePayload, error)
}

// MessageHandler serves trip chat history and REST sends.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	trips       tripClient
	sender      messageSender
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(messageRepo repositories.MessageRepository, trips tripClient, sender messageSender, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		messageRepo: messageRepo,
		trips:       trips,
		sender:      sender,
		audit:       audit,
	}
}

// GetTripMessages returns a chronological page of trip messages. The
// optional before cursor requests messages strictly older than it; the
// limit is clamped server-side.
func (h *MessageHandler) GetTripMessages(c *gin.Context) {
	tripID, err := strconv.Atoi(c.Param("trip_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.trips.IsTripMember(c.Request.Context(), tripID, userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "membership check failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a trip member"})
		return
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		before = &parsed
	}

	limit := repositories.DefaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	msgs, err := h.messageRepo.ListBefore(c.Request.Context(), tripID, before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	profileByID := map[int]models.MemberProfile{}
	if len(senderIDs) > 0 {
		profiles, err := h.trips.BulkProfiles(c.Request.Context(), senderIDs)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load senders"})
			return
		}
		for _, p := range profiles {
			profileByID[p.ID] = p
		}
	}

	resp := make([]models.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		profile := profileByID[m.SenderID]
		resp = append(resp, models.MessagePayload{
			Message:        m,
			SenderName:     profile.Name,
			SenderImageURL: profile.ImageURL,
		})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// PostTripMessage appends and broadcasts a message through the same path
// the websocket gateway uses.
func (h *MessageHandler) PostTripMessage(c *gin.Context) {
	tripID, err := strconv.Atoi(c.Param("trip_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	var req struct {
		Content         string `json:"content" binding:"required"`
		MessageType     string `json:"message_type"`
		ReplyTo         *int   `json:"reply_to"`
		ClientRequestID string `json:"client_request_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	payload, err := h.sender.Send(c.Request.Context(), tripID, userID, req.Content, req.MessageType, req.ReplyTo, req.ClientRequestID)
	if err != nil {
		var validation *chat.ValidationError
		var store *chat.StoreError
		switch {
		case errors.As(err, &validation):
			h.emitAudit(c, "ERROR", "invalid message")
			c.JSON(http.StatusBadRequest, gin.H{"error": validation.Reason})
		case errors.Is(err, chat.ErrNotAMember):
			h.emitAudit(c, "ERROR", "not allowed")
			c.JSON(http.StatusForbidden, gin.H{"error": "not a trip member"})
		case errors.As(err, &store):
			h.emitAudit(c, "ERROR", "store unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message store unavailable, retry"})
		default:
			h.emitAudit(c, "ERROR", "internal error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}

	h.emitAudit(c, "INFO", "Trip message sent")
	c.JSON(http.StatusCreated, payload)
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
