package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"trip-chat-service/internal/chat"
	"trip-chat-service/internal/clients"
	"trip-chat-service/internal/models"
	"trip-chat-service/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChatWebSocketHandler upgrades trip chat connections and runs their
// read/write pumps.
type ChatWebSocketHandler struct {
	hub     *Hub
	manager *SessionManager
	gateway *Gateway
	auth    clients.TokenValidator
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, manager *SessionManager, gateway *Gateway, auth clients.TokenValidator) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{hub: hub, manager: manager, gateway: gateway, auth: auth}
}

// Handle upgrades the connection and joins the trip room. Opening the
// socket is the join; closing it (or an explicit leave event) is the leave.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	tripID, err := strconv.Atoi(c.Param("trip_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	ctx, span := otel.Tracer("trip-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s := NewSession(tripID, userID)
	s.Info = ConnInfo{
		DeviceID:  observability.DeviceIDFromRequest(c.Request),
		IP:        observability.IPFromRequest(c.Request),
		RequestID: observability.RequestIDFromRequest(c.Request),
		TraceID:   span.SpanContext().TraceID().String(),
	}

	if err := h.manager.Join(ctx, s); err != nil {
		code := "internal"
		msg := "could not join room"
		if errors.Is(err, chat.ErrNotAMember) {
			code = "not_a_member"
			msg = "user is not a member of this trip"
		}
		h.hub.SendTo(s, models.ChatEvent{
			Type:   models.EventError,
			TripID: tripID,
			Error:  &models.ErrorInfo{Code: code, Message: msg},
		})
		go h.writePump(conn, s)
		s.Close()
		return
	}

	observability.IncWSActive("trip")
	observability.IncWSEvent("trip", "ws_connect")
	h.publishLifecycleEvent(ctx, s, "ws_connect", "")

	go h.writePump(conn, s)
	go h.readPump(ctx, conn, s)
}

func (h *ChatWebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, s *Session) {
	var closeReason string
	defer func() {
		h.manager.Leave(s)
		s.Close()
		conn.Close()
		observability.DecWSActive("trip")
		observability.IncWSEvent("trip", "ws_disconnect")
		h.publishLifecycleEvent(ctx, s, "ws_disconnect", closeReason)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("trip", "ws_error")
				h.publishLifecycleEvent(ctx, s, "ws_error", closeReason)
			}
			return
		}
		h.gateway.Dispatch(ctx, s, raw)
	}
}

func (h *ChatWebSocketHandler) writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.closed:
			// Drain anything already queued before closing.
			for {
				select {
				case payload := <-s.send:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = conn.WriteMessage(websocket.TextMessage, payload)
					continue
				default:
				}
				break
			}
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (h *ChatWebSocketHandler) publishLifecycleEvent(ctx context.Context, s *Session, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "trip",
			"resource_id": s.TripID,
			"event":       event,
			"session_id":  s.ID,
			"duration_ms": time.Since(s.JoinedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   s.UserID,
			"device_id": s.Info.DeviceID,
			"ip":        s.Info.IP,
		},
	}

	headers := observability.BuildHeaders(s.Info.RequestID, s.Info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.trips", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

func (h *ChatWebSocketHandler) validateToken(ctx context.Context, header string) (int, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.auth.ValidateToken(ctx, parts[1])
	}
	return 0, errors.New("invalid token")
}
