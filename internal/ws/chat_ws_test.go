package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trip-chat-service/internal/chat"
	"trip-chat-service/internal/mocks"
	"trip-chat-service/internal/models"
	"trip-chat-service/internal/presence"
)

type handshakeCtxKey struct{}

func TestHandshakePassesRequestContextToJoin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	auth := new(mocks.TokenValidatorMock)
	auth.On("ValidateToken", mock.Anything, "tok").Return(10, nil)

	trips := new(mocks.TripClientMock)
	joinCtx := make(chan context.Context, 1)
	trips.On("IsTripMember", mock.Anything, 1, 10).Run(func(args mock.Arguments) {
		joinCtx <- args.Get(0).(context.Context)
	}).Return(true, nil).Once()

	hub := NewHub()
	registry := presence.NewRegistry()
	typing := presence.NewTypingTracker(presence.DefaultTypingTTL, nil)
	service := chat.NewService(new(mocks.MessageRepositoryMock), trips)
	manager := NewSessionManager(hub, registry, typing, trips)
	gateway := NewGateway(hub, manager, service, typing, trips)
	typing.SetNotifier(gateway)
	handler := NewChatWebSocketHandler(hub, manager, gateway, auth)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), handshakeCtxKey{}, "req-scope"))
	})
	router.GET("/ws/trips/:trip_id", handler.Handle)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/trips/1?token=tok"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The presence snapshot confirms the join completed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.ChatEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventPresence, ev.Type)

	select {
	case ctx := <-joinCtx:
		assert.Equal(t, "req-scope", ctx.Value(handshakeCtxKey{}),
			"membership check must run on the request's context, not a detached one")
	case <-time.After(2 * time.Second):
		t.Fatal("membership check was never reached")
	}
}
