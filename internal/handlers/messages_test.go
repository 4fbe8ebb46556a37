package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trip-chat-service/internal/chat"
	"trip-chat-service/internal/mocks"
	"trip-chat-service/internal/models"
	"trip-chat-service/internal/repositories"
)

func setupMessageRouter(userID int) (*gin.Engine, *MessageHandler, *mocks.MessageRepositoryMock, *mocks.TripClientMock, *mocks.MessageSenderMock) {
	gin.SetMode(gin.TestMode)
	repo := new(mocks.MessageRepositoryMock)
	trips := new(mocks.TripClientMock)
	sender := new(mocks.MessageSenderMock)
	handler := NewMessageHandler(repo, trips, sender, nil)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	router.GET("/trips/:trip_id/messages", handler.GetTripMessages)
	router.POST("/trips/:trip_id/messages", handler.PostTripMessage)
	return router, handler, repo, trips, sender
}

func TestGetTripMessagesReturnsHydratedPage(t *testing.T) {
	router, _, repo, trips, _ := setupMessageRouter(10)

	now := time.Now().UTC()
	msgs := []models.Message{
		{ID: 1, TripID: 1, SenderID: 10, Content: "first", Type: "text", CreatedAt: now.Add(-time.Minute)},
		{ID: 2, TripID: 1, SenderID: 20, Content: "second", Type: "text", CreatedAt: now},
	}
	trips.On("IsTripMember", mock.Anything, 1, 10).Return(true, nil).Once()
	repo.On("ListBefore", mock.Anything, 1, (*time.Time)(nil), repositories.DefaultPageLimit).Return(msgs, nil).Once()
	trips.On("BulkProfiles", mock.Anything, []int{10, 20}).Return([]models.MemberProfile{
		{ID: 10, Name: "alice", ImageURL: "http://img/a"},
		{ID: 20, Name: "bob"},
	}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips/1/messages", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Messages []models.MessagePayload `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "first", resp.Messages[0].Content)
	assert.Equal(t, "alice", resp.Messages[0].SenderName)
	assert.Equal(t, "bob", resp.Messages[1].SenderName)
	repo.AssertExpectations(t)
	trips.AssertExpectations(t)
}

func TestGetTripMessagesPassesCursorAndLimit(t *testing.T) {
	router, _, repo, trips, _ := setupMessageRouter(10)

	before := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	trips.On("IsTripMember", mock.Anything, 1, 10).Return(true, nil).Once()
	repo.On("ListBefore", mock.Anything, 1, &before, 25).Return([]models.Message{}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips/1/messages?before=2025-06-01T12:00:00Z&limit=25", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	repo.AssertExpectations(t)
}

func TestGetTripMessagesBadInputs(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"bad trip id", "/trips/abc/messages"},
		{"bad before cursor", "/trips/1/messages?before=yesterday"},
		{"bad limit", "/trips/1/messages?limit=many"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, _, _, trips, _ := setupMessageRouter(10)
			trips.On("IsTripMember", mock.Anything, 1, 10).Return(true, nil).Maybe()

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetTripMessagesForbiddenForNonMember(t *testing.T) {
	router, _, repo, trips, _ := setupMessageRouter(10)
	trips.On("IsTripMember", mock.Anything, 1, 10).Return(false, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips/1/messages", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	repo.AssertNotCalled(t, "ListBefore", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetTripMessagesMembershipCheckFailure(t *testing.T) {
	router, _, _, trips, _ := setupMessageRouter(10)
	trips.On("IsTripMember", mock.Anything, 1, 10).Return(false, assert.AnError).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips/1/messages", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGetTripMessagesRepositoryFailure(t *testing.T) {
	router, _, repo, trips, _ := setupMessageRouter(10)
	trips.On("IsTripMember", mock.Anything, 1, 10).Return(true, nil).Once()
	repo.On("ListBefore", mock.Anything, 1, (*time.Time)(nil), repositories.DefaultPageLimit).Return(nil, assert.AnError).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips/1/messages", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPostTripMessageCreated(t *testing.T) {
	router, _, _, _, sender := setupMessageRouter(10)

	payload := models.MessagePayload{
		Message:    models.Message{ID: 7, TripID: 1, SenderID: 10, Content: "hello", Type: "text"},
		SenderName: "alice",
	}
	sender.On("Send", mock.Anything, 1, 10, "hello", "", (*int)(nil), "req-1").Return(payload, nil).Once()

	body, _ := json.Marshal(map[string]any{"content": "hello", "client_request_id": "req-1"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/trips/1/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp models.MessagePayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.ID)
	assert.Equal(t, "alice", resp.SenderName)
	sender.AssertExpectations(t)
}

func TestPostTripMessageRequiresContent(t *testing.T) {
	router, _, _, _, sender := setupMessageRouter(10)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/trips/1/messages", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostTripMessageErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &chat.ValidationError{Reason: "content is empty"}, http.StatusBadRequest},
		{"non member", chat.ErrNotAMember, http.StatusForbidden},
		{"store down", &chat.StoreError{Err: assert.AnError}, http.StatusServiceUnavailable},
		{"unexpected", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, _, _, _, sender := setupMessageRouter(10)
			sender.On("Send", mock.Anything, 1, 10, "hello", "", (*int)(nil), "").
				Return(models.MessagePayload{}, tc.err).Once()

			body, _ := json.Marshal(map[string]any{"content": "hello"})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/trips/1/messages", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
		})
	}
}
