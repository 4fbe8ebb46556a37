package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"trip-chat-service/internal/models"
	"trip-chat-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, tripID int, senderID int, content string, messageType string, replyTo *int) (models.Message, error) {
	args := m.Called(ctx, tripID, senderID, content, messageType, replyTo)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListBefore(ctx context.Context, tripID int, before *time.Time, limit int) ([]models.Message, error) {
	args := m.Called(ctx, tripID, before, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type TripClientMock struct {
	mock.Mock
}

func (m *TripClientMock) IsTripMember(ctx context.Context, tripID int, userID int) (bool, error) {
	args := m.Called(ctx, tripID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *TripClientMock) GetMemberProfile(ctx context.Context, userID int) (models.MemberProfile, error) {
	args := m.Called(ctx, userID)
	var profile models.MemberProfile
	if val := args.Get(0); val != nil {
		profile = val.(models.MemberProfile)
	}
	return profile, args.Error(1)
}

func (m *TripClientMock) BulkProfiles(ctx context.Context, ids []int) ([]models.MemberProfile, error) {
	args := m.Called(ctx, ids)
	var profiles []models.MemberProfile
	if val := args.Get(0); val != nil {
		profiles = val.([]models.MemberProfile)
	}
	return profiles, args.Error(1)
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type MessageSenderMock struct {
	mock.Mock
}

func (m *MessageSenderMock) Send(ctx context.Context, tripID int, userID int, content string, messageType string, replyTo *int, clientRequestID string) (models.MessagePayload, error) {
	args := m.Called(ctx, tripID, userID, content, messageType, replyTo, clientRequestID)
	var payload models.MessagePayload
	if val := args.Get(0); val != nil {
		payload = val.(models.MessagePayload)
	}
	return payload, args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
