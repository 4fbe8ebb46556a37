package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"trip-chat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// Page size bounds enforced server-side regardless of what the client asks
// for, to bound memory and query cost.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 100
)

// MessageRepository defines interactions with the append-only message log.
type MessageRepository interface {
	CreateMessage(ctx context.Context, tripID int, senderID int, content string, messageType string, replyTo *int) (models.Message, error)
	ListBefore(ctx context.Context, tripID int, before *time.Time, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
}

// MessageRepo is a sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage appends a message to the trip log. The database assigns id
// and created_at; the serial id breaks ties between equal timestamps so
// insertion order and read order always agree.
func (r *MessageRepo) CreateMessage(ctx context.Context, tripID int, senderID int, content string, messageType string, replyTo *int) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (trip_id, sender_id, content, message_type, reply_to) VALUES ($1, $2, $3, $4, $5) RETURNING id, trip_id, sender_id, content, message_type, reply_to, created_at`, tripID, senderID, content, messageType, replyTo).
		Scan(&msg.ID, &msg.TripID, &msg.SenderID, &msg.Content, &msg.Type, &msg.ReplyTo, &msg.CreatedAt)
	return msg, err
}

// ListBefore returns up to limit messages strictly older than the cursor,
// oldest to newest within the page. A nil cursor returns the most recent
// page. The query fetches newest-first so the LIMIT applies to the tail of
// the log, then the page is reversed into chronological order.
func (r *MessageRepo) ListBefore(ctx context.Context, tripID int, before *time.Time, limit int) ([]models.Message, error) {
	limit = ClampLimit(limit)

	var msgs []models.Message
	var err error
	if before != nil {
		err = r.db.SelectContext(ctx, &msgs, `SELECT id, trip_id, sender_id, content, message_type, reply_to, created_at FROM messages WHERE trip_id=$1 AND created_at < $2 ORDER BY created_at DESC, id DESC LIMIT $3`, tripID, *before, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `SELECT id, trip_id, sender_id, content, message_type, reply_to, created_at FROM messages WHERE trip_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, tripID, limit)
	}
	if err != nil {
		return nil, err
	}

	ReverseMessages(msgs)
	return msgs, nil
}

// GetMessage fetches a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, trip_id, sender_id, content, message_type, reply_to, created_at FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ClampLimit normalizes a client-requested page size into [1, MaxPageLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// ReverseMessages flips a newest-first result set into chronological order.
func ReverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
