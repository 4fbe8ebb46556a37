package models

import "time"

// Message types accepted on send.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Message is one entry in a trip's append-only chat log. Messages are
// immutable once stored; created_at is the pagination cursor.
type Message struct {
	ID        int       `db:"id" json:"id"`
	TripID    int       `db:"trip_id" json:"trip_id"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	Type      string    `db:"message_type" json:"type"`
	ReplyTo   *int      `db:"reply_to" json:"reply_to,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MessagePayload is a Message hydrated with sender display data for
// outbound events and REST responses.
type MessagePayload struct {
	Message
	SenderName     string `json:"sender_name,omitempty"`
	SenderImageURL string `json:"sender_image_url,omitempty"`
}
