package models

// Outbound event types broadcast through websockets.
const (
	EventMessage       = "message"
	EventPresence      = "presence"
	EventPresenceDelta = "presence_delta"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventError         = "error"
)

// Inbound event types accepted from clients.
const (
	ClientEventSend   = "send"
	ClientEventTyping = "typing"
	ClientEventLeave  = "leave"
)

// ChatEvent is the outbound envelope broadcast through websockets.
type ChatEvent struct {
	Type            string          `json:"type"`
	TripID          int             `json:"trip_id"`
	Message         *MessagePayload `json:"message,omitempty"`
	OnlineUserIDs   []int           `json:"online_user_ids,omitempty"`
	UserID          int             `json:"user_id,omitempty"`
	Online          *bool           `json:"online,omitempty"`
	Error           *ErrorInfo      `json:"error,omitempty"`
	ClientRequestID string          `json:"client_request_id,omitempty"`
}

// ErrorInfo is delivered to the originating session only, never broadcast.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ClientEvent is the inbound envelope read from a websocket connection.
type ClientEvent struct {
	Type            string `json:"type"`
	Content         string `json:"content,omitempty"`
	MessageType     string `json:"message_type,omitempty"`
	ReplyTo         *int   `json:"reply_to,omitempty"`
	ClientRequestID string `json:"client_request_id,omitempty"`
}
