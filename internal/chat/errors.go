package chat

import (
	"errors"
	"fmt"
)

// ErrNotAMember rejects joins and sends from users outside the trip.
var ErrNotAMember = errors.New("not a trip member")

// ValidationError rejects malformed message content. Reported to the
// sender only, never broadcast.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// StoreError wraps a persistence failure on append. Surfaced to the sender
// as retryable; room state is unaffected because append happens before any
// broadcast.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("message store unavailable: %v", e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
