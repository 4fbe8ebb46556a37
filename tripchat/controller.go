// Package tripchat is the consumer-side companion to the chat service: a
// small state machine that keeps a local view of one trip's chat in sync
// with the server over a live event stream plus the history endpoint.
package tripchat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trip-chat-service/internal/models"
	"trip-chat-service/internal/repositories"
)

// State is the controller's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateJoined
)

// ErrNotConnected rejects sends issued before a transport is attached.
var ErrNotConnected = errors.New("not connected")

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// EventSender pushes client events to the server. Implemented by Transport.
type EventSender interface {
	SendEvent(ctx context.Context, ev models.ClientEvent) error
}

// HistoryLoader fetches chronological message pages from the REST endpoint.
type HistoryLoader interface {
	ListBefore(ctx context.Context, tripID int, before *time.Time, limit int) ([]models.MessagePayload, error)
}

// LocalMessage is a message as the UI sees it: either server-confirmed, or
// an optimistic pending/failed entry awaiting its echo.
type LocalMessage struct {
	models.MessagePayload
	CorrelationID string
	Pending       bool
	Failed        bool
}

// Controller reconciles optimistic local state with the server's stream.
// All methods are safe for concurrent use; the transport read loop and the
// UI may call in from different goroutines.
type Controller struct {
	tripID    int
	userID    int
	history   HistoryLoader
	pageLimit int
	newID     func() string

	mu           sync.Mutex
	sender       EventSender
	state        State
	messages     []LocalMessage
	online       map[int]struct{}
	typing       map[int]struct{}
	endOfHistory bool
}

// NewController constructs a Controller for one trip.
func NewController(tripID, userID int, sender EventSender, history HistoryLoader) *Controller {
	return &Controller{
		tripID:    tripID,
		userID:    userID,
		sender:    sender,
		history:   history,
		pageLimit: repositories.DefaultPageLimit,
		newID:     uuid.NewString,
		online:    map[int]struct{}{},
		typing:    map[int]struct{}{},
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setSender(s EventSender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

func (c *Controller) currentSender() (EventSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sender == nil {
		return nil, ErrNotConnected
	}
	return c.sender, nil
}

// Connect transitions to Joined: the caller must already have the live
// stream open (events may arrive at any point), then Connect backfills the
// latest history page and reconciles by message id so nothing received in
// the gap is duplicated. Used both for the first join and after reconnect.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateJoining
	c.mu.Unlock()

	page, err := c.history.ListBefore(ctx, c.tripID, nil, c.pageLimit)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeConfirmed(page)
	c.endOfHistory = len(page) < c.pageLimit
	c.state = StateJoined
	return nil
}

// OnDisconnect records loss of the live stream. Presence and typing are
// dropped as stale; any in-flight optimistic sends are marked failed so the
// user can retry after reconnecting. History stays, Connect will resync it.
func (c *Controller) OnDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisconnected
	c.online = map[int]struct{}{}
	c.typing = map[int]struct{}{}
	for i := range c.messages {
		if c.messages[i].Pending {
			c.messages[i].Pending = false
			c.messages[i].Failed = true
		}
	}
}

// SendMessage appends an optimistic pending entry and issues the send,
// returning the correlation id the echo will carry. If the transport write
// fails the entry is marked failed immediately, never dropped.
func (c *Controller) SendMessage(ctx context.Context, content string, replyTo *int) (string, error) {
	sender, err := c.currentSender()
	if err != nil {
		return "", err
	}
	id := c.newID()

	c.mu.Lock()
	c.messages = append(c.messages, LocalMessage{
		MessagePayload: models.MessagePayload{
			Message: models.Message{
				TripID:    c.tripID,
				SenderID:  c.userID,
				Content:   content,
				Type:      models.MessageTypeText,
				ReplyTo:   replyTo,
				CreatedAt: time.Now(),
			},
		},
		CorrelationID: id,
		Pending:       true,
	})
	c.mu.Unlock()

	err = sender.SendEvent(ctx, models.ClientEvent{
		Type:            models.ClientEventSend,
		Content:         content,
		MessageType:     models.MessageTypeText,
		ReplyTo:         replyTo,
		ClientRequestID: id,
	})
	if err != nil {
		c.markFailed(id)
	}
	return id, err
}

// Retry re-issues a failed optimistic send under its original correlation
// id, flipping it back to pending.
func (c *Controller) Retry(ctx context.Context, correlationID string) error {
	sender, err := c.currentSender()
	if err != nil {
		return err
	}

	c.mu.Lock()
	var entry LocalMessage
	found := false
	for i := range c.messages {
		if c.messages[i].CorrelationID == correlationID && c.messages[i].Failed {
			c.messages[i].Failed = false
			c.messages[i].Pending = true
			entry = c.messages[i]
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return nil
	}

	err = sender.SendEvent(ctx, models.ClientEvent{
		Type:            models.ClientEventSend,
		Content:         entry.Content,
		MessageType:     entry.Type,
		ReplyTo:         entry.ReplyTo,
		ClientRequestID: correlationID,
	})
	if err != nil {
		c.markFailed(correlationID)
	}
	return err
}

// NotifyTyping forwards a typing signal; the server debounces.
func (c *Controller) NotifyTyping(ctx context.Context) error {
	sender, err := c.currentSender()
	if err != nil {
		return err
	}
	return sender.SendEvent(ctx, models.ClientEvent{Type: models.ClientEventTyping})
}

// LoadOlder fetches the page before the oldest confirmed message and
// prepends it. A short page marks end-of-history and stops further loads.
func (c *Controller) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.endOfHistory {
		c.mu.Unlock()
		return nil
	}
	var cursor *time.Time
	for i := range c.messages {
		if !c.messages[i].Pending && !c.messages[i].Failed {
			t := c.messages[i].CreatedAt
			cursor = &t
			break
		}
	}
	c.mu.Unlock()

	page, err := c.history.ListBefore(ctx, c.tripID, cursor, c.pageLimit)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeConfirmed(page)
	if len(page) < c.pageLimit {
		c.endOfHistory = true
	}
	return nil
}

// EndOfHistory reports whether the oldest loaded page was short.
func (c *Controller) EndOfHistory() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endOfHistory
}

// HandleServerEvent applies one event from the live stream. Called by the
// transport read loop.
func (c *Controller) HandleServerEvent(ev models.ChatEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case models.EventMessage:
		if ev.Message == nil {
			return
		}
		if ev.ClientRequestID != "" && c.confirmPending(ev.ClientRequestID, *ev.Message) {
			return
		}
		if !c.hasConfirmed(ev.Message.ID) {
			c.messages = append(c.messages, LocalMessage{MessagePayload: *ev.Message})
		}
	case models.EventPresence:
		// Snapshots are authoritative: full replace, never merge.
		c.online = map[int]struct{}{}
		for _, id := range ev.OnlineUserIDs {
			c.online[id] = struct{}{}
		}
	case models.EventPresenceDelta:
		if ev.Online == nil {
			return
		}
		if *ev.Online {
			c.online[ev.UserID] = struct{}{}
		} else {
			delete(c.online, ev.UserID)
			delete(c.typing, ev.UserID)
		}
	case models.EventTypingStart:
		if ev.UserID != c.userID {
			c.typing[ev.UserID] = struct{}{}
		}
	case models.EventTypingStop:
		delete(c.typing, ev.UserID)
	case models.EventError:
		if ev.ClientRequestID != "" {
			c.markFailedLocked(ev.ClientRequestID)
		}
	}
}

// Messages returns the visible list: confirmed history in chronological
// order followed by pending/failed optimistic entries.
func (c *Controller) Messages() []LocalMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LocalMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// OnlineUsers returns the sorted online user ids.
func (c *Controller) OnlineUsers() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.online)
}

// TypingUsers returns the sorted ids of users currently typing.
func (c *Controller) TypingUsers() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.typing)
}

// mergeConfirmed folds a history page into the confirmed prefix, deduping
// by message id and re-sorting chronologically. Pending/failed entries keep
// their place at the tail. Callers hold c.mu.
func (c *Controller) mergeConfirmed(page []models.MessagePayload) {
	confirmed := map[int]LocalMessage{}
	var local []LocalMessage
	for _, m := range c.messages {
		if m.Pending || m.Failed {
			local = append(local, m)
			continue
		}
		confirmed[m.ID] = m
	}
	for _, p := range page {
		if _, ok := confirmed[p.ID]; !ok {
			confirmed[p.ID] = LocalMessage{MessagePayload: p}
		}
	}

	merged := make([]LocalMessage, 0, len(confirmed)+len(local))
	for _, m := range confirmed {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	c.messages = append(merged, local...)
}

// confirmPending swaps the optimistic entry for the server-confirmed
// message, matched by correlation id. Callers hold c.mu.
func (c *Controller) confirmPending(correlationID string, payload models.MessagePayload) bool {
	for i := range c.messages {
		if c.messages[i].CorrelationID == correlationID {
			c.messages[i] = LocalMessage{MessagePayload: payload, CorrelationID: correlationID}
			return true
		}
	}
	return false
}

func (c *Controller) hasConfirmed(messageID int) bool {
	for i := range c.messages {
		if !c.messages[i].Pending && !c.messages[i].Failed && c.messages[i].ID == messageID {
			return true
		}
	}
	return false
}

func (c *Controller) markFailed(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markFailedLocked(correlationID)
}

func (c *Controller) markFailedLocked(correlationID string) {
	for i := range c.messages {
		if c.messages[i].CorrelationID == correlationID && c.messages[i].Pending {
			c.messages[i].Pending = false
			c.messages[i].Failed = true
			return
		}
	}
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
