package tripchat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-chat-service/internal/models"
	"trip-chat-service/internal/repositories"
)

type fakeSender struct {
	sent []models.ClientEvent
	err  error
}

func (f *fakeSender) SendEvent(_ context.Context, ev models.ClientEvent) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, ev)
	return nil
}

// fakeHistory serves pages out of a fixed chronological log, newest page
// first, the way the server does.
type fakeHistory struct {
	log   []models.MessagePayload
	calls int
	err   error
}

func (f *fakeHistory) ListBefore(_ context.Context, _ int, before *time.Time, limit int) ([]models.MessagePayload, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	limit = repositories.ClampLimit(limit)

	var eligible []models.MessagePayload
	for _, m := range f.log {
		if before == nil || m.CreatedAt.Before(*before) {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}
	return eligible, nil
}

func makeLog(n int, start time.Time) []models.MessagePayload {
	log := make([]models.MessagePayload, 0, n)
	for i := 1; i <= n; i++ {
		log = append(log, models.MessagePayload{
			Message: models.Message{
				ID:        i,
				TripID:    1,
				SenderID:  10,
				Content:   fmt.Sprintf("msg %d", i),
				Type:      "text",
				CreatedAt: start.Add(time.Duration(i) * time.Second),
			},
		})
	}
	return log
}

func newTestController(log []models.MessagePayload) (*Controller, *fakeSender, *fakeHistory) {
	sender := &fakeSender{}
	history := &fakeHistory{log: log}
	c := NewController(1, 10, sender, history)
	ids := 0
	c.newID = func() string {
		ids++
		return fmt.Sprintf("corr-%d", ids)
	}
	return c, sender, history
}

func TestConnectSeedsHistoryAndJoins(t *testing.T) {
	c, _, history := newTestController(makeLog(5, time.Unix(1000, 0)))

	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, StateJoined, c.State())
	assert.Equal(t, 1, history.calls)
	msgs := c.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "msg 1", msgs[0].Content)
	assert.Equal(t, "msg 5", msgs[4].Content)
	assert.True(t, c.EndOfHistory(), "short first page means no older history")
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	c, _, history := newTestController(nil)
	history.err = assert.AnError

	require.Error(t, c.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestLiveEventsDuringBackfillAreNotDuplicated(t *testing.T) {
	// Subscribe first, then backfill: a message broadcast while the page
	// is in flight also appears in the page and must survive only once.
	log := makeLog(3, time.Unix(1000, 0))
	c, _, _ := newTestController(log)

	c.HandleServerEvent(models.ChatEvent{Type: models.EventMessage, Message: &log[2]})
	require.NoError(t, c.Connect(context.Background()))

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestOptimisticSendConfirmedByCorrelationID(t *testing.T) {
	c, sender, _ := newTestController(nil)
	require.NoError(t, c.Connect(context.Background()))

	corrID, err := c.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, models.ClientEventSend, sender.sent[0].Type)
	assert.Equal(t, corrID, sender.sent[0].ClientRequestID)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Pending)

	// Echo carries the correlation id and replaces the pending entry even
	// though the server assigned its own id and timestamp.
	confirmed := models.MessagePayload{
		Message:    models.Message{ID: 42, TripID: 1, SenderID: 10, Content: "hello", Type: "text", CreatedAt: time.Now()},
		SenderName: "alice",
	}
	c.HandleServerEvent(models.ChatEvent{Type: models.EventMessage, Message: &confirmed, ClientRequestID: corrID})

	msgs = c.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Pending)
	assert.Equal(t, 42, msgs[0].ID)
	assert.Equal(t, "alice", msgs[0].SenderName)
}

func TestFailedSendIsMarkedAndRetryable(t *testing.T) {
	c, sender, _ := newTestController(nil)
	require.NoError(t, c.Connect(context.Background()))

	corrID, _ := c.SendMessage(context.Background(), "hello", nil)
	c.HandleServerEvent(models.ChatEvent{
		Type:            models.EventError,
		Error:           &models.ErrorInfo{Code: "store_unavailable", Retryable: true},
		ClientRequestID: corrID,
	})

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed, "a failed send is never silently dropped")

	require.NoError(t, c.Retry(context.Background(), corrID))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, corrID, sender.sent[1].ClientRequestID, "retry reuses the correlation id")
	assert.True(t, c.Messages()[0].Pending)
}

func TestTransportWriteFailureMarksEntryFailed(t *testing.T) {
	c, sender, _ := newTestController(nil)
	require.NoError(t, c.Connect(context.Background()))
	sender.err = assert.AnError

	_, err := c.SendMessage(context.Background(), "hello", nil)

	require.Error(t, err)
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
}

func TestPresenceSnapshotReplacesAndDeltasAdjust(t *testing.T) {
	c, _, _ := newTestController(nil)

	online := true
	offline := false
	c.HandleServerEvent(models.ChatEvent{Type: models.EventPresenceDelta, UserID: 99, Online: &online})
	require.Equal(t, []int{99}, c.OnlineUsers())

	// Snapshot is authoritative: stale 99 is gone, not merged.
	c.HandleServerEvent(models.ChatEvent{Type: models.EventPresence, OnlineUserIDs: []int{10, 20}})
	require.Equal(t, []int{10, 20}, c.OnlineUsers())

	c.HandleServerEvent(models.ChatEvent{Type: models.EventPresenceDelta, UserID: 30, Online: &online})
	c.HandleServerEvent(models.ChatEvent{Type: models.EventPresenceDelta, UserID: 20, Online: &offline})
	assert.Equal(t, []int{10, 30}, c.OnlineUsers())
}

func TestTypingTracksOthersOnly(t *testing.T) {
	c, _, _ := newTestController(nil)

	c.HandleServerEvent(models.ChatEvent{Type: models.EventTypingStart, UserID: 20})
	c.HandleServerEvent(models.ChatEvent{Type: models.EventTypingStart, UserID: 10}) // own echo
	assert.Equal(t, []int{20}, c.TypingUsers())

	c.HandleServerEvent(models.ChatEvent{Type: models.EventTypingStop, UserID: 20})
	assert.Empty(t, c.TypingUsers())
}

func TestOfflineDeltaClearsTypingState(t *testing.T) {
	c, _, _ := newTestController(nil)

	online := true
	offline := false
	c.HandleServerEvent(models.ChatEvent{Type: models.EventPresenceDelta, UserID: 20, Online: &online})
	c.HandleServerEvent(models.ChatEvent{Type: models.EventTypingStart, UserID: 20})
	c.HandleServerEvent(models.ChatEvent{Type: models.EventPresenceDelta, UserID: 20, Online: &offline})

	assert.Empty(t, c.OnlineUsers())
	assert.Empty(t, c.TypingUsers())
}

func TestLoadOlderWalks150MessageHistory(t *testing.T) {
	// 150 stored messages: the seed page returns the newest 100, the next
	// load returns the remaining 50 and flags end-of-history.
	c, _, history := newTestController(makeLog(150, time.Unix(1000, 0)))

	require.NoError(t, c.Connect(context.Background()))
	msgs := c.Messages()
	require.Len(t, msgs, 100)
	assert.Equal(t, 51, msgs[0].ID)
	assert.Equal(t, 150, msgs[99].ID)
	assert.False(t, c.EndOfHistory())

	require.NoError(t, c.LoadOlder(context.Background()))
	msgs = c.Messages()
	require.Len(t, msgs, 150)
	assert.Equal(t, 1, msgs[0].ID)
	for i, m := range msgs {
		require.Equal(t, i+1, m.ID, "pages concatenate without gaps or duplicates")
	}
	assert.True(t, c.EndOfHistory())

	// Further loads are suppressed.
	calls := history.calls
	require.NoError(t, c.LoadOlder(context.Background()))
	assert.Equal(t, calls, history.calls)
}

func TestDisconnectAndResync(t *testing.T) {
	log := makeLog(3, time.Unix(1000, 0))
	c, _, history := newTestController(log)
	require.NoError(t, c.Connect(context.Background()))

	online := true
	c.HandleServerEvent(models.ChatEvent{Type: models.EventPresenceDelta, UserID: 20, Online: &online})
	corrID, _ := c.SendMessage(context.Background(), "in flight", nil)

	c.OnDisconnect()

	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.OnlineUsers(), "presence is stale after a gap")
	msgs := c.Messages()
	assert.True(t, msgs[len(msgs)-1].Failed, "in-flight send surfaces as failed")
	assert.Equal(t, corrID, msgs[len(msgs)-1].CorrelationID)

	// A message arrived while disconnected; rejoin must pick it up via the
	// full refetch rather than trusting missed deltas.
	history.log = append(history.log, models.MessagePayload{
		Message: models.Message{ID: 4, TripID: 1, SenderID: 20, Content: "missed", Type: "text", CreatedAt: time.Unix(1000, 0).Add(10 * time.Second)},
	})
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, StateJoined, c.State())
	msgs = c.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "missed", msgs[3].Content)
	assert.True(t, msgs[4].Failed, "failed entry survives resync for retry")
}

func TestSendBeforeConnectIsRejected(t *testing.T) {
	history := &fakeHistory{}
	c := NewController(1, 10, nil, history)

	_, err := c.SendMessage(context.Background(), "hello", nil)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, c.Messages(), "no optimistic entry without a transport")
}
