package tripchat

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trip-chat-service/internal/models"
)

const (
	dialTimeout    = 10 * time.Second
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = (pongTimeout * 9) / 10
	reconnectDelay = 2 * time.Second
)

// Transport is a websocket connection to one trip's room. It feeds inbound
// events to the Controller and serializes outbound writes.
type Transport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// Dial opens the room stream for tripID, authenticating with the bearer
// token.
func Dial(ctx context.Context, baseURL string, tripID int, token string) (*Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	url := fmt.Sprintf("%s/ws/trips/%d", baseURL, tripID)
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Transport{conn: conn, closed: make(chan struct{})}, nil
}

// SendEvent writes one client event to the stream.
func (t *Transport) SendEvent(ctx context.Context, ev models.ClientEvent) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteJSON(ev)
}

// Run pumps inbound events into the controller and keeps the connection
// alive with pings. It returns when the connection drops, the server
// closes, or ctx is cancelled; the caller decides whether to redial.
func (t *Transport) Run(ctx context.Context, controller *Controller) error {
	go t.pingLoop(ctx)
	defer t.Close()
	defer controller.OnDisconnect()

	t.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var ev models.ChatEvent
		if err := t.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		controller.HandleServerEvent(ev)
	}
}

// Close tears the connection down. Safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		t.writeMu.Lock()
		deadline := time.Now().Add(writeTimeout)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-t.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Client ties the pieces together: it dials, joins, and redials with a
// fixed delay until ctx is cancelled. Deltas missed while disconnected are
// discarded; every rejoin does a full resync through Controller.Connect.
type Client struct {
	wsBaseURL  string
	token      string
	tripID     int
	controller *Controller
}

// NewClient wires a controller to the service's websocket and history
// endpoints for one trip.
func NewClient(wsBaseURL, apiBaseURL, token string, tripID, userID int) *Client {
	cl := &Client{wsBaseURL: wsBaseURL, token: token, tripID: tripID}
	history := NewHTTPHistoryLoader(apiBaseURL, token)
	cl.controller = NewController(tripID, userID, nil, history)
	return cl
}

// Controller exposes the local chat state for the UI.
func (cl *Client) Controller() *Controller {
	return cl.controller
}

// Run blocks, maintaining the connection and controller until ctx is done.
func (cl *Client) Run(ctx context.Context) error {
	for {
		transport, err := Dial(ctx, cl.wsBaseURL, cl.tripID, cl.token)
		if err == nil {
			cl.controller.setSender(transport)
			if err = cl.controller.Connect(ctx); err == nil {
				err = transport.Run(ctx, cl.controller)
			} else {
				transport.Close()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("chat stream for trip %d lost, retrying in %s: %v", cl.tripID, reconnectDelay, err)
		}
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
