package realtime

import (
	"sync"
	"time"

	"instant/cmd/identity/ids"
	v1 "instant/shared/contracts/realtime/v1"
)

const fallbackQueueSize = 64

// Client is one admitted websocket connection. The hub fans envelopes into
// Send; the connection's writer drains it.
//
// Send stays open for the client's lifetime so a late Emit cannot panic.
// Shutdown is signalled through Done instead.
type Client struct {
	SessionID string
	UserID    string
	Send      chan v1.Envelope

	stop     chan struct{}
	stopOnce sync.Once
}

// NewClient returns a Client whose send queue holds queueSize envelopes.
func NewClient(userID, sessionID string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = fallbackQueueSize
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan v1.Envelope, queueSize),
		stop:      make(chan struct{}),
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed once Close has been called. A nil Client is always done.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		return closedChan
	}
	return c.stop
}

// Close marks the client as stopping. Safe to call more than once.
func (c *Client) Close() {
	if c != nil {
		c.stopOnce.Do(func() { close(c.stop) })
	}
}

// offer enqueues env unless the client is stopping or its queue is full.
func (c *Client) offer(env v1.Envelope) bool {
	if c.stopping() {
		return false
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

func (c *Client) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// NewSessionID returns the ULID that names one websocket connection.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

func newEnvelopeID(now time.Time) string {
	return ids.MustNewULID(now)
}
