package devserver

import (
	"sync"

	v1 "pulse/shared/contracts/realtime/v1"
)

// Client represents one connected websocket session.
//
// Send is never closed by the server so concurrent publishers cannot panic.
// Close is idempotent and only signals done.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	mu     sync.RWMutex
	userID string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// UserID returns the authenticated user, or "" before hello.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) authenticate(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
