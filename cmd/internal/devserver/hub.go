package devserver

import (
	"log/slog"
	"sync"

	v1 "pulse/shared/contracts/realtime/v1"
)

// Hub fans notifications out to the subscribed sessions of each user.
//
// Subscribe/Unsubscribe are safe under concurrent Publish. Publish never
// blocks: a full or closing client queue drops the envelope.
type Hub struct {
	log *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[string]*Client // user id -> session id -> client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:         log,
		subscribers: make(map[string]map[string]*Client),
	}
}

// Subscribe adds an authenticated client to its user's channel.
func (h *Hub) Subscribe(c *Client) {
	if c == nil || c.SessionID == "" {
		return
	}
	userID := c.UserID()
	if userID == "" {
		return
	}

	h.mu.Lock()
	set := h.subscribers[userID]
	if set == nil {
		set = make(map[string]*Client)
		h.subscribers[userID] = set
	}
	set[c.SessionID] = c
	h.mu.Unlock()

	h.log.Info("hub.subscribe", "user_id", userID, "session_id", c.SessionID)
}

// Unsubscribe removes a session from its user's channel. Unknown sessions are ignored.
func (h *Hub) Unsubscribe(userID, sessionID string) {
	if userID == "" || sessionID == "" {
		return
	}

	h.mu.Lock()
	set := h.subscribers[userID]
	_, existed := set[sessionID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(h.subscribers, userID)
	}
	h.mu.Unlock()

	if existed {
		h.log.Info("hub.unsubscribe", "user_id", userID, "session_id", sessionID)
	}
}

// Publish delivers env to every subscribed session of userID and returns
// how many queues accepted it.
func (h *Hub) Publish(userID string, env v1.Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.subscribers[userID] {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
			delivered++
		default:
			h.log.Warn("hub.drop", "user_id", userID, "session_id", c.SessionID, "type", env.Type)
		}
	}
	return delivered
}

// Subscribers returns the number of subscribed sessions of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
