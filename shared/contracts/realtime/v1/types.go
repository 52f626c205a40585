package v1

import "time"

// HelloPayload is sent by the client to initiate a session.
// Token is the current access credential.
type HelloPayload struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
}

// HelloAckPayload carries the server-side realtime session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// SubscriptionPayload is used by both subscribe and unsubscribe requests.
type SubscriptionPayload struct {
	Channel string `json:"channel,omitempty"`
}

// NotificationPayload is a single dashboard notification.
// The client layer forwards it without interpreting it.
type NotificationPayload struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UnreadCountPayload carries the user's unread notification counter.
type UnreadCountPayload struct {
	Count int `json:"count"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
