package devserver

import "time"

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max request body for JSON endpoints.
	maxBodyBytes = 64 << 10

	maxTitleChars = 200
	maxBodyChars  = 4000

	// Notifications returned by GET /api/notifications.
	maxListedNotifications = 100
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Per-username login attempts.
	loginAttempts = 10
	loginWindow   = time.Minute
)
