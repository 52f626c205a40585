package devserver

import "errors"

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("devserver: invalid config")

	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotFound is returned when no account matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrSessionNotFound is returned when a refresh token does not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the session has been revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRefreshReuseDetected is returned when a rotated refresh token is presented again.
	// Every session of the user is revoked when this happens.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrDeviceMismatch is returned when a refresh names a device other than the session's.
	ErrDeviceMismatch = errors.New("device mismatch")
)
