package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired is returned when a request that was already replayed after
	// a refresh is rejected with 401 again.
	ErrAuthExpired = errors.New("auth expired")

	// ErrRefreshFailed is the terminal refresh failure. Callers receiving it
	// have been signed out.
	ErrRefreshFailed = errors.New("refresh failed")

	// ErrLoginFailed is returned when the login endpoint rejects the credentials.
	ErrLoginFailed = errors.New("login failed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RefreshError carries the reason a refresh episode failed.
type RefreshError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *RefreshError) Error() string {
	msg := ErrRefreshFailed.Error() + ": " + e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRefreshFailed}
	}
	return []error{ErrRefreshFailed, e.Err}
}

// LoginError carries the server's rejection details.
type LoginError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *LoginError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s (status %d)", ErrLoginFailed.Error(), e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s: %s", ErrLoginFailed.Error(), e.StatusCode, e.Code, e.Message)
}

func (e *LoginError) Unwrap() error { return ErrLoginFailed }
