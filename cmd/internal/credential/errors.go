package credential

import "errors"

var (
	// ErrInvalidBundle is returned by Set when either token is empty.
	ErrInvalidBundle = errors.New("credential: access and refresh tokens are required")

	// ErrInvalidDeviceID is returned by SetDeviceID for an empty id.
	ErrInvalidDeviceID = errors.New("credential: empty device id")
)
