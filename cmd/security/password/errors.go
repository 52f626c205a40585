package password

import "errors"

var (
	ErrConfig           = errors.New("password config invalid")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrInvalidHash      = errors.New("invalid password hash")
)
