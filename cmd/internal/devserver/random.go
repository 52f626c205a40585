package devserver

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"time"

	"pulse/cmd/identity/ids"
)

// NewRandomHex returns a cryptographically secure random hex string of length 2*nBytes.
// If nBytes <= 0, it defaults to 16 bytes (32 hex chars).
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// newOpaqueToken returns a URL-safe random token of nBytes entropy.
func newOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newID returns a ULID for sessions, devices, notifications and envelopes.
func newID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return NewRandomHex(13)
	}
	return id
}
