package credential

import (
	"strings"
	"time"
)

// ExpiryHint is the local expiry estimate applied to freshly issued access
// tokens. The server's 401 stays authoritative.
const ExpiryHint = 15 * time.Minute

// Bundle is the pair of credentials plus the local expiry estimate.
// AccessToken and RefreshToken are always written together.
type Bundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewBundle builds a bundle expiring ExpiryHint after now.
func NewBundle(access, refresh string, now time.Time) Bundle {
	return Bundle{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(ExpiryHint).UTC(),
	}
}

// IsZero reports whether the bundle carries no access token.
func (b Bundle) IsZero() bool {
	return strings.TrimSpace(b.AccessToken) == ""
}

// Expired reports whether the local estimate has passed at now.
// A zero ExpiresAt is never expired.
func (b Bundle) Expired(now time.Time) bool {
	if b.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(b.ExpiresAt)
}
