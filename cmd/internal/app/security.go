package app

import (
	"errors"
	"fmt"

	"pulse/cmd/security/token"
)

// TokenHasher builds the dev backend's refresh-token hasher and enforces
// PULSE_REQUIRE_TOKEN_HMAC. Startup fails instead of falling back to plain
// SHA-256 when the policy is on.
func TokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, errors.New("security policy: PULSE_REQUIRE_TOKEN_HMAC=true but PULSE_TOKEN_HMAC_KEY is missing")
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("security policy: PULSE_TOKEN_HMAC_KEY is too short (min %d bytes)", token.MinHMACKeyBytes)
	default:
		return token.Hasher{}, err
	}

	if cfg.RequireTokenHMAC && !h.HMAC() {
		return token.Hasher{}, errors.New("security policy: PULSE_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
