package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "PULSE_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the smallest key accepted when HMAC is required.
	MinHMACKeyBytes = 32
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Hasher hashes opaque tokens with a key fixed at construction.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher using key for HMAC mode. An empty key selects SHA-256.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from PULSE_TOKEN_HMAC_KEY.
//
// With require=false a missing key falls back to SHA-256; a present key must
// still satisfy MinHMACKeyBytes. With require=true the key is mandatory.
func HasherFromEnv(require bool) (Hasher, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	switch {
	case err == nil:
		return NewHasher(key), nil
	case errors.Is(err, ErrHMACKeyMissing) && !require:
		return Hasher{}, nil
	default:
		return Hasher{}, err
	}
}

// HMAC reports whether the hasher runs in keyed mode.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// Hash returns the 64-char hex digest of tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}

// Equal compares a plaintext token with a stored digest in constant time.
func (h Hasher) Equal(tok, digest string) bool {
	return hmac.Equal([]byte(h.Hash(tok)), []byte(digest))
}
