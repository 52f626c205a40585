package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHasher_ZeroValueUsesSHA256(t *testing.T) {
	var h Hasher
	if h.HMAC() {
		t.Fatalf("zero hasher must not be keyed")
	}
	if got, want := h.Hash("abc"), HashSHA256Hex("abc"); got != want {
		t.Fatalf("hash mismatch: got=%s want=%s", got, want)
	}
	if len(h.Hash("abc")) != 64 {
		t.Fatalf("expected 64 hex chars")
	}
}

func TestHasher_KeyedDiffersFromPlain(t *testing.T) {
	h := NewHasher([]byte(strings.Repeat("k", 32)))
	if !h.HMAC() {
		t.Fatalf("expected keyed hasher")
	}
	if h.Hash("abc") == HashSHA256Hex("abc") {
		t.Fatalf("keyed hash must differ from plain SHA-256")
	}
	if !h.Equal("abc", h.Hash("abc")) {
		t.Fatalf("Equal should accept matching digest")
	}
	if h.Equal("abd", h.Hash("abc")) {
		t.Fatalf("Equal should reject other token")
	}
}

func TestHasherFromEnv(t *testing.T) {
	t.Run("missing optional", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "")
		h, err := HasherFromEnv(false)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if h.HMAC() {
			t.Fatalf("expected plain hasher")
		}
	})

	t.Run("missing required", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "")
		if _, err := HasherFromEnv(true); !errors.Is(err, ErrHMACKeyMissing) {
			t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "short")
		if _, err := HasherFromEnv(false); !errors.Is(err, ErrHMACKeyTooShort) {
			t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
		}
	})

	t.Run("configured", func(t *testing.T) {
		key := strings.Repeat("x", MinHMACKeyBytes)
		t.Setenv(HMACEnvKey, "  "+key+"  ")
		h, err := HasherFromEnv(true)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if got, want := h.Hash("tok"), HashHMACSHA256Hex("tok", []byte(key)); got != want {
			t.Fatalf("hash mismatch: got=%s want=%s", got, want)
		}
	})
}
