// Package token provides opaque-token hashing primitives for the Pulse dev backend.
//
// Refresh tokens are never stored in plaintext. A Hasher turns them into a
// stable 64-char hex digest:
// - HMAC-SHA256(token, key) when a key is configured.
// - SHA-256(token) otherwise (local development only).
//
// Environment:
// - PULSE_TOKEN_HMAC_KEY: when set, enables HMAC mode.
package token
