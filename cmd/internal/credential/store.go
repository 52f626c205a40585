package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"pulse/cmd/internal/kv"
)

// Storage keys. Legacy keys are only read and deleted, never written.
const (
	KeyBundle   = "pulse.auth.bundle"
	KeyDeviceID = "pulse.auth.device_id"

	LegacyKeyAccessToken  = "accessToken"
	LegacyKeyRefreshToken = "refreshToken"
	LegacyKeyExpiresAt    = "tokenExpiresAt"
	LegacyKeyToken        = "token"
)

var legacyKeys = []string{
	LegacyKeyAccessToken,
	LegacyKeyRefreshToken,
	LegacyKeyExpiresAt,
	LegacyKeyToken,
}

// Store is the process-wide credential store over a kv.Store.
type Store struct {
	kv  kv.Store
	log *slog.Logger
	now func() time.Time

	// mu serializes writers so a bundle is never observed half-replaced.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for decode warnings.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore wraps backend. backend must not be nil.
func NewStore(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:  backend,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns the current bundle. ok is false when nothing usable is stored.
//
// Lookup order: structured bundle, discrete legacy fields, single legacy token.
func (s *Store) Get(ctx context.Context) (Bundle, bool) {
	if b, ok := s.readStructured(ctx); ok {
		return b, true
	}
	if b, ok := s.readDiscrete(ctx); ok {
		return b, true
	}
	if b, ok := s.readSingle(ctx); ok {
		return b, true
	}
	return Bundle{}, false
}

// AccessToken is a convenience for Get().AccessToken.
func (s *Store) AccessToken(ctx context.Context) string {
	b, _ := s.Get(ctx)
	return b.AccessToken
}

// HasCredentials reports whether any access token is stored.
func (s *Store) HasCredentials(ctx context.Context) bool {
	_, ok := s.Get(ctx)
	return ok
}

// Set persists b as a single structured write, replacing any prior bundle,
// then drops legacy keys.
func (s *Store) Set(ctx context.Context, b Bundle) error {
	b.AccessToken = strings.TrimSpace(b.AccessToken)
	b.RefreshToken = strings.TrimSpace(b.RefreshToken)
	if b.AccessToken == "" || b.RefreshToken == "" {
		return ErrInvalidBundle
	}
	if b.ExpiresAt.IsZero() {
		b.ExpiresAt = s.now().Add(ExpiryHint)
	}
	b.ExpiresAt = b.ExpiresAt.UTC()

	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("credential: encode bundle: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(ctx, KeyBundle, string(raw)); err != nil {
		return fmt.Errorf("credential: write bundle: %w", err)
	}
	if err := s.kv.Delete(ctx, legacyKeys...); err != nil {
		s.log.Warn("credential.legacy.cleanup_failed", "err", err)
	}
	return nil
}

// Clear removes the bundle and all legacy credential keys.
// The device identity is kept.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := append([]string{KeyBundle}, legacyKeys...)
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("credential: clear: %w", err)
	}
	return nil
}

// ClearAll removes credentials and the device identity.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := append([]string{KeyBundle, KeyDeviceID}, legacyKeys...)
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("credential: clear all: %w", err)
	}
	return nil
}

// DeviceID returns the stored device identity.
func (s *Store) DeviceID(ctx context.Context) (string, bool) {
	v, err := s.kv.Get(ctx, KeyDeviceID)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn("credential.device_id.read_failed", "err", err)
		}
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// SetDeviceID persists id as the device identity.
func (s *Store) SetDeviceID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidDeviceID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(ctx, KeyDeviceID, id); err != nil {
		return fmt.Errorf("credential: write device id: %w", err)
	}
	return nil
}

func (s *Store) readStructured(ctx context.Context) (Bundle, bool) {
	raw, ok := s.read(ctx, KeyBundle)
	if !ok {
		return Bundle{}, false
	}

	var b Bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		s.log.Warn("credential.bundle.decode_failed", "err", err)
		return Bundle{}, false
	}
	if b.IsZero() {
		s.log.Warn("credential.bundle.decode_failed", "err", "missing access_token")
		return Bundle{}, false
	}
	return b, true
}

func (s *Store) readDiscrete(ctx context.Context) (Bundle, bool) {
	access, ok := s.read(ctx, LegacyKeyAccessToken)
	if !ok || strings.TrimSpace(access) == "" {
		return Bundle{}, false
	}
	b := Bundle{AccessToken: strings.TrimSpace(access)}

	if refresh, ok := s.read(ctx, LegacyKeyRefreshToken); ok {
		b.RefreshToken = strings.TrimSpace(refresh)
	}
	if exp, ok := s.read(ctx, LegacyKeyExpiresAt); ok {
		t, err := parseLegacyExpiry(exp)
		if err != nil {
			s.log.Warn("credential.legacy.expiry_decode_failed", "err", err)
		} else {
			b.ExpiresAt = t
		}
	}
	return b, true
}

func (s *Store) readSingle(ctx context.Context) (Bundle, bool) {
	tok, ok := s.read(ctx, LegacyKeyToken)
	if !ok || strings.TrimSpace(tok) == "" {
		return Bundle{}, false
	}
	return Bundle{AccessToken: strings.TrimSpace(tok)}, true
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	v, err := s.kv.Get(ctx, key)
	if err == nil {
		return v, true
	}
	if !errors.Is(err, kv.ErrNotFound) {
		s.log.Warn("credential.read_failed", "key", key, "err", err)
	}
	return "", false
}

// parseLegacyExpiry accepts RFC3339 timestamps and unix milliseconds.
func parseLegacyExpiry(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty expiry")
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
