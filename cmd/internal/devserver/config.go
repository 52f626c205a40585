package devserver

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls token lifetimes and gateway limits of the dev backend.
type Config struct {
	// Issuer is the "iss" claim of access tokens.
	Issuer string

	// SigningKey signs HS256 access tokens. When empty, New generates an
	// ephemeral key and tokens do not survive a restart.
	SigningKey string

	AccessTokenTTL time.Duration
	RefreshTTL     time.Duration
	ClockSkew      time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// RotateAfter enables server-initiated rotation: an authenticated API
	// call whose access token is older than this gets fresh credentials in
	// the X-New-* response headers. Zero disables it.
	RotateAfter time.Duration

	LoginAttempts int
	LoginWindow   time.Duration

	WS WSConfig
}

// WSConfig controls the realtime gateway.
type WSConfig struct {
	WriteTimeout     time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	SendQueueSize    int

	RateEvents int
	RateWindow time.Duration

	// OriginRequired rejects upgrades without an Origin header. The CLI
	// client sends none, so it is off by default.
	OriginRequired bool
	AllowedOrigins []string
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() Config {
	return Config{
		Issuer:            "pulse-devserver",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        14 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		LoginAttempts:     loginAttempts,
		LoginWindow:       loginWindow,
		WS: WSConfig{
			WriteTimeout:     5 * time.Second,
			HeartbeatEvery:   heartbeatInterval,
			HeartbeatTimeout: heartbeatTimeout,
			SendQueueSize:    256,
			RateEvents:       rateLimitEvents,
			RateWindow:       rateLimitWindow,
			AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		},
	}
}

// LoadConfigFromEnv loads dev backend configuration from environment variables.
//
// Optional:
//   - PULSE_DEV_ISSUER
//   - PULSE_DEV_SIGNING_KEY
//   - PULSE_DEV_ACCESS_TTL
//   - PULSE_DEV_REFRESH_TTL
//   - PULSE_DEV_CLOCK_SKEW
//   - PULSE_DEV_ROTATE_AFTER (0 disables)
//   - PULSE_DEV_LOGIN_ATTEMPTS
//   - PULSE_DEV_LOGIN_WINDOW
//   - PULSE_WS_WRITE_TIMEOUT
//   - PULSE_WS_HEARTBEAT_INTERVAL
//   - PULSE_WS_HEARTBEAT_TIMEOUT
//   - PULSE_WS_SEND_QUEUE
//   - PULSE_WS_RATE_EVENTS
//   - PULSE_WS_RATE_WINDOW
//   - PULSE_WS_ORIGIN_REQUIRED
//   - PULSE_WS_ALLOWED_ORIGINS (comma separated)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PULSE_DEV_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	cfg.SigningKey = strings.TrimSpace(os.Getenv("PULSE_DEV_SIGNING_KEY"))

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"PULSE_DEV_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"PULSE_DEV_REFRESH_TTL", &cfg.RefreshTTL, false},
		{"PULSE_DEV_CLOCK_SKEW", &cfg.ClockSkew, true},
		{"PULSE_DEV_ROTATE_AFTER", &cfg.RotateAfter, true},
		{"PULSE_DEV_LOGIN_WINDOW", &cfg.LoginWindow, false},
		{"PULSE_WS_WRITE_TIMEOUT", &cfg.WS.WriteTimeout, false},
		{"PULSE_WS_HEARTBEAT_INTERVAL", &cfg.WS.HeartbeatEvery, false},
		{"PULSE_WS_HEARTBEAT_TIMEOUT", &cfg.WS.HeartbeatTimeout, false},
		{"PULSE_WS_RATE_WINDOW", &cfg.WS.RateWindow, false},
	}
	for _, d := range durations {
		if err := envDuration(d.key, d.dst, d.allowZero); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PULSE_DEV_LOGIN_ATTEMPTS", &cfg.LoginAttempts},
		{"PULSE_WS_SEND_QUEUE", &cfg.WS.SendQueueSize},
		{"PULSE_WS_RATE_EVENTS", &cfg.WS.RateEvents},
	}
	for _, n := range ints {
		if err := envPositiveInt(n.key, n.dst); err != nil {
			return Config{}, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("PULSE_WS_ORIGIN_REQUIRED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.WS.OriginRequired = b
	}
	if v := strings.TrimSpace(os.Getenv("PULSE_WS_ALLOWED_ORIGINS")); v != "" {
		cfg.WS.AllowedOrigins = splitCSV(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks lifetimes and limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTTL <= 0 || c.ClockSkew < 0 || c.RotateAfter < 0 {
		return ErrConfig
	}
	if c.RefreshTokenBytes < 16 {
		return ErrConfig
	}
	if c.LoginAttempts <= 0 || c.LoginWindow <= 0 {
		return ErrConfig
	}
	if c.WS.WriteTimeout <= 0 || c.WS.HeartbeatEvery <= 0 || c.WS.HeartbeatTimeout <= 0 {
		return ErrConfig
	}
	if c.WS.SendQueueSize <= 0 || c.WS.RateEvents <= 0 || c.WS.RateWindow <= 0 {
		return ErrConfig
	}
	return nil
}

func envDuration(key string, dst *time.Duration, allowZero bool) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return ErrConfig
	}
	*dst = d
	return nil
}

func envPositiveInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return ErrConfig
	}
	*dst = n
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
