package realtime

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid config")

// Config controls reconnection and heartbeat behavior.
type Config struct {
	// BaseDelay is the wait before the first reconnect attempt.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff wait; 0 disables the cap. The default
	// 30s is above every wait of the default 5 attempts (1s..16s). With
	// MaxAttempts raised past 5, attempts from the 6th on wait MaxDelay
	// instead of doubling.
	MaxDelay time.Duration

	// MaxAttempts is the number of automatic reconnect attempts before Failed.
	MaxAttempts int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	// MaxFrameBytes is the read limit per websocket frame.
	MaxFrameBytes int64
}

const maxPingFailures = 3

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:        1 * time.Second,
		MaxDelay:         30 * time.Second,
		MaxAttempts:      5,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		HeartbeatEvery:   25 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
		MaxFrameBytes:    64 << 10,
	}
}

// LoadConfigFromEnv loads realtime configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - PULSE_REALTIME_BASE_DELAY
//   - PULSE_REALTIME_MAX_DELAY (cap per wait; "0" disables it, and a cap
//     below BaseDelay * 2^(MaxAttempts-1) flattens the tail of the sequence)
//   - PULSE_REALTIME_MAX_ATTEMPTS
//   - PULSE_REALTIME_HANDSHAKE_TIMEOUT
//   - PULSE_REALTIME_HEARTBEAT_INTERVAL
//   - PULSE_REALTIME_HEARTBEAT_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PULSE_REALTIME_BASE_DELAY", &cfg.BaseDelay},
		{"PULSE_REALTIME_MAX_DELAY", &cfg.MaxDelay},
		{"PULSE_REALTIME_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout},
		{"PULSE_REALTIME_HEARTBEAT_INTERVAL", &cfg.HeartbeatEvery},
		{"PULSE_REALTIME_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && d.dst != &cfg.MaxDelay) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := os.Getenv("PULSE_REALTIME_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxAttempts = n
	}

	if cfg.MaxDelay > 0 && cfg.MaxDelay < cfg.BaseDelay {
		return Config{}, ErrConfig
	}
	return cfg, nil
}

// Backoff returns the wait before reconnect attempt n (1-based):
// BaseDelay * 2^(n-1), capped at MaxDelay when MaxDelay > 0.
func (c Config) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := c.BaseDelay
	for i := 1; i < n; i++ {
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			break
		}
		d *= 2
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}
