package password

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Argon2idParams is the cost of one hash. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords, counted in runes.
type Policy struct {
	MinLength int
	MaxLength int
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig is the OWASP Argon2id baseline (19 MiB, 2 passes, 1 lane).
// Dev accounts are seeded from env, so the length floor is 8.
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   19 * 1024,
			Iterations:  2,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{MinLength: 8, MaxLength: 256},
	}
}

type envBound struct {
	key      string
	min, max uint64
	set      func(*Config, uint64)
}

var envBounds = []envBound{
	{"PULSE_PASSWORD_MIN_LEN", 1, 1024, func(c *Config, v uint64) { c.Policy.MinLength = int(v) }},
	{"PULSE_PASSWORD_MAX_LEN", 1, 4096, func(c *Config, v uint64) { c.Policy.MaxLength = int(v) }},
	{"PULSE_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(c *Config, v uint64) { c.Params.MemoryKiB = uint32(v) }},
	{"PULSE_ARGON2_ITERATIONS", 1, 20, func(c *Config, v uint64) { c.Params.Iterations = uint32(v) }},
	{"PULSE_ARGON2_PARALLELISM", 1, 64, func(c *Config, v uint64) { c.Params.Parallelism = uint8(v) }},
	{"PULSE_ARGON2_SALT_LEN", 8, 64, func(c *Config, v uint64) { c.Params.SaltLength = uint32(v) }},
	{"PULSE_ARGON2_KEY_LEN", 16, 64, func(c *Config, v uint64) { c.Params.KeyLength = uint32(v) }},
}

// FromEnv applies PULSE_PASSWORD_* and PULSE_ARGON2_* overrides to
// DefaultConfig. Unset variables keep their default.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	for _, b := range envBounds {
		raw, ok := os.LookupEnv(b.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: not an unsigned integer", ErrConfig, b.key)
		}
		if v < b.min || v > b.max {
			return Config{}, fmt.Errorf("%w: %s: out of range [%d..%d]", ErrConfig, b.key, b.min, b.max)
		}
		b.set(&cfg, v)
	}
	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("%w: min length %d exceeds max length %d", ErrConfig, cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

// Validate checks password against the policy.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}
	return nil
}
