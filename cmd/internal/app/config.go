package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid config")

// Store backends selectable with PULSE_STORE.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Log formats selectable with PULSE_LOG_FORMAT.
const (
	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// Config contains the runtime configuration shared by the pulse CLI and the
// dev backend binary. Component settings (transport, realtime, devserver)
// are loaded by their own packages.
type Config struct {
	LogLevel  string
	LogFormat string
	LogColor  bool

	Environment string
	SentryDSN   string

	// Credential persistence.
	Store       string
	StorePath   string
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Dev backend HTTP server.
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// If true, PULSE_TOKEN_HMAC_KEY must be set (>= 32 bytes) and refresh
	// tokens are hashed with HMAC-SHA256.
	RequireTokenHMAC bool

	// Account created when the dev backend starts. Empty user disables it.
	SeedUser     string
	SeedPassword string
	SeedCompany  string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		LogLevel:  EnvString("PULSE_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("PULSE_LOG_FORMAT", LogFormatJSON)),
		LogColor:  EnvBool("PULSE_LOG_COLOR", false),

		Environment: EnvString("PULSE_ENV", "development"),
		SentryDSN:   EnvString("PULSE_SENTRY_DSN", ""),

		Store:       strings.ToLower(EnvString("PULSE_STORE", StoreFile)),
		StorePath:   EnvString("PULSE_STORE_PATH", ""),
		DatabaseURL: EnvString("PULSE_DATABASE_URL", ""),
		DBSchema:    EnvString("PULSE_DB_SCHEMA", "pulse"),
		DBMaxConns:  EnvInt32("PULSE_DB_MAX_CONNS", 2),
		DBMinConns:  EnvInt32("PULSE_DB_MIN_CONNS", 0),

		HTTPAddr:          EnvString("PULSE_HTTP_ADDR", "127.0.0.1:8080"),
		ReadHeaderTimeout: EnvDuration("PULSE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PULSE_HTTP_READ_TIMEOUT", 0),
		WriteTimeout:      EnvDuration("PULSE_HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:       EnvDuration("PULSE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PULSE_HTTP_MAX_HEADER_BYTES", 1<<20),

		RequireTokenHMAC: EnvBool("PULSE_REQUIRE_TOKEN_HMAC", false),

		SeedUser:     EnvString("PULSE_DEV_USER", ""),
		SeedPassword: EnvString("PULSE_DEV_PASSWORD", ""),
		SeedCompany:  EnvString("PULSE_DEV_COMPANY", "default"),
	}
}

// Validate reports ErrConfig for unknown enum values or missing dependencies.
func (c Config) Validate() error {
	switch c.LogFormat {
	case LogFormatJSON, LogFormatPretty:
	default:
		return fmt.Errorf("%w: PULSE_LOG_FORMAT=%q", ErrConfig, c.LogFormat)
	}
	switch c.Store {
	case StoreFile, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: PULSE_STORE=postgres requires PULSE_DATABASE_URL", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: PULSE_STORE=%q", ErrConfig, c.Store)
	}
	if c.SeedUser != "" && c.SeedPassword == "" {
		return fmt.Errorf("%w: PULSE_DEV_USER requires PULSE_DEV_PASSWORD", ErrConfig)
	}
	return nil
}
