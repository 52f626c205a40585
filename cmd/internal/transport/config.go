package transport

import (
	"net/url"
	"os"
	"strings"
	"time"
)

// Config controls endpoints and timeouts of the access layer.
type Config struct {
	// BaseURL is the REST API root, e.g. "http://127.0.0.1:8080".
	BaseURL string

	RefreshPath string
	LoginPath   string
	LogoutPath  string

	// RefreshTimeout bounds one refresh call. The call is detached from the
	// caller that started it, so this is its only deadline.
	RefreshTimeout time.Duration

	// RequestTimeout is the http.Client timeout of NewHTTPClient.
	// Zero disables it.
	RequestTimeout time.Duration
}

// DefaultConfig returns a configuration pointing at a local dev backend.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://127.0.0.1:8080",
		RefreshPath:    "/auth/refresh",
		LoginPath:      "/auth/login",
		LogoutPath:     "/auth/logout",
		RefreshTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads transport configuration from environment variables.
//
// Optional:
//   - PULSE_API_URL
//   - PULSE_AUTH_REFRESH_PATH
//   - PULSE_AUTH_LOGIN_PATH
//   - PULSE_AUTH_LOGOUT_PATH
//   - PULSE_AUTH_REFRESH_TIMEOUT
//   - PULSE_HTTP_TIMEOUT (0 disables)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PULSE_API_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PULSE_AUTH_REFRESH_PATH")); v != "" {
		cfg.RefreshPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PULSE_AUTH_LOGIN_PATH")); v != "" {
		cfg.LoginPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PULSE_AUTH_LOGOUT_PATH")); v != "" {
		cfg.LogoutPath = v
	}

	if v := os.Getenv("PULSE_AUTH_REFRESH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTimeout = d
	}
	if v := os.Getenv("PULSE_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.RequestTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that BaseURL is an absolute http(s) URL and that paths are rooted.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrConfig
	}
	for _, p := range []string{c.RefreshPath, c.LoginPath, c.LogoutPath} {
		if !strings.HasPrefix(p, "/") {
			return ErrConfig
		}
	}
	if c.RefreshTimeout <= 0 {
		return ErrConfig
	}
	return nil
}

func (c Config) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}
