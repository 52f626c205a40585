package transport

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("PULSE_API_URL", "https://api.example.test/")
	t.Setenv("PULSE_AUTH_REFRESH_PATH", "/v2/auth/refresh")
	t.Setenv("PULSE_AUTH_REFRESH_TIMEOUT", "3s")
	t.Setenv("PULSE_HTTP_TIMEOUT", "0s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RefreshTimeout != 3*time.Second || cfg.RequestTimeout != 0 {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if got := cfg.endpoint(cfg.RefreshPath); got != "https://api.example.test/v2/auth/refresh" {
		t.Fatalf("unexpected refresh endpoint %q", got)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"PULSE_API_URL":              "not a url",
		"PULSE_AUTH_REFRESH_PATH":    "auth/refresh",
		"PULSE_AUTH_REFRESH_TIMEOUT": "-1s",
		"PULSE_HTTP_TIMEOUT":         "soon",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("%s=%q: expected ErrConfig, got %v", key, val, err)
			}
		})
	}
}
