package password

import (
	"errors"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, b := range envBounds {
		t.Setenv(b.key, "")
	}
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("got %+v want defaults", cfg)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PULSE_PASSWORD_MIN_LEN", "10")
	t.Setenv("PULSE_PASSWORD_MAX_LEN", "200")
	t.Setenv("PULSE_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("PULSE_ARGON2_ITERATIONS", "4")
	t.Setenv("PULSE_ARGON2_PARALLELISM", "2")
	t.Setenv("PULSE_ARGON2_SALT_LEN", "24")
	t.Setenv("PULSE_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	want := Config{
		Params: Argon2idParams{MemoryKiB: 32768, Iterations: 4, Parallelism: 2, SaltLength: 24, KeyLength: 32},
		Policy: Policy{MinLength: 10, MaxLength: 200},
	}
	if cfg != want {
		t.Fatalf("got %+v want %+v", cfg, want)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"not a number", map[string]string{"PULSE_ARGON2_ITERATIONS": "many"}},
		{"negative", map[string]string{"PULSE_ARGON2_ITERATIONS": "-1"}},
		{"below range", map[string]string{"PULSE_ARGON2_MEMORY_KIB": "1024"}},
		{"above range", map[string]string{"PULSE_ARGON2_PARALLELISM": "65"}},
		{"min above max", map[string]string{"PULSE_PASSWORD_MIN_LEN": "20", "PULSE_PASSWORD_MAX_LEN": "10"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("err=%v want ErrConfig", err)
			}
		})
	}
}
