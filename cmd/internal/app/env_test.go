package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.env")
	content := "PULSE_TEST_FROM_FILE=file-value\nPULSE_TEST_PRESET=file-loses\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("PULSE_TEST_PRESET", "process-wins")
	t.Setenv("PULSE_TEST_FROM_FILE", "")
	_ = os.Unsetenv("PULSE_TEST_FROM_FILE")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("PULSE_TEST_FROM_FILE"); got != "file-value" {
		t.Fatalf("PULSE_TEST_FROM_FILE=%q", got)
	}
	if got := os.Getenv("PULSE_TEST_PRESET"); got != "process-wins" {
		t.Fatalf("PULSE_TEST_PRESET=%q", got)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PULSE_T_STR", "  value ")
	t.Setenv("PULSE_T_BOOL", "yes")
	t.Setenv("PULSE_T_INT", "-3")
	t.Setenv("PULSE_T_INT32", "12")
	t.Setenv("PULSE_T_DUR", "1500ms")

	if got := EnvString("PULSE_T_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("PULSE_T_UNSET", "def"); got != "def" {
		t.Fatalf("EnvString default=%q", got)
	}
	if got := EnvBool("PULSE_T_BOOL", false); got {
		t.Fatalf("EnvBool invalid value must fall back to default")
	}
	if got := EnvInt("PULSE_T_INT", 7); got != 7 {
		t.Fatalf("EnvInt negative must fall back, got %d", got)
	}
	if got := EnvInt32("PULSE_T_INT32", 1); got != 12 {
		t.Fatalf("EnvInt32=%d", got)
	}
	if got := EnvDuration("PULSE_T_DUR", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("EnvDuration=%v", got)
	}
}
