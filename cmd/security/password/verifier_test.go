package password

import "testing"

func cheapConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestVerifier_Check(t *testing.T) {
	v, err := NewVerifier(cheapConfig())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	h, err := v.Config().Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if !v.Check(h, "correct horse battery") {
		t.Fatalf("expected match")
	}
	if v.Check(h, "wrong horse battery") {
		t.Fatalf("expected mismatch")
	}
	if v.Check("", "correct horse battery") {
		t.Fatalf("missing account must never verify")
	}
	if v.Check("$argon2id$garbage", "correct horse battery") {
		t.Fatalf("malformed hash must never verify")
	}
}

func TestDummyPassword_SatisfiesPolicy(t *testing.T) {
	cfg := cheapConfig()
	cfg.Policy.MinLength = 100
	if err := cfg.Validate(dummyPassword(cfg.Policy.MinLength)); err != nil {
		t.Fatalf("dummy password rejected by policy: %v", err)
	}
}
