package password

import "testing"

func BenchmarkVerify_DefaultConfig(b *testing.B) {
	cfg := DefaultConfig()
	h, err := cfg.Hash("benchmark password")
	if err != nil {
		b.Fatalf("Hash: %v", err)
	}
	for b.Loop() {
		if ok, err := cfg.Verify(h, "benchmark password"); err != nil || !ok {
			b.Fatalf("Verify: ok=%v err=%v", ok, err)
		}
	}
}
