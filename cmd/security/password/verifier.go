package password

// Verifier checks login attempts against stored hashes.
//
// Unknown accounts are verified against a precomputed dummy hash so a miss
// costs the same as a wrong password.
type Verifier struct {
	cfg   Config
	dummy string
}

// NewVerifier builds a Verifier for cfg. The dummy hash is computed once.
func NewVerifier(cfg Config) (*Verifier, error) {
	// The dummy must satisfy the policy like any other password.
	dummy, err := cfg.Hash(dummyPassword(cfg.Policy.MinLength))
	if err != nil {
		return nil, err
	}
	return &Verifier{cfg: cfg, dummy: dummy}, nil
}

// Config returns the hashing configuration used for new hashes.
func (v *Verifier) Config() Config { return v.cfg }

// Check reports whether password matches encodedHash. An empty encodedHash
// means the account does not exist and always fails after a dummy verify.
func (v *Verifier) Check(encodedHash, password string) bool {
	if encodedHash == "" {
		_, _ = v.cfg.Verify(v.dummy, password)
		return false
	}
	ok, err := v.cfg.Verify(encodedHash, password)
	return err == nil && ok
}

func dummyPassword(minLen int) string {
	const seed = "dummy-password-for-timing-only"
	s := seed
	for len(s) < minLen {
		s += seed
	}
	return s
}
