package app

import (
	"strings"
	"testing"
)

func TestTokenHasher_Policy(t *testing.T) {
	cases := []struct {
		name     string
		require  bool
		key      string
		wantHMAC bool
		wantErr  string
	}{
		{name: "optional without key", require: false, key: "", wantHMAC: false},
		{name: "optional with key", require: false, key: strings.Repeat("k", 32), wantHMAC: true},
		{name: "required without key", require: true, key: "", wantErr: "missing"},
		{name: "short key", require: false, key: "short", wantErr: "too short"},
		{name: "required with key", require: true, key: strings.Repeat("k", 40), wantHMAC: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PULSE_TOKEN_HMAC_KEY", tc.key)

			h, err := TokenHasher(Config{RequireTokenHMAC: tc.require})
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err=%v want containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.HMAC() != tc.wantHMAC {
				t.Fatalf("HMAC()=%v want=%v", h.HMAC(), tc.wantHMAC)
			}
		})
	}
}
