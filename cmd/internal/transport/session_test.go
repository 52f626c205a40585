package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"pulse/cmd/internal/signals"
)

func loginMux(t *testing.T, assignDevice string, seen chan<- loginRequest, revoked *atomic.Int32) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in loginRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if seen != nil {
			seen <- in
		}
		if in.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"code":"invalid_credentials","message":"invalid credentials"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"tokens":   map[string]string{"accessToken": "acc-1", "refreshToken": "ref-1"},
			"deviceId": assignDevice,
		})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if revoked != nil {
			revoked.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestSession_LoginStoresBundleAndServerDevice(t *testing.T) {
	t.Parallel()

	seen := make(chan loginRequest, 1)
	f := newFixture(t, loginMux(t, "server-device", seen, nil))
	ctx := context.Background()

	if err := f.layer.Session.Login(ctx, " alice ", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	in := <-seen
	if in.Username != "alice" || in.DeviceID != "" {
		t.Fatalf("unexpected login payload: %+v", in)
	}
	b, ok := f.creds.Get(ctx)
	if !ok || b.AccessToken != "acc-1" || b.RefreshToken != "ref-1" {
		t.Fatalf("bundle not stored: %+v", b)
	}
	if id, _ := f.creds.DeviceID(ctx); id != "server-device" {
		t.Fatalf("expected server-assigned device id, got %q", id)
	}
}

func TestSession_LoginKeepsExistingDevice(t *testing.T) {
	t.Parallel()

	seen := make(chan loginRequest, 1)
	f := newFixture(t, loginMux(t, "other-device", seen, nil))
	ctx := context.Background()
	_ = f.creds.SetDeviceID(ctx, "existing")

	if err := f.layer.Session.Login(ctx, "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if in := <-seen; in.DeviceID != "existing" {
		t.Fatalf("existing device id must be sent, got %q", in.DeviceID)
	}
	if id, _ := f.creds.DeviceID(ctx); id != "existing" {
		t.Fatalf("device id must never be regenerated, got %q", id)
	}
}

func TestSession_LoginGeneratesDeviceWhenServerAssignsNone(t *testing.T) {
	t.Parallel()

	f := newFixture(t, loginMux(t, "", nil, nil))
	ctx := context.Background()

	if err := f.layer.Session.Login(ctx, "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	id, ok := f.creds.DeviceID(ctx)
	if !ok || len(id) != 26 {
		t.Fatalf("expected generated ULID device id, got %q", id)
	}
}

func TestSession_LoginRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, loginMux(t, "d", nil, nil))

	err := f.layer.Session.Login(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
	var le *LoginError
	if !errors.As(err, &le) || le.Code != "invalid_credentials" || le.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected login error: %#v", err)
	}
	if f.creds.HasCredentials(context.Background()) {
		t.Fatalf("rejected login must not store credentials")
	}
}

func TestSession_LogoutClearsAndPublishes(t *testing.T) {
	t.Parallel()

	var revoked atomic.Int32
	f := newFixture(t, loginMux(t, "d", nil, &revoked))
	f.seed(t, "acc", "ref", "dev")

	var logouts atomic.Int32
	f.bus.Subscribe(signals.AuthLogout, func(signals.Signal) { logouts.Add(1) })

	if err := f.layer.Session.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if revoked.Load() != 1 {
		t.Fatalf("expected server-side revoke")
	}
	if f.mem.Len() != 0 {
		t.Fatalf("logout must clear credentials and device, %d keys left", f.mem.Len())
	}
	if logouts.Load() != 1 || f.authFailed.Load() != 0 {
		t.Fatalf("expected one auth:logout and no auth:failed")
	}
}

func TestSession_LogoutSurvivesServerDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.NotFoundHandler(), WithBaseTransport(roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("offline")
	})))
	f.seed(t, "acc", "ref", "dev")

	if err := f.layer.Session.Logout(context.Background()); err != nil {
		t.Fatalf("logout must be best-effort remotely: %v", err)
	}
	if f.mem.Len() != 0 {
		t.Fatalf("local state must be cleared")
	}
}
