package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pulse/cmd/internal/kv"
	"pulse/cmd/internal/transport"
)

type cliRun struct {
	t     *testing.T
	url   string
	store kv.Store
}

func (r cliRun) exec(stdin string, args ...string) (string, string, error) {
	r.t.Helper()
	out, errOut := &syncBuffer{}, &syncBuffer{}
	full := append([]string{"--api-url", r.url}, args...)
	err := Execute(context.Background(), full, strings.NewReader(stdin), out, errOut, WithStore(r.store))
	return out.String(), errOut.String(), err
}

func newCLI(t *testing.T) (cliRun, *backend) {
	t.Helper()
	t.Setenv("PULSE_LOG_LEVEL", "error")
	t.Setenv("PULSE_PASSWORD", "")
	t.Setenv("PULSE_USERNAME", "")
	b := startBackend(t)
	return cliRun{t: t, url: b.http.URL, store: kv.NewMemoryStore()}, b
}

func TestCLI_Version(t *testing.T) {
	out, _, err := cliRun{t: t}.exec("", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "pulse "+Version) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCLI_SessionLifecycle(t *testing.T) {
	r, _ := newCLI(t)

	out, _, err := r.exec(backendPassword+"\n", "login", "-u", backendUser, "--password-stdin")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Signed in as ada (company acme).") {
		t.Fatalf("login output %q", out)
	}

	out, _, err = r.exec("", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Signed in as ada") || !strings.Contains(out, "Device: ") {
		t.Fatalf("status output %q", out)
	}

	out, _, err = r.exec("", "get", "/api/me")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, `"username":"ada"`) {
		t.Fatalf("get output %q", out)
	}

	out, _, err = r.exec("", "notify", "disk almost full", "--kind", "alert")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(out, "Created notification") {
		t.Fatalf("notify output %q", out)
	}

	out, _, err = r.exec("", "get", "api/notifications")
	if err != nil {
		t.Fatalf("get notifications: %v", err)
	}
	if !strings.Contains(out, "disk almost full") {
		t.Fatalf("notifications output %q", out)
	}

	out, _, err = r.exec("", "logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(out, "Signed out.") {
		t.Fatalf("logout output %q", out)
	}

	out, _, err = r.exec("", "status")
	if err != nil {
		t.Fatalf("status after logout: %v", err)
	}
	if !strings.Contains(out, "Not signed in.") {
		t.Fatalf("status output %q", out)
	}
}

func TestCLI_PasswordFromEnv(t *testing.T) {
	r, _ := newCLI(t)
	t.Setenv("PULSE_USERNAME", backendUser)
	t.Setenv("PULSE_PASSWORD", backendPassword)

	if _, _, err := r.exec("", "login"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestCLI_Errors(t *testing.T) {
	r, _ := newCLI(t)

	if _, _, err := r.exec("", "get", "/api/me"); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("get without login err=%v", err)
	}
	if _, _, err := r.exec("nope-nope-nope\n", "login", "-u", backendUser); !errors.Is(err, transport.ErrLoginFailed) {
		t.Fatalf("bad password err=%v", err)
	}
	if _, _, err := r.exec("", "login"); err == nil || !strings.Contains(err.Error(), "username") {
		t.Fatalf("missing username err=%v", err)
	}
	if _, _, err := r.exec("", "--store", "redis", "status"); !errors.Is(err, ErrConfig) {
		t.Fatalf("bad store err=%v", err)
	}
	if _, _, err := r.exec("", "get"); err == nil {
		t.Fatalf("get without path must fail")
	}

	out, _, err := r.exec("", "logout")
	if err != nil || !strings.Contains(out, "Not signed in.") {
		t.Fatalf("logout without session out=%q err=%v", out, err)
	}
}
