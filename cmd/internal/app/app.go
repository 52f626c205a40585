// Package app wires the pulse CLI and the dev backend binary: configuration,
// logging, credential persistence, the access layer and the realtime manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pulse/cmd/internal/apiclient"
	"pulse/cmd/internal/credential"
	"pulse/cmd/internal/kv"
	"pulse/cmd/internal/realtime"
	"pulse/cmd/internal/signals"
	"pulse/cmd/internal/transport"
)

var (
	// ErrNotSignedIn is returned by commands that need stored credentials.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrSessionEnded is returned by a long-running command whose session was
	// terminated (refresh failure or logout).
	ErrSessionEnded = errors.New("session ended")

	// ErrRealtimeFailed is returned by Watch when the realtime manager
	// exhausted its reconnect attempts.
	ErrRealtimeFailed = errors.New("realtime connection failed")
)

const signOutTimeout = 5 * time.Second

// Option configures an App.
type Option func(*App)

// WithOutput sets where user-facing output goes (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		if w != nil {
			a.out = w
		}
	}
}

// WithStore injects the credential backend instead of opening cfg.Store.
func WithStore(st kv.Store) Option {
	return func(a *App) { a.store = st }
}

// WithAPIURL overrides PULSE_API_URL. The realtime URL follows it unless
// PULSE_WS_URL is set.
func WithAPIURL(url string) Option {
	return func(a *App) { a.apiURL = url }
}

// App is the client shell: it owns the credential store, the access layer,
// the typed REST client and the realtime manager, and reacts to session
// signals by disconnecting realtime and asking the user to sign in.
type App struct {
	cfg    Config
	log    Logger
	out    io.Writer
	apiURL string
	wsURL  string

	store    kv.Store
	creds    *credential.Store
	bus      *signals.Bus
	layer    *transport.Layer
	api      *apiclient.Client
	rt       *realtime.Manager
	registry *prometheus.Registry

	outMu    sync.Mutex
	prompted atomic.Bool
	unsubs   []func()
}

// New constructs a fully wired App.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg, nil)
	}

	a := &App{cfg: cfg, log: log, out: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}

	tcfg, err := transport.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if a.apiURL != "" {
		tcfg.BaseURL = a.apiURL
	}
	if err := tcfg.Validate(); err != nil {
		return nil, err
	}
	rcfg, err := realtime.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	a.apiURL = tcfg.BaseURL
	a.wsURL = EnvString("PULSE_WS_URL", wsBaseURL(tcfg.BaseURL)+"/ws")

	if a.store == nil {
		st, err := openStore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.store = st
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())

	a.bus = signals.NewBus(log)
	a.creds = credential.NewStore(a.store, credential.WithLogger(log))

	a.layer, err = transport.New(tcfg, a.creds, a.bus,
		transport.WithLogger(log),
		transport.WithMetrics(transport.NewMetrics(a.registry)),
	)
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	a.api, err = apiclient.New(tcfg.BaseURL, a.layer.HTTPClient())
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	a.rt = realtime.NewManager(rcfg, a.bus,
		realtime.WithLogger(log),
		realtime.WithMetrics(realtime.NewMetrics(a.registry)),
	)

	a.unsubs = append(a.unsubs,
		a.bus.Subscribe(signals.AuthFailed, func(s signals.Signal) { a.signedOut(s.Reason) }),
		a.bus.Subscribe(signals.AuthLogout, func(signals.Signal) { a.signedOut("logout") }),
	)
	return a, nil
}

// Bus exposes the signal bus, e.g. for error reporting hooks.
func (a *App) Bus() *signals.Bus { return a.bus }

// Registry exposes the client metrics registry.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Close disconnects realtime and releases the credential store.
func (a *App) Close() error {
	for _, u := range a.unsubs {
		u()
	}
	ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
	defer cancel()
	_ = a.rt.Disconnect(ctx)
	return a.store.Close()
}

// Login signs in and re-arms the sign-in prompt.
func (a *App) Login(ctx context.Context, username, password string) (*apiclient.User, error) {
	if err := a.layer.Session.Login(ctx, username, password); err != nil {
		return nil, err
	}
	a.prompted.Store(false)
	return a.api.Me(ctx)
}

// Logout revokes the session and clears local credentials.
func (a *App) Logout(ctx context.Context) error {
	return a.layer.Session.Logout(ctx)
}

// Status describes the stored session.
type Status struct {
	SignedIn  bool
	DeviceID  string
	ExpiresAt time.Time
	Expired   bool
	User      *apiclient.User
}

// Status reports the local session state and, when signed in, asks the
// server who we are (refreshing credentials if needed).
func (a *App) Status(ctx context.Context) (Status, error) {
	var st Status
	st.DeviceID, _ = a.creds.DeviceID(ctx)

	b, ok := a.creds.Get(ctx)
	if !ok {
		return st, nil
	}
	st.SignedIn = true
	st.ExpiresAt = b.ExpiresAt
	st.Expired = b.Expired(time.Now())

	u, err := a.api.Me(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrRefreshFailed) || errors.Is(err, transport.ErrAuthExpired) {
			return Status{DeviceID: st.DeviceID}, nil
		}
		return st, err
	}
	st.User = u
	if cur, ok := a.creds.Get(ctx); ok {
		st.ExpiresAt = cur.ExpiresAt
		st.Expired = cur.Expired(time.Now())
	}
	return st, nil
}

// Get performs an authenticated GET and returns the body. Non-2xx statuses
// are errors carrying the body.
func (a *App) Get(ctx context.Context, path string) ([]byte, error) {
	if !a.creds.HasCredentials(ctx) {
		return nil, ErrNotSignedIn
	}
	body, status, err := a.api.Raw(ctx, path)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return body, &apiclient.APIError{StatusCode: status, Message: string(body)}
	}
	return body, nil
}

// Notify creates a notification for the signed-in user.
func (a *App) Notify(ctx context.Context, in apiclient.NewNotification) (*apiclient.Notification, error) {
	if !a.creds.HasCredentials(ctx) {
		return nil, ErrNotSignedIn
	}
	return a.api.CreateNotification(ctx, in)
}

// realtimeToken returns the access token for the next hello. A locally
// expired token is renewed first through an authenticated call.
func (a *App) realtimeToken(ctx context.Context) string {
	b, ok := a.creds.Get(ctx)
	if !ok {
		return ""
	}
	if b.Expired(time.Now()) {
		if _, err := a.api.Me(ctx); err != nil {
			a.log.Info("realtime.token.renew_fail", "err", err)
		}
		return a.creds.AccessToken(ctx)
	}
	return b.AccessToken
}

// signedOut is the shell's reaction to auth:failed and auth:logout.
func (a *App) signedOut(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
	defer cancel()
	_ = a.rt.Disconnect(ctx)

	if !a.prompted.CompareAndSwap(false, true) {
		return
	}
	if reason == "logout" {
		a.printf("Signed out. Run `pulse login` to sign in again.\n")
		return
	}
	a.log.Warn("app.session.ended", "reason", reason)
	a.printf("Your session has ended (%s). Run `pulse login` to sign in again.\n", reason)
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_, _ = fmt.Fprintf(a.out, format, args...)
}
