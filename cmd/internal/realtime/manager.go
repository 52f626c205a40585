package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"pulse/cmd/identity/ids"
	"pulse/cmd/internal/signals"
	v1 "pulse/shared/contracts/realtime/v1"
)

// ConnectParams identifies the channel endpoint and the session.
type ConnectParams struct {
	// URL is the ws(s) endpoint, e.g. "ws://127.0.0.1:8080/ws".
	URL string

	// Token is the access credential sent in hello. When TokenFunc is set it
	// is consulted on every attempt instead, so reconnects pick up rotated
	// credentials.
	Token     string
	TokenFunc func(context.Context) string

	// UserID and CompanyID default to the access token's uid/sub and cid claims.
	UserID    string
	CompanyID string

	// Header is sent with the websocket handshake (e.g. Origin).
	Header http.Header
}

func (p ConnectParams) validate() error {
	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("realtime: invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("realtime: missing host")
	}
	if p.TokenFunc == nil && strings.TrimSpace(p.Token) == "" {
		return errors.New("realtime: missing token")
	}
	return nil
}

func (p ConnectParams) token(ctx context.Context) string {
	if p.TokenFunc != nil {
		return strings.TrimSpace(p.TokenFunc(ctx))
	}
	return strings.TrimSpace(p.Token)
}

// WaitFunc blocks for d or until ctx ends.
type WaitFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithWait replaces the backoff timer (tests).
func WithWait(w WaitFunc) Option {
	return func(m *Manager) {
		if w != nil {
			m.wait = w
		}
	}
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// Manager owns one reconnecting notification channel.
//
// Concurrency guarantees:
// - Connect/Disconnect/State are safe for concurrent use.
// - At most one connection loop runs; Connect stops the previous one first.
// - No two connection attempts overlap.
type Manager struct {
	cfg        Config
	bus        *signals.Bus
	log        *slog.Logger
	metrics    *Metrics
	wait       WaitFunc
	httpClient *http.Client

	// ops serializes Connect and Disconnect.
	ops sync.Mutex

	mu        sync.Mutex
	gen       uint64
	state     State
	attempt   int
	conn      *websocket.Conn
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager constructs a Manager in the Disconnected state.
func NewManager(cfg Config, bus *signals.Bus, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg,
		bus:   bus,
		log:   slog.Default(),
		wait:  sleepCtx,
		state: Disconnected,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current reconnect attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// SessionID returns the server session id of the live connection, if any.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Connect starts (or restarts) the connection loop and returns immediately.
// It is the only operation that resets the attempt counter, and the only
// way out of Failed.
func (m *Manager) Connect(ctx context.Context, p ConnectParams) error {
	if err := p.validate(); err != nil {
		return err
	}

	m.ops.Lock()
	defer m.ops.Unlock()

	m.stop(ctx, false)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.attempt = 0
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.log.Info("realtime.connect", "url", p.URL)
	go func() {
		defer close(done)
		m.run(loopCtx, gen, p)
	}()
	return nil
}

// Disconnect unsubscribes, closes the connection and cancels any pending
// backoff. The manager ends in Disconnected.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.stop(ctx, true)

	m.mu.Lock()
	m.gen++
	m.mu.Unlock()
	m.setState(m.currentGen(), Disconnected)
	m.log.Info("realtime.disconnect")
	return nil
}

// stop tears down the running loop, if any. Caller holds m.ops.
func (m *Manager) stop(ctx context.Context, unsubscribe bool) {
	m.mu.Lock()
	// Invalidate the running loop before touching its connection, so the
	// resulting read error is not mistaken for a drop.
	m.gen++
	conn := m.conn
	state := m.state
	cancel := m.cancel
	done := m.done
	m.conn = nil
	m.sessionID = ""
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if conn != nil {
		if unsubscribe && state == Connected {
			if err := m.send(ctx, conn, v1.TypeUnsubscribeNotifications, v1.SubscriptionPayload{}); err != nil {
				m.log.Info("realtime.unsubscribe.fail", "err", err)
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, p ConnectParams) {
	for {
		if !m.setState(gen, Connecting) {
			return
		}

		err := m.session(ctx, gen, p)
		if ctx.Err() != nil || !m.isCurrent(gen) {
			return
		}

		m.mu.Lock()
		m.conn = nil
		m.sessionID = ""
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		if attempt > m.cfg.MaxAttempts {
			m.log.Warn("realtime.failed", "attempts", attempt-1, "err", err)
			m.setState(gen, Failed)
			return
		}

		delay := m.cfg.Backoff(attempt)
		m.metrics.reconnect()
		m.log.Info("realtime.reconnect.wait", "attempt", attempt, "delay_ms", delay.Milliseconds(), "err", err)
		if !m.setState(gen, Reconnecting) {
			return
		}
		if err := m.wait(ctx, delay); err != nil {
			return
		}
	}
}

// session dials, performs the handshake, subscribes and reads until the
// connection drops. It always returns a non-nil error.
func (m *Manager) session(ctx context.Context, gen uint64, p ConnectParams) error {
	conn, err := m.dial(ctx, p)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	sessionID, err := m.handshake(ctx, conn, p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return context.Canceled
	}
	m.conn = conn
	m.sessionID = sessionID
	m.mu.Unlock()

	if !m.setState(gen, Connected) {
		return context.Canceled
	}
	m.log.Info("realtime.connected", "session_id", sessionID)

	// The server never carries a subscription across connections.
	if err := m.send(ctx, conn, v1.TypeSubscribeNotifications, v1.SubscriptionPayload{}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.heartbeat(connCtx, conn, sessionID)

	for {
		env, err := readEnvelope(connCtx, conn)
		if err != nil {
			return err
		}
		m.dispatch(env)
	}
}

func (m *Manager) dial(ctx context.Context, p ConnectParams) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, p.URL, &websocket.DialOptions{
		HTTPClient:   m.httpClient,
		HTTPHeader:   p.Header,
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("subprotocol mismatch: got=%q want=%q", sp, v1.Subprotocol)
	}
	if m.cfg.MaxFrameBytes > 0 {
		conn.SetReadLimit(m.cfg.MaxFrameBytes)
	}
	return conn, nil
}

func (m *Manager) handshake(ctx context.Context, conn *websocket.Conn, p ConnectParams) (string, error) {
	token := p.token(ctx)
	if token == "" {
		return "", errors.New("hello: no access token")
	}
	userID, companyID := p.UserID, p.CompanyID
	if userID == "" || companyID == "" {
		uid, cid := identityFromToken(token)
		if userID == "" {
			userID = uid
		}
		if companyID == "" {
			companyID = cid
		}
	}

	hsCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	if err := m.send(hsCtx, conn, v1.TypeHello, v1.HelloPayload{
		Token:     token,
		UserID:    userID,
		CompanyID: companyID,
	}); err != nil {
		return "", fmt.Errorf("hello: %w", err)
	}

	for {
		env, err := readEnvelope(hsCtx, conn)
		if err != nil {
			return "", fmt.Errorf("hello_ack: %w", err)
		}
		switch env.Type {
		case v1.TypeHelloAck:
			var ack v1.HelloAckPayload
			if err := env.Decode(&ack); err != nil {
				return "", fmt.Errorf("hello_ack payload: %w", err)
			}
			if strings.TrimSpace(ack.SessionID) == "" {
				return "", errors.New("hello_ack: missing session_id")
			}
			return ack.SessionID, nil
		case v1.TypeError:
			var e v1.ErrorPayload
			_ = env.Decode(&e)
			return "", fmt.Errorf("hello rejected: %s: %s", e.Code, e.Message)
		default:
			// Events before the ack are not expected; skip them.
			m.log.Debug("realtime.handshake.skip", "type", env.Type)
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn, sessionID string) {
	if m.cfg.HeartbeatEvery <= 0 {
		return
	}
	t := time.NewTicker(m.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, cancel := context.WithTimeout(ctx, m.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			cancel()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				m.log.Info("realtime.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (m *Manager) dispatch(env v1.Envelope) {
	m.metrics.event(env.Type)

	switch env.Type {
	case v1.TypeNewNotification:
		m.bus.Publish(signals.Signal{Name: signals.RealtimeNewNotification, Payload: env.Payload})
	case v1.TypeUnreadCountUpdate:
		m.bus.Publish(signals.Signal{Name: signals.RealtimeUnreadCountUpdate, Payload: env.Payload})
	case v1.TypeError:
		var e v1.ErrorPayload
		_ = env.Decode(&e)
		m.log.Warn("realtime.server.error", "code", e.Code, "message", e.Message)
	default:
		m.log.Debug("realtime.ignore", "type", env.Type)
	}
}

func (m *Manager) send(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	id, err := ids.NewULID(time.Now())
	if err != nil {
		return err
	}
	env, err := v1.New(typ, id, time.Now().UTC(), payload)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(wctx, websocket.MessageText, b)
}

// setState applies s only while gen is the live loop generation. It
// reports whether it did.
func (m *Manager) setState(gen uint64, s State) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	changed := m.state != s
	m.state = s
	attempt := m.attempt
	m.mu.Unlock()

	if !changed {
		return true
	}
	m.metrics.setState(s)

	payload, _ := json.Marshal(struct {
		State   string `json:"state"`
		Attempt int    `json:"attempt"`
	}{State: s.String(), Attempt: attempt})
	m.bus.Publish(signals.Signal{Name: signals.RealtimeState, Reason: s.String(), Payload: payload})
	return true
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) currentGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			return v1.Envelope{}, err
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// A single malformed frame is not a reason to drop the channel.
			continue
		}
		if err := env.Validate(); err != nil {
			continue
		}
		return env, nil
	}
}
