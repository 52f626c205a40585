package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

var (
	errBadJSON      = errors.New("invalid JSON")
	errUnauthorized = errors.New("unauthorized")
)

// Authenticator validates hello tokens for the gateway.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (AccessClaims, error)
	UnreadCount(userID string) int
}

// Gateway is the websocket entrypoint of the realtime notification channel.
//
// It enforces origin policy, subprotocol selection, rate limits and
// heartbeats. A session must complete hello before it may subscribe.
type Gateway struct {
	log     *slog.Logger
	hub     *Hub
	auth    Authenticator
	cfg     WSConfig
	metrics *metrics

	// Derived for websocket.Accept origin checks.
	originPatterns []string
	anyOrigin      bool
}

// NewGateway constructs a gateway. A nil metrics records nothing.
func NewGateway(log *slog.Logger, hub *Hub, auth Authenticator, cfg WSConfig, m *metrics) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if m == nil {
		m = newMetrics(nil)
	}
	return &Gateway{
		log:            log,
		hub:            hub,
		auth:           auth,
		cfg:            cfg,
		metrics:        m,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		anyOrigin:      containsWildcard(cfg.AllowedOrigins),
	}
}

// ServeHTTP upgrades the request and runs the session until either side closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,

		// An explicit "*" allowlist entry disables the library's own check too.
		InsecureSkipVerify: g.anyOrigin,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.metrics.wsSessions.Inc()
	defer g.metrics.wsSessions.Dec()

	client := NewClient(newID(time.Now()), g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Hub removal happens before client.Close so
	// publishers never hold a closing client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unsubscribe(client.UserID(), client.SessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// reject delivers an error envelope synchronously, then closes.
	reject := func(code, msg string) {
		if env, err := v1.New(v1.TypeError, newID(time.Now()), time.Now().UTC(), v1.ErrorPayload{Code: code, Message: msg}); err == nil {
			_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
		}
		shutdown(websocket.StatusPolicyViolation, code)
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", client.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

readLoop:
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", client.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(client.SessionID, time.Now()) {
			reject("rate_limited", "too many events")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client, env); err != nil {
				g.log.Info("ws.hello.reject", "session_id", client.SessionID, "err", err)
				reject("unauthorized", err.Error())
				break readLoop
			}

		case v1.TypeSubscribeNotifications:
			if client.UserID() == "" {
				reject("hello_required", "hello first")
				break readLoop
			}
			g.hub.Subscribe(client)
			count := 0
			if g.auth != nil {
				count = g.auth.UnreadCount(client.UserID())
			}
			g.enqueuePayload(ctx, client, v1.TypeUnreadCountUpdate, v1.UnreadCountPayload{Count: count})

		case v1.TypeUnsubscribeNotifications:
			g.hub.Unsubscribe(client.UserID(), client.SessionID)

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "session_id", client.SessionID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	if client.UserID() != "" {
		return errors.New("already authenticated")
	}
	var p v1.HelloPayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if g.auth == nil {
		return errUnauthorized
	}

	claims, err := g.auth.Authenticate(ctx, p.Token)
	if err != nil {
		return errUnauthorized
	}
	if p.UserID != "" && p.UserID != claims.UserID {
		return errors.New("user_id does not match token")
	}
	if p.CompanyID != "" && claims.CompanyID != "" && p.CompanyID != claims.CompanyID {
		return errors.New("company_id does not match token")
	}

	client.authenticate(claims.UserID)
	g.log.Info("ws.hello.ok", "session_id", client.SessionID, "user_id", claims.UserID)

	if !g.enqueuePayload(ctx, client, v1.TypeHelloAck, v1.HelloAckPayload{SessionID: client.SessionID, UserID: claims.UserID}) {
		return errors.New("backpressure: hello_ack")
	}
	return nil
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	_ = g.enqueuePayload(ctx, client, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

func (g *Gateway) enqueuePayload(ctx context.Context, client *Client, typ string, payload any) bool {
	now := time.Now().UTC()
	env, err := v1.New(typ, newID(now), now, payload)
	if err != nil {
		return false
	}
	return enqueue(ctx, client, env)
}

func enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns maps the allowlist to websocket.Accept host patterns
// so both origin layers agree. Each host is allowed with any port.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func containsWildcard(allowed []string) bool {
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return true
		}
	}
	return false
}
