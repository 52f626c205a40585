package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pulse/cmd/security/password"
	"pulse/cmd/security/token"
	v1 "pulse/shared/contracts/realtime/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Header names shared with the client access layer.
const (
	headerDeviceID        = "X-Device-Id"
	headerRefreshToken    = "X-Refresh-Token"
	headerNewAccessToken  = "X-New-Access-Token"
	headerNewRefreshToken = "X-New-Refresh-Token"
	headerTokenRefreshed  = "X-Token-Refreshed"
)

// Server is the dev backend: REST auth, notifications API and realtime gateway.
type Server struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	dir      *Directory
	tokens   *tokenManager
	hasher   token.Hasher
	pwCfg    *password.Config
	verifier *password.Verifier
	logins   *RateLimiter

	hub     *Hub
	gateway *Gateway

	registry *prometheus.Registry
	metrics  *metrics
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDirectory shares an existing Directory.
func WithDirectory(d *Directory) Option {
	return func(s *Server) {
		if d != nil {
			s.dir = d
		}
	}
}

// WithTokenHasher sets how refresh tokens are hashed at rest.
func WithTokenHasher(h token.Hasher) Option {
	return func(s *Server) { s.hasher = h }
}

// WithPasswordConfig overrides the Argon2id parameters used for accounts.
func WithPasswordConfig(cfg password.Config) Option {
	return func(s *Server) { s.pwCfg = &cfg }
}

// New constructs a Server.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg: cfg,
		log: slog.Default(),
		now: func() time.Time { return time.Now().UTC() },
		dir: NewDirectory(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	key := cfg.SigningKey
	if key == "" {
		key = NewRandomHex(32)
		s.log.Warn("devserver.signing_key.ephemeral")
	}
	s.tokens = newTokenManager(cfg, []byte(key))

	pwCfg := password.DefaultConfig()
	if s.pwCfg != nil {
		pwCfg = *s.pwCfg
	}
	v, err := password.NewVerifier(pwCfg)
	if err != nil {
		return nil, err
	}
	s.verifier = v
	s.logins = NewRateLimiter(cfg.LoginAttempts, cfg.LoginWindow)

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector())
	s.metrics = newMetrics(s.registry)

	s.hub = NewHub(s.log)
	s.gateway = NewGateway(s.log, s.hub, s, cfg.WS, s.metrics)
	return s, nil
}

// Handler returns the HTTP routes of the dev backend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/refresh", s.handleRefresh)
	mux.HandleFunc("/auth/logout", s.handleLogout)
	mux.HandleFunc("/api/me", s.handleMe)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/notifications/read", s.handleMarkRead)
	mux.Handle("/ws", s.gateway)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Directory exposes the backing state (seeding, tests).
func (s *Server) Directory() *Directory { return s.dir }

// Hub exposes the realtime fanout.
func (s *Server) Hub() *Hub { return s.hub }

// Registry exposes the metrics registry.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Seed creates an account with a plaintext password.
func (s *Server) Seed(username, pw, companyID string) (User, error) {
	hash, err := s.verifier.Config().Hash(pw)
	if err != nil {
		return User{}, err
	}
	return s.dir.AddUser(username, hash, companyID, s.now())
}

// Authenticate verifies an access token and checks that its session is active.
func (s *Server) Authenticate(_ context.Context, tok string) (AccessClaims, error) {
	now := s.now()
	claims, err := s.tokens.Verify(tok, now)
	if err != nil {
		return AccessClaims{}, err
	}
	sess, err := s.dir.Session(claims.SessionID)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if sess.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if !sess.Active(now) {
		return AccessClaims{}, ErrSessionRevoked
	}
	return claims, nil
}

// UnreadCount returns the unread notifications of userID.
func (s *Server) UnreadCount(userID string) int { return s.dir.UnreadCount(userID) }

// Notify stores a notification and pushes it to the user's realtime sessions.
func (s *Server) Notify(userID, kind, title, body string) (v1.NotificationPayload, error) {
	now := s.now()
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "info"
	}
	n, unread, err := s.dir.AddNotification(userID, kind, strings.TrimSpace(title), strings.TrimSpace(body), now)
	if err != nil {
		return v1.NotificationPayload{}, err
	}

	delivered := s.push(userID, v1.TypeNewNotification, n, now)
	s.push(userID, v1.TypeUnreadCountUpdate, v1.UnreadCountPayload{Count: unread}, now)

	outcome := "stored"
	if delivered > 0 {
		outcome = "pushed"
	}
	s.metrics.notifications.WithLabelValues(outcome).Inc()
	s.log.Info("notification.create", "user_id", userID, "notification_id", n.ID, "delivered", delivered)
	return n, nil
}

func (s *Server) push(userID, typ string, payload any, now time.Time) int {
	env, err := v1.New(typ, newID(now), now, payload)
	if err != nil {
		s.log.Error("notification.encode.fail", "type", typ, "err", err)
		return 0
	}
	return s.hub.Publish(userID, env)
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// issue starts a new session for u on deviceID.
func (s *Server) issue(u User, deviceID string, now time.Time) (tokenPair, Session, error) {
	refresh, err := newOpaqueToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return tokenPair{}, Session{}, err
	}
	sess, err := s.dir.CreateSession(u.ID, deviceID, s.hasher.Hash(refresh), now, now.Add(s.cfg.RefreshTTL))
	if err != nil {
		return tokenPair{}, Session{}, err
	}
	access, _, err := s.tokens.Issue(u, sess.ID, now)
	if err != nil {
		return tokenPair{}, Session{}, err
	}
	return tokenPair{AccessToken: access, RefreshToken: refresh}, sess, nil
}

// rotate exchanges a refresh token for a new pair. strict enables reuse detection.
func (s *Server) rotate(refresh, deviceID string, now time.Time, strict bool) (tokenPair, Session, error) {
	refresh = strings.TrimSpace(refresh)
	if refresh == "" || len(refresh) > 4096 {
		return tokenPair{}, Session{}, ErrSessionNotFound
	}
	next, err := newOpaqueToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return tokenPair{}, Session{}, err
	}

	rotateFn := s.dir.TryRotate
	if strict {
		rotateFn = s.dir.Rotate
	}
	sess, err := rotateFn(s.hasher.Hash(refresh), strings.TrimSpace(deviceID), s.hasher.Hash(next), now, now.Add(s.cfg.RefreshTTL))
	if err != nil {
		return tokenPair{}, Session{}, err
	}

	u, err := s.dir.UserByID(sess.UserID)
	if err != nil {
		return tokenPair{}, Session{}, err
	}
	access, _, err := s.tokens.Issue(u, sess.ID, now)
	if err != nil {
		return tokenPair{}, Session{}, err
	}
	return tokenPair{AccessToken: access, RefreshToken: next}, sess, nil
}

func isSessionError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionRevoked)
}
