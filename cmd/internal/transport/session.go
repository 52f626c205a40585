package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pulse/cmd/identity/ids"
	"pulse/cmd/internal/credential"
	"pulse/cmd/internal/signals"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId,omitempty"`
}

type loginResponse struct {
	Success  bool           `json:"success"`
	Tokens   *refreshTokens `json:"tokens,omitempty"`
	DeviceID string         `json:"deviceId,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Session performs the explicit login and logout flows.
type Session struct {
	cfg    Config
	creds  *credential.Store
	bus    *signals.Bus
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewSession constructs a Session using a plain client over the base transport.
func NewSession(cfg Config, creds *credential.Store, bus *signals.Bus, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, errors.New("transport: nil credential store")
	}
	o := buildOptions(opts)
	return &Session{
		cfg:    cfg,
		creds:  creds,
		bus:    bus,
		client: &http.Client{Transport: o.base, Timeout: cfg.RequestTimeout},
		log:    o.log,
		now:    o.now,
	}, nil
}

// Login exchanges a username and password for a credential bundle.
//
// The stored device identity is sent along. When none exists yet, the one the
// server assigns is stored; if the server assigns none, a new ULID is
// generated locally. An existing device identity is never replaced.
func (s *Session) Login(ctx context.Context, username, password string) error {
	deviceID, hasDevice := s.creds.DeviceID(ctx)

	body, err := json.Marshal(loginRequest{
		Username: strings.TrimSpace(username),
		Password: password,
		DeviceID: deviceID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.endpoint(s.cfg.LoginPath), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		le := &LoginError{StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.NewDecoder(io.LimitReader(resp.Body, maxRefreshBodyBytes)).Decode(&env) == nil {
			le.Code = env.Error.Code
			le.Message = env.Error.Message
		}
		return le
	}

	var out loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRefreshBodyBytes)).Decode(&out); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if !out.Success || out.Tokens == nil {
		return &LoginError{StatusCode: resp.StatusCode}
	}

	if !hasDevice {
		id := strings.TrimSpace(out.DeviceID)
		if id == "" {
			id, err = ids.NewULID(s.now())
			if err != nil {
				return fmt.Errorf("generate device id: %w", err)
			}
		}
		if err := s.creds.SetDeviceID(ctx, id); err != nil {
			return err
		}
	}

	if err := s.creds.Set(ctx, credential.NewBundle(out.Tokens.AccessToken, out.Tokens.RefreshToken, s.now())); err != nil {
		return err
	}
	s.log.Info("auth.login", "new_device", !hasDevice)
	return nil
}

// Logout revokes the session server-side (best effort), removes all stored
// credentials including the device identity, and publishes signals.AuthLogout.
func (s *Session) Logout(ctx context.Context) error {
	bundle, ok := s.creds.Get(ctx)
	if ok && bundle.RefreshToken != "" {
		if err := s.revoke(ctx, bundle); err != nil {
			s.log.Warn("auth.logout.revoke_failed", "err", err)
		}
	}

	if err := s.creds.ClearAll(ctx); err != nil {
		return err
	}
	s.log.Info("auth.logout")
	s.bus.Publish(signals.Signal{Name: signals.AuthLogout, Reason: "logout"})
	return nil
}

func (s *Session) revoke(ctx context.Context, bundle credential.Bundle) error {
	deviceID, _ := s.creds.DeviceID(ctx)
	body, err := json.Marshal(refreshRequest{RefreshToken: bundle.RefreshToken, DeviceID: deviceID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.endpoint(s.cfg.LogoutPath), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAuthorization, "Bearer "+bundle.AccessToken)
	if deviceID != "" {
		req.Header.Set(HeaderDeviceID, deviceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	drainClose(resp)

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("logout: status %d", resp.StatusCode)
	}
	return nil
}
