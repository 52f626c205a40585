package devserver

import (
	"errors"
	"net/http"
	"strings"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type loginResponse struct {
	Success  bool      `json:"success"`
	Tokens   tokenPair `json:"tokens"`
	DeviceID string    `json:"deviceId"`
	User     User      `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type refreshResponse struct {
	Success bool      `json:"success"`
	Tokens  tokenPair `json:"tokens"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	now := s.now()
	throttleKey := "login:" + strings.ToLower(username)
	if !s.logins.Allow(throttleKey, now) {
		s.metrics.logins.WithLabelValues("rate_limited").Inc()
		s.log.Info("auth.login.rate_limited", "username", username)
		writeRateLimited(w, s.logins.RetryAfter(throttleKey, now))
		return
	}

	// A missing account yields an empty hash, verified against the dummy.
	u, hash, _ := s.dir.lookup(username)
	if !s.verifier.Check(hash, req.Password) {
		s.metrics.logins.WithLabelValues("rejected").Inc()
		s.log.Info("auth.login.fail", "username", username)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	s.logins.Forget(throttleKey)

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = newID(now)
	}

	pair, sess, err := s.issue(u, deviceID, now)
	if err != nil {
		s.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	s.metrics.logins.WithLabelValues("ok").Inc()
	s.log.Info("auth.login.ok", "user_id", u.ID, "session_id", sess.ID, "device_id", deviceID)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:  true,
		Tokens:   pair,
		DeviceID: deviceID,
		User:     u,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refresh := strings.TrimSpace(req.RefreshToken)
	if refresh == "" {
		refresh = strings.TrimSpace(r.Header.Get(headerRefreshToken))
	}
	if refresh == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = strings.TrimSpace(r.Header.Get(headerDeviceID))
	}

	pair, sess, err := s.rotate(refresh, deviceID, s.now(), true)
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshReuseDetected):
			s.metrics.refreshes.WithLabelValues("reuse").Inc()
			s.log.Warn("auth.refresh.reuse_detected", "device_id", deviceID)
			writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		case errors.Is(err, ErrDeviceMismatch):
			s.metrics.refreshes.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusUnauthorized, "device_mismatch", "refresh token belongs to another device")
		case isSessionError(err):
			s.metrics.refreshes.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			s.metrics.refreshes.WithLabelValues("error").Inc()
			s.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	s.metrics.refreshes.WithLabelValues("ok").Inc()
	s.log.Info("auth.refresh.ok", "user_id", sess.UserID, "session_id", sess.ID)
	writeJSON(w, http.StatusOK, refreshResponse{Success: true, Tokens: pair})
}

// handleLogout revokes the session named by the bearer token, or else the
// one owning the refresh token in the body (the access token may have expired).
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	now := s.now()

	if claims, err := s.Authenticate(r.Context(), bearerToken(r)); err == nil {
		_ = s.dir.Revoke(claims.SessionID, now)
		s.log.Info("auth.logout", "user_id", claims.UserID, "session_id", claims.SessionID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refresh := strings.TrimSpace(req.RefreshToken)
	if refresh == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}
	sess, err := s.dir.SessionByRefresh(s.hasher.Hash(refresh))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		return
	}
	_ = s.dir.Revoke(sess.ID, now)
	s.log.Info("auth.logout", "user_id", sess.UserID, "session_id", sess.ID)
	w.WriteHeader(http.StatusNoContent)
}
