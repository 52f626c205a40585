package devserver

import (
	"net/http"
	"strings"
	"unicode/utf8"

	v1 "pulse/shared/contracts/realtime/v1"
)

type notificationsResponse struct {
	Items  []v1.NotificationPayload `json:"items"`
	Unread int                      `json:"unread"`
}

type createNotificationRequest struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (AccessClaims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return AccessClaims{}, false
	}
	claims, err := s.Authenticate(r.Context(), tok)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return AccessClaims{}, false
	}
	return claims, true
}

// maybeRotate attaches a fresh credential pair to the response when the
// access token is older than RotateAfter and the client sent its refresh
// token. Failures leave the response untouched.
func (s *Server) maybeRotate(w http.ResponseWriter, r *http.Request, claims AccessClaims) {
	if s.cfg.RotateAfter <= 0 || claims.IssuedAt.IsZero() {
		return
	}
	now := s.now()
	if now.Sub(claims.IssuedAt) < s.cfg.RotateAfter {
		return
	}
	refresh := r.Header.Get(headerRefreshToken)
	if strings.TrimSpace(refresh) == "" {
		return
	}

	pair, sess, err := s.rotate(refresh, r.Header.Get(headerDeviceID), now, false)
	if err != nil {
		s.log.Debug("auth.rotate.skip", "session_id", claims.SessionID, "err", err)
		return
	}

	h := w.Header()
	h.Set(headerNewAccessToken, pair.AccessToken)
	h.Set(headerNewRefreshToken, pair.RefreshToken)
	h.Set(headerTokenRefreshed, "true")
	s.metrics.rotations.Inc()
	s.log.Info("auth.rotate.ok", "user_id", sess.UserID, "session_id", sess.ID)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	claims, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	u, err := s.dir.UserByID(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not_found", "user not found")
		return
	}
	s.maybeRotate(w, r, claims)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, ok := s.requireAuth(w, r)
		if !ok {
			return
		}
		resp := notificationsResponse{
			Items:  s.dir.Notifications(claims.UserID, maxListedNotifications),
			Unread: s.dir.UnreadCount(claims.UserID),
		}
		s.maybeRotate(w, r, claims)
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		claims, ok := s.requireAuth(w, r)
		if !ok {
			return
		}
		var req createNotificationRequest
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
			return
		}
		if utf8.RuneCountInString(title) > maxTitleChars || utf8.RuneCountInString(req.Body) > maxBodyChars {
			writeError(w, http.StatusBadRequest, "invalid_request", "notification too long")
			return
		}

		n, err := s.Notify(claims.UserID, req.Kind, title, req.Body)
		if err != nil {
			s.log.Error("notification.create.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		s.maybeRotate(w, r, claims)
		writeJSON(w, http.StatusCreated, n)

	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	claims, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	s.dir.MarkAllRead(claims.UserID)
	s.push(claims.UserID, v1.TypeUnreadCountUpdate, v1.UnreadCountPayload{Count: 0}, s.now())
	s.maybeRotate(w, r, claims)
	w.WriteHeader(http.StatusNoContent)
}
