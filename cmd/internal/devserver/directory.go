package devserver

import (
	"strings"
	"sync"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// User is a dashboard account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CompanyID string    `json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one login of one device. Rotation replaces it with a new
// session and links the two through ReplacedBy.
//
// A rotated session keeps accepting the access tokens issued for it until
// they expire; only RevokedAt (logout, reuse) ends it immediately.
type Session struct {
	ID          string
	UserID      string
	DeviceID    string
	RefreshHash string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RotatedAt   *time.Time
	ReplacedBy  string
	RevokedAt   *time.Time
}

// Active reports whether access tokens of the session are still honored.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

type account struct {
	user         User
	passwordHash string
}

type notification struct {
	v1.NotificationPayload
	read bool
}

// Directory holds accounts, sessions and notifications in memory.
// All operations are safe for concurrent use.
type Directory struct {
	mu sync.Mutex

	accounts  map[string]*account // user id -> account
	byName    map[string]string   // lower(username) -> user id
	sessions  map[string]*Session // session id -> session
	byRefresh map[string]string   // refresh hash -> session id
	inbox     map[string][]*notification
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		accounts:  make(map[string]*account),
		byName:    make(map[string]string),
		sessions:  make(map[string]*Session),
		byRefresh: make(map[string]string),
		inbox:     make(map[string][]*notification),
	}
}

// AddUser registers an account. passwordHash must already be encoded.
func (d *Directory) AddUser(username, passwordHash, companyID string, now time.Time) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return User{}, ErrUserNotFound
	}
	key := strings.ToLower(username)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byName[key]; ok {
		return User{}, ErrUserExists
	}
	u := User{
		ID:        newID(now),
		Username:  username,
		CompanyID: strings.TrimSpace(companyID),
		CreatedAt: now.UTC(),
	}
	d.accounts[u.ID] = &account{user: u, passwordHash: passwordHash}
	d.byName[key] = u.ID
	return u, nil
}

// lookup returns the account for username and its password hash.
func (d *Directory) lookup(username string) (User, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return User{}, "", ErrUserNotFound
	}
	a := d.accounts[id]
	return a.user, a.passwordHash, nil
}

// UserByID returns the account with id.
func (d *Directory) UserByID(id string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.accounts[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return a.user, nil
}

// CreateSession stores a new session for userID.
func (d *Directory) CreateSession(userID, deviceID, refreshHash string, now, expiresAt time.Time) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.accounts[userID]; !ok {
		return Session{}, ErrUserNotFound
	}
	return d.createLocked(userID, deviceID, refreshHash, now, expiresAt), nil
}

func (d *Directory) createLocked(userID, deviceID, refreshHash string, now, expiresAt time.Time) Session {
	s := &Session{
		ID:          newID(now),
		UserID:      userID,
		DeviceID:    deviceID,
		RefreshHash: refreshHash,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	d.sessions[s.ID] = s
	d.byRefresh[refreshHash] = s.ID
	return *s
}

// Session returns the session with id.
func (d *Directory) Session(id string) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// SessionByRefresh returns the session owning refreshHash.
func (d *Directory) SessionByRefresh(refreshHash string) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byRefresh[refreshHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *d.sessions[id], nil
}

// Rotate replaces the session owning refreshHash with a new one.
//
// A token of an already rotated session is reuse: every session of the user
// is revoked and ErrRefreshReuseDetected is returned. A non-empty deviceID
// must match the session's device.
func (d *Directory) Rotate(refreshHash, deviceID, newRefreshHash string, now, newExpiresAt time.Time) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotateLocked(refreshHash, deviceID, newRefreshHash, now, newExpiresAt, true)
}

// TryRotate is Rotate without reuse detection: a token of an already rotated
// session yields ErrSessionRevoked and revokes nothing. Server-initiated
// rotation uses it because concurrent requests carry the same token.
func (d *Directory) TryRotate(refreshHash, deviceID, newRefreshHash string, now, newExpiresAt time.Time) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotateLocked(refreshHash, deviceID, newRefreshHash, now, newExpiresAt, false)
}

func (d *Directory) rotateLocked(refreshHash, deviceID, newRefreshHash string, now, newExpiresAt time.Time, strict bool) (Session, error) {
	id, ok := d.byRefresh[refreshHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	old := d.sessions[id]

	if !old.ExpiresAt.After(now) {
		return Session{}, ErrSessionExpired
	}
	if old.RevokedAt != nil {
		return Session{}, ErrSessionRevoked
	}
	if old.ReplacedBy != "" {
		if !strict {
			return Session{}, ErrSessionRevoked
		}
		d.revokeAllLocked(old.UserID, now)
		return Session{}, ErrRefreshReuseDetected
	}
	if deviceID != "" && old.DeviceID != "" && deviceID != old.DeviceID {
		return Session{}, ErrDeviceMismatch
	}

	next := d.createLocked(old.UserID, old.DeviceID, newRefreshHash, now, newExpiresAt)
	rotatedAt := now
	old.RotatedAt = &rotatedAt
	old.ReplacedBy = next.ID
	return next, nil
}

// Revoke ends one session. Revoking twice is not an error.
func (d *Directory) Revoke(sessionID string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.RevokedAt == nil {
		t := now
		s.RevokedAt = &t
	}
	return nil
}

// RevokeAll ends every session of userID.
func (d *Directory) RevokeAll(userID string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revokeAllLocked(userID, now)
}

func (d *Directory) revokeAllLocked(userID string, now time.Time) {
	for _, s := range d.sessions {
		if s.UserID != userID {
			continue
		}
		if s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
		}
	}
}

// AddNotification stores a notification for userID and returns it with the
// new unread count.
func (d *Directory) AddNotification(userID, kind, title, body string, now time.Time) (v1.NotificationPayload, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.accounts[userID]; !ok {
		return v1.NotificationPayload{}, 0, ErrUserNotFound
	}
	n := &notification{NotificationPayload: v1.NotificationPayload{
		ID:        newID(now),
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: now.UTC(),
	}}
	d.inbox[userID] = append(d.inbox[userID], n)
	return n.NotificationPayload, d.unreadLocked(userID), nil
}

// Notifications returns up to limit notifications of userID, newest first.
func (d *Directory) Notifications(userID string, limit int) []v1.NotificationPayload {
	d.mu.Lock()
	defer d.mu.Unlock()

	all := d.inbox[userID]
	out := make([]v1.NotificationPayload, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i].NotificationPayload)
	}
	return out
}

// MarkAllRead clears the unread counter of userID.
func (d *Directory) MarkAllRead(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, n := range d.inbox[userID] {
		n.read = true
	}
}

// UnreadCount returns the unread notifications of userID.
func (d *Directory) UnreadCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unreadLocked(userID)
}

func (d *Directory) unreadLocked(userID string) int {
	n := 0
	for _, x := range d.inbox[userID] {
		if !x.read {
			n++
		}
	}
	return n
}
