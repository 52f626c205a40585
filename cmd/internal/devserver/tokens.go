package devserver

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the identity carried by an access token.
type AccessClaims struct {
	UserID    string
	CompanyID string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessClaims struct {
	UserID    string `json:"uid"`
	CompanyID string `json:"cid,omitempty"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// tokenManager issues and verifies HS256 access tokens.
type tokenManager struct {
	issuer    string
	key       []byte
	ttl       time.Duration
	clockSkew time.Duration
}

func newTokenManager(cfg Config, key []byte) *tokenManager {
	return &tokenManager{
		issuer:    cfg.Issuer,
		key:       key,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
	}
}

func (m *tokenManager) Issue(u User, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)
	claims := accessClaims{
		UserID:    u.ID,
		CompanyID: u.CompanyID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// Unique per issue so a reissue within the same second differs.
			ID: NewRandomHex(8),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *tokenManager) Verify(token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 8192 {
		return AccessClaims{}, ErrInvalidToken
	}

	var c accessClaims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if c.UserID == "" || c.SessionID == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	out := AccessClaims{UserID: c.UserID, CompanyID: c.CompanyID, SessionID: c.SessionID}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
