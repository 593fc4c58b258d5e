package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the pair of bearer credentials issued by the backend.
// An empty AccessToken means unauthenticated, whatever RefreshToken holds.
type Session struct {
	AccessToken  string
	RefreshToken string
}

func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

func (s Session) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// TokenClaims is the subset of access-token claims the client reads.
type TokenClaims struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token expiry is known and before now.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

var ErrNoAccessToken = errors.New("session has no access token")

// Claims decodes the access token without verifying its signature.
// The backend is the only party that validates tokens; the client only needs the
// user id to key the bound cart.
func (s Session) Claims() (TokenClaims, error) {
	if s.AccessToken == "" {
		return TokenClaims{}, ErrNoAccessToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return TokenClaims{}, fmt.Errorf("parse access token: %w", err)
	}

	var out TokenClaims
	switch v := claims["user_id"].(type) {
	case string:
		out.UserID = v
	case float64:
		out.UserID = strconv.FormatInt(int64(v), 10)
	}
	if out.UserID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			out.UserID = sub
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// OwnerID is the user id carried by the access token, or "" when it cannot be read.
func (s Session) OwnerID() string {
	c, err := s.Claims()
	if err != nil {
		return ""
	}
	return c.UserID
}
