package session

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// AccessTokenPrefix is prepended by the storefront to the JWT carried in the
// auth cookie. It must be stripped before the token can be parsed.
const AccessTokenPrefix = "eg1~"

// validityBuffer is subtracted from the access expiry so a token that is
// about to expire mid-run is treated as already stale.
const validityBuffer = 5 * time.Minute

// Session stores authentication tokens and account information for one
// storefront account. It is owned by the Store; callers hold a transient
// read reference for the duration of a run.
type Session struct {
	AccessToken      string            `json:"access_token"`
	RefreshToken     string            `json:"refresh_token"`
	AccountID        string            `json:"account_id"`
	DisplayName      string            `json:"display_name"`
	AccessExpiresAt  time.Time         `json:"expires_at"`
	RefreshExpiresAt time.Time         `json:"refresh_expires_at"`
	Cookies          map[string]string `json:"cookies,omitempty"`
}

// IsValid reports whether the access token can still be used, with a
// five-minute buffer before the actual expiry.
func (s *Session) IsValid(now time.Time) bool {
	if s == nil || s.AccessToken == "" || s.AccessExpiresAt.IsZero() {
		return false
	}
	return now.Before(s.AccessExpiresAt.Add(-validityBuffer))
}

// IsRefreshable reports whether the refresh token can still be exchanged
// for a new access token.
func (s *Session) IsRefreshable(now time.Time) bool {
	if s == nil || s.RefreshToken == "" || s.RefreshExpiresAt.IsZero() {
		return false
	}
	return now.Before(s.RefreshExpiresAt)
}

// TimeUntilExpiry returns the remaining access-token lifetime, clamped at zero.
func (s *Session) TimeUntilExpiry(now time.Time) time.Duration {
	if s == nil || s.AccessExpiresAt.IsZero() {
		return 0
	}
	remaining := s.AccessExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetCookie records a named cookie on the session, allocating the map on
// first use.
func (s *Session) SetCookie(name, value string) {
	if value == "" {
		return
	}
	if s.Cookies == nil {
		s.Cookies = make(map[string]string)
	}
	s.Cookies[name] = value
}

// FromAccessToken builds a Session from a prefixed access token harvested
// from a browser cookie. Account id, display name and expiry are taken from
// the token's own embedded claims ("sub", "dn", "exp") rather than from any
// wall-clock assumption. The token is parsed unverified: the storefront
// signs it with keys we do not hold, and the servers re-verify it anyway.
func FromAccessToken(token string) (*Session, error) {
	if !strings.HasPrefix(token, AccessTokenPrefix) {
		return nil, ErrNotAccessToken
	}

	raw := strings.TrimPrefix(token, AccessTokenPrefix)
	parsed, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrMalformedToken
	}

	s := &Session{AccessToken: token}
	if sub, ok := claims["sub"].(string); ok {
		s.AccountID = sub
	}
	if dn, ok := claims["dn"].(string); ok {
		s.DisplayName = dn
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.AccessExpiresAt = exp.Time
	}
	s.SetCookie(CookieAccessToken, token)

	return s, nil
}
