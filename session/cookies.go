package session

import "errors"

// Names of the storefront cookies that carry authentication material.
const (
	CookieAccessToken  = "EPIC_EG1"
	CookieRefreshToken = "REFRESH_EPIC_EG1"
	CookieSSO          = "EPIC_SSO"
	CookieChallenge    = "cf_clearance"
	CookieBearerHash   = "bearerTokenHash"
	CookieLocale       = "EPIC_LOCALE_COOKIE"
)

// CookieDomain is the domain the auth cookies are scoped to.
const CookieDomain = ".epicgames.com"

var (
	// ErrNotAccessToken is returned when a value lacks the access-token prefix.
	ErrNotAccessToken = errors.New("value is not a prefixed access token")
	// ErrMalformedToken is returned when the embedded JWT cannot be decoded.
	ErrMalformedToken = errors.New("malformed access token")
)
