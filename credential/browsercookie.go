package credential

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"egclaimer/browsercookie"
	clierrors "egclaimer/internal/errors"
	"egclaimer/session"
)

// browserRefreshValidity is assumed for a refresh token harvested from a
// browser cookie. The cookie store records no expiry we can trust, and the
// storefront issues refresh tokens with a multi-week lifetime.
const browserRefreshValidity = 30 * 24 * time.Hour

// CookieExtractor reads the storefront's auth cookies from a local browser.
type CookieExtractor interface {
	Extract(ctx context.Context) (browsercookie.Cookies, error)
}

// BrowserCookie resolves a session from the cookies of an installed browser
// where the user is already logged in to the storefront.
type BrowserCookie struct {
	extractor CookieExtractor
	tokens    TokenService
	saver     SessionSaver
	log       zerolog.Logger
	nowTime   func() time.Time
}

var _ Source = (*BrowserCookie)(nil)

// BrowserCookieOption modifies a BrowserCookie source.
type BrowserCookieOption func(*BrowserCookie)

// WithBrowserNowTime sets the now time function (primarily for testing).
func WithBrowserNowTime(now func() time.Time) BrowserCookieOption {
	return func(b *BrowserCookie) { b.nowTime = now }
}

// NewBrowserCookie creates the browser-cookie source.
func NewBrowserCookie(extractor CookieExtractor, tokens TokenService, saver SessionSaver, log zerolog.Logger, options ...BrowserCookieOption) *BrowserCookie {
	src := &BrowserCookie{
		extractor: extractor,
		tokens:    tokens,
		saver:     saver,
		log:       log,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(src)
	}
	return src
}

func (b *BrowserCookie) Name() string { return "browser-cookies" }

// Resolve extracts the auth cookies and builds a session from them. The
// access token's own embedded expiry decides whether it is used directly or
// exchanged through the refresh token.
func (b *BrowserCookie) Resolve(ctx context.Context) (*session.Session, error) {
	cookies, err := b.extractor.Extract(ctx)
	if err != nil {
		return nil, clierrors.Wrapf(clierrors.ErrNoCredential, "%v", err)
	}

	now := b.nowTime()

	var s *session.Session
	if cookies.HasAccessToken() {
		s, err = session.FromAccessToken(cookies.AccessToken)
		if err != nil {
			b.log.Warn().Err(err).Msg("browser access token unparseable")
			s = nil
		}
	}
	if s == nil {
		if !cookies.HasRefreshToken() {
			return nil, clierrors.Wrapf(clierrors.ErrNoCredential, "no usable auth cookies")
		}
		s = &session.Session{}
	}

	if cookies.HasRefreshToken() {
		s.RefreshToken = cookies.RefreshToken
		s.RefreshExpiresAt = now.Add(browserRefreshValidity)
	}
	s.SetCookie(session.CookieSSO, cookies.SSO)
	s.SetCookie(session.CookieChallenge, cookies.Challenge)
	s.SetCookie(session.CookieBearerHash, cookies.BearerHash)

	if !s.IsValid(now) {
		if !s.IsRefreshable(now) {
			return nil, clierrors.Wrapf(clierrors.ErrTokenExpired, "browser cookies expired")
		}
		s, err = b.tokens.RefreshSession(ctx, s)
		if err != nil {
			return nil, err
		}
	}

	if err := b.saver.Save(s); err != nil {
		b.log.Warn().Err(err).Msg("harvested session not persisted")
	}
	return s, nil
}
