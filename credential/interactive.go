package credential

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"egclaimer/browser"
	clierrors "egclaimer/internal/errors"
	"egclaimer/session"
)

const loginURL = "https://www.epicgames.com/id/login?redirectUrl=https%3A%2F%2Fwww.epicgames.com%2F"

// SurfaceFactory opens a headed browser for the user to log in with.
type SurfaceFactory func() (browser.Surface, error)

// InteractiveLogin resolves a session by opening a visible browser on the
// storefront's login page and waiting for the user to authenticate. Last
// resort: it blocks on a human.
type InteractiveLogin struct {
	open    SurfaceFactory
	saver   SessionSaver
	log     zerolog.Logger
	nowTime func() time.Time

	// timeout bounds the whole login wait; pollInterval paces cookie checks.
	timeout      time.Duration
	pollInterval time.Duration
}

var _ Source = (*InteractiveLogin)(nil)

// InteractiveOption modifies an InteractiveLogin source.
type InteractiveOption func(*InteractiveLogin)

// WithLoginTimeout bounds how long the user has to complete the login.
func WithLoginTimeout(d time.Duration) InteractiveOption {
	return func(i *InteractiveLogin) { i.timeout = d }
}

// WithLoginPollInterval paces the cookie checks.
func WithLoginPollInterval(d time.Duration) InteractiveOption {
	return func(i *InteractiveLogin) { i.pollInterval = d }
}

// WithLoginNowTime sets the now time function (primarily for testing).
func WithLoginNowTime(now func() time.Time) InteractiveOption {
	return func(i *InteractiveLogin) { i.nowTime = now }
}

// NewInteractiveLogin creates the interactive-login source.
func NewInteractiveLogin(open SurfaceFactory, saver SessionSaver, log zerolog.Logger, options ...InteractiveOption) *InteractiveLogin {
	src := &InteractiveLogin{
		open:         open,
		saver:        saver,
		log:          log,
		nowTime:      time.Now,
		timeout:      5 * time.Minute,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range options {
		opt(src)
	}
	return src
}

func (i *InteractiveLogin) Name() string { return "interactive-login" }

// Resolve opens the login page and polls the browser's cookies until the
// auth cookie appears or the timeout passes.
func (i *InteractiveLogin) Resolve(ctx context.Context) (*session.Session, error) {
	surface, err := i.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = surface.Close() }()

	if err := surface.Open(ctx, loginURL); err != nil {
		return nil, err
	}
	i.log.Info().Dur("timeout", i.timeout).Msg("waiting for user to complete login")

	deadline := i.nowTime().Add(i.timeout)
	for {
		if s := i.harvest(ctx, surface); s != nil {
			if err := i.saver.Save(s); err != nil {
				i.log.Warn().Err(err).Msg("login session not persisted")
			}
			return s, nil
		}

		if i.nowTime().After(deadline) {
			return nil, clierrors.Wrapf(clierrors.ErrAuthentication, "login not completed within %s", i.timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(i.pollInterval):
		}
	}
}

// harvest builds a session from the browser's cookies once the auth cookie
// is present. Returns nil while the login is still in progress.
func (i *InteractiveLogin) harvest(ctx context.Context, surface browser.Surface) *session.Session {
	cookies, err := surface.Cookies(ctx)
	if err != nil {
		i.log.Debug().Err(err).Msg("cookie read failed, retrying")
		return nil
	}

	byName := make(map[string]string, len(cookies))
	for _, c := range cookies {
		byName[c.Name] = c.Value
	}

	token, ok := byName[session.CookieAccessToken]
	if !ok {
		return nil
	}
	s, err := session.FromAccessToken(token)
	if err != nil {
		i.log.Debug().Err(err).Msg("auth cookie present but unparseable, retrying")
		return nil
	}

	if refresh, ok := byName[session.CookieRefreshToken]; ok {
		s.RefreshToken = refresh
		s.RefreshExpiresAt = i.nowTime().Add(browserRefreshValidity)
	}
	s.SetCookie(session.CookieSSO, byName[session.CookieSSO])
	s.SetCookie(session.CookieChallenge, byName[session.CookieChallenge])

	i.log.Info().Str("account", s.DisplayName).Msg("login completed")
	return s
}
