package credential

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	clierrors "egclaimer/internal/errors"
	"egclaimer/session"
)

// SessionLoader reads the persisted session, nil when none exists.
type SessionLoader interface {
	Load() *session.Session
	Save(s *session.Session) error
}

// SavedSession resolves from the session persisted by a previous run,
// refreshing the tokens when the access token has gone stale.
type SavedSession struct {
	store   SessionLoader
	tokens  TokenService
	log     zerolog.Logger
	nowTime func() time.Time
}

var _ Source = (*SavedSession)(nil)

// SavedSessionOption modifies a SavedSession source.
type SavedSessionOption func(*SavedSession)

// WithSavedNowTime sets the now time function (primarily for testing).
func WithSavedNowTime(now func() time.Time) SavedSessionOption {
	return func(s *SavedSession) { s.nowTime = now }
}

// NewSavedSession creates the persisted-session source.
func NewSavedSession(store SessionLoader, tokens TokenService, log zerolog.Logger, options ...SavedSessionOption) *SavedSession {
	src := &SavedSession{store: store, tokens: tokens, log: log, nowTime: time.Now}
	for _, opt := range options {
		opt(src)
	}
	return src
}

func (s *SavedSession) Name() string { return "saved-session" }

// Resolve loads the persisted session. A still-valid access token is
// confirmed against the storefront before use; a stale one is exchanged via
// the refresh token. The renewed session is persisted before it is returned.
func (s *SavedSession) Resolve(ctx context.Context) (*session.Session, error) {
	saved := s.store.Load()
	if saved == nil {
		return nil, clierrors.ErrNoCredential
	}

	now := s.nowTime()
	if saved.IsValid(now) {
		ok, err := s.tokens.VerifyToken(ctx, saved)
		if err != nil {
			return nil, err
		}
		if ok {
			return saved, nil
		}
		s.log.Debug().Msg("persisted access token rejected, trying refresh")
	}

	if !saved.IsRefreshable(now) {
		return nil, clierrors.Wrapf(clierrors.ErrRefreshExpired, "persisted session beyond renewal")
	}

	renewed, err := s.tokens.RefreshSession(ctx, saved)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(renewed); err != nil {
		s.log.Warn().Err(err).Msg("renewed session not persisted")
	}
	return renewed, nil
}
