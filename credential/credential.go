// Package credential resolves an authenticated storefront session from a
// prioritized chain of sources: the persisted session first, then cookies
// harvested from an installed browser, then an interactive login as the last
// resort.
package credential

import (
	"context"

	"github.com/rs/zerolog"

	clierrors "egclaimer/internal/errors"
	"egclaimer/session"
)

// Source yields an authenticated session, or an error when it cannot.
// Sources are independent; one failing never prevents the next from running.
type Source interface {
	Name() string
	Resolve(ctx context.Context) (*session.Session, error)
}

// TokenService is the subset of the catalog client the sources need to
// validate and renew tokens.
type TokenService interface {
	VerifyToken(ctx context.Context, s *session.Session) (bool, error)
	RefreshSession(ctx context.Context, s *session.Session) (*session.Session, error)
}

// SessionSaver persists a resolved session for the next run.
type SessionSaver interface {
	Save(s *session.Session) error
}

// Chain tries each source in order and returns the first session resolved.
type Chain struct {
	sources []Source
	log     zerolog.Logger
}

// NewChain builds a chain over the given sources, tried in order.
func NewChain(log zerolog.Logger, sources ...Source) *Chain {
	return &Chain{sources: sources, log: log}
}

// Resolve returns the first session any source yields. When every source
// fails it returns ErrAuthentication; the individual failures are logged,
// not aggregated, because the caller can only react to the chain as a whole.
func (c *Chain) Resolve(ctx context.Context) (*session.Session, error) {
	for _, src := range c.sources {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		s, err := src.Resolve(ctx)
		if err == nil && s != nil {
			c.log.Info().Str("source", src.Name()).Str("account", s.DisplayName).
				Msg("session resolved")
			return s, nil
		}
		c.log.Warn().Err(err).Str("source", src.Name()).Msg("credential source failed")
	}
	return nil, clierrors.Wrapf(clierrors.ErrAuthentication, "all credential sources exhausted")
}
