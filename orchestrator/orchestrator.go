// Package orchestrator runs one end-to-end claim cycle: resolve a session,
// list the free offers, skip what the account already owns, and drive the
// claim flow for the rest.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"egclaimer/browser"
	"egclaimer/catalog"
	"egclaimer/claim"
	clierrors "egclaimer/internal/errors"
	"egclaimer/session"
)

// OutcomePending marks an offer that was eligible but not attempted, either
// because the run was check-only or because an earlier offer hit a rate limit.
const OutcomePending claim.Outcome = "pending"

// CatalogService is the subset of the catalog client the orchestrator needs.
type CatalogService interface {
	FreeOffers(ctx context.Context) ([]catalog.Offer, catalog.Provenance, error)
	Entitlements(ctx context.Context, accessToken, accountID string) ([]catalog.Entitlement, error)
}

// SessionResolver yields an authenticated session.
type SessionResolver interface {
	Resolve(ctx context.Context) (*session.Session, error)
}

// Claimer drives one offer through the claim flow.
type Claimer interface {
	Run(ctx context.Context, offer catalog.Offer) *claim.Attempt
}

// SurfaceAcquirer opens a browser surface, reporting which strategy answered.
type SurfaceAcquirer func() (browser.Surface, browser.Strategy, error)

// MachineFactory binds a claim state machine to an acquired surface.
type MachineFactory func(surface browser.Surface) Claimer

// Config parameterises a run.
type Config struct {
	// CheckOnly lists offers and ownership without launching a browser.
	CheckOnly bool
	// VerifyAttempts and VerifyInterval pace the post-claim entitlement
	// poll; the grant shows up asynchronously after checkout.
	VerifyAttempts int
	VerifyInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.VerifyAttempts == 0 {
		c.VerifyAttempts = 10
	}
	if c.VerifyInterval == 0 {
		c.VerifyInterval = 3 * time.Second
	}
	return c
}

// OfferResult is one offer's outcome within a run.
type OfferResult struct {
	Offer    catalog.Offer
	Outcome  claim.Outcome
	Reason   string
	Verified bool
}

// Summary is the result of one run.
type Summary struct {
	Account    string
	Provenance catalog.Provenance
	Strategy   browser.Strategy
	Results    []OfferResult
}

// Count returns how many results carry the given outcome.
func (s Summary) Count(outcome claim.Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Orchestrator wires the session chain, catalog client and claim machine
// into one run.
type Orchestrator struct {
	creds      SessionResolver
	catalog    CatalogService
	acquire    SurfaceAcquirer
	newMachine MachineFactory
	cfg        Config
	log        zerolog.Logger
}

// New creates an orchestrator.
func New(creds SessionResolver, cat CatalogService, acquire SurfaceAcquirer, newMachine MachineFactory, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		creds:      creds,
		catalog:    cat,
		acquire:    acquire,
		newMachine: newMachine,
		cfg:        cfg.withDefaults(),
		log:        log,
	}
}

// Run executes one claim cycle. Offers the account already owns are settled
// from the entitlement list alone; the browser is only launched when at
// least one offer actually needs claiming.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	s, err := o.creds.Resolve(ctx)
	if err != nil {
		return summary, err
	}
	summary.Account = s.DisplayName

	offers, provenance, err := o.catalog.FreeOffers(ctx)
	if err != nil {
		return summary, err
	}
	summary.Provenance = provenance
	if provenance == catalog.ProvenanceMirror {
		o.log.Warn().Msg("offer list came from the mirror, not the storefront")
	}
	if len(offers) == 0 {
		o.log.Info().Msg("no free offers right now")
		return summary, nil
	}

	entitlements, err := o.catalog.Entitlements(ctx, s.AccessToken, s.AccountID)
	if err != nil {
		return summary, err
	}

	var pending []catalog.Offer
	for _, offer := range offers {
		if catalog.VerifyEntitlement(offer, entitlements) {
			o.log.Info().Str("title", offer.Title).Msg("already owned")
			summary.Results = append(summary.Results, OfferResult{
				Offer:    offer,
				Outcome:  claim.OutcomeAlreadyOwned,
				Verified: true,
			})
			continue
		}
		pending = append(pending, offer)
	}

	if len(pending) == 0 {
		o.log.Info().Msg("everything already in the library, nothing to claim")
		return summary, nil
	}
	if o.cfg.CheckOnly {
		for _, offer := range pending {
			summary.Results = append(summary.Results, OfferResult{
				Offer:   offer,
				Outcome: OutcomePending,
				Reason:  "check-only run",
			})
		}
		return summary, nil
	}

	surface, strategy, err := o.acquire()
	if err != nil {
		return summary, err
	}
	defer func() { _ = surface.Close() }()
	summary.Strategy = strategy
	o.log.Info().Str("strategy", string(strategy)).Int("offers", len(pending)).Msg("claiming")

	if err := surface.InjectCookies(ctx, sessionCookies(s)); err != nil {
		return summary, err
	}

	machine := o.newMachine(surface)
	halted := false
	for i, offer := range pending {
		if halted || ctx.Err() != nil {
			reason := "not attempted"
			if ctx.Err() != nil {
				reason = clierrors.ErrCancelled.Error()
			}
			summary.Results = append(summary.Results, OfferResult{
				Offer:   offer,
				Outcome: OutcomePending,
				Reason:  reason,
			})
			continue
		}

		attempt := machine.Run(ctx, offer)
		result := OfferResult{Offer: offer, Outcome: attempt.Outcome, Reason: attempt.Reason}

		if attempt.Outcome == claim.OutcomeClaimed {
			result.Verified = o.verifyClaim(ctx, s, offer)
		}
		if attempt.Outcome == claim.OutcomeRateLimited {
			// Further attempts would only deepen the block.
			o.log.Warn().Int("remaining", len(pending)-i-1).Msg("rate limited, halting run")
			halted = true
		}

		o.log.Info().Str("title", offer.Title).Str("outcome", string(attempt.Outcome)).
			Bool("verified", result.Verified).Msg("offer settled")
		summary.Results = append(summary.Results, result)
	}

	return summary, nil
}

// verifyClaim polls the entitlement list until the grant for the claimed
// offer shows up, or the attempts run out.
func (o *Orchestrator) verifyClaim(ctx context.Context, s *session.Session, offer catalog.Offer) bool {
	for attempt := 0; attempt < o.cfg.VerifyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(o.cfg.VerifyInterval):
			}
		}

		entitlements, err := o.catalog.Entitlements(ctx, s.AccessToken, s.AccountID)
		if err != nil {
			o.log.Debug().Err(err).Msg("entitlement poll failed")
			continue
		}
		if catalog.VerifyEntitlement(offer, entitlements) {
			return true
		}
	}
	o.log.Warn().Str("title", offer.Title).Msg("claim reported success but no entitlement appeared")
	return false
}

// sessionCookies converts the session's auth material into cookies for the
// automation context.
func sessionCookies(s *session.Session) []browser.Cookie {
	var cookies []browser.Cookie
	add := func(name, value string) {
		if value != "" {
			cookies = append(cookies, browser.Cookie{
				Name:   name,
				Value:  value,
				Domain: session.CookieDomain,
				Path:   "/",
			})
		}
	}

	add(session.CookieAccessToken, s.AccessToken)
	add(session.CookieRefreshToken, s.RefreshToken)
	for name, value := range s.Cookies {
		if name == session.CookieAccessToken || name == session.CookieRefreshToken {
			continue
		}
		add(name, value)
	}
	return cookies
}
