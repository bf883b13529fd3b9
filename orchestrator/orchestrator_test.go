package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"egclaimer/browser"
	"egclaimer/browser/surfacefake"
	"egclaimer/catalog"
	"egclaimer/claim"
	"egclaimer/orchestrator"
	"egclaimer/session"
)

type fakeResolver struct {
	s   *session.Session
	err error
}

func (f *fakeResolver) Resolve(_ context.Context) (*session.Session, error) {
	return f.s, f.err
}

type fakeCatalog struct {
	offers     []catalog.Offer
	provenance catalog.Provenance
	offersErr  error

	// entitlementPages is returned call by call; the last page repeats.
	entitlementPages [][]catalog.Entitlement
	entitlementCalls int
}

func (f *fakeCatalog) FreeOffers(_ context.Context) ([]catalog.Offer, catalog.Provenance, error) {
	return f.offers, f.provenance, f.offersErr
}

func (f *fakeCatalog) Entitlements(_ context.Context, _, _ string) ([]catalog.Entitlement, error) {
	f.entitlementCalls++
	if len(f.entitlementPages) == 0 {
		return nil, nil
	}
	idx := f.entitlementCalls - 1
	if idx >= len(f.entitlementPages) {
		idx = len(f.entitlementPages) - 1
	}
	return f.entitlementPages[idx], nil
}

type fakeClaimer struct {
	outcomes map[string]claim.Outcome
	ran      []string
}

func (f *fakeClaimer) Run(_ context.Context, offer catalog.Offer) *claim.Attempt {
	f.ran = append(f.ran, offer.OfferID)
	outcome, ok := f.outcomes[offer.OfferID]
	if !ok {
		outcome = claim.OutcomeClaimed
	}
	return &claim.Attempt{Offer: offer, Outcome: outcome}
}

func testSession() *session.Session {
	return &session.Session{
		AccessToken: "eg1~token",
		AccountID:   "acc-123",
		DisplayName: "player-one",
		Cookies:     map[string]string{session.CookieChallenge: "clearance"},
	}
}

func offerA() catalog.Offer {
	return catalog.Offer{OfferID: "offer-a", Namespace: "ns-a", Title: "Game A", Slug: "game-a"}
}

func offerB() catalog.Offer {
	return catalog.Offer{OfferID: "offer-b", Namespace: "ns-b", Title: "Game B", Slug: "game-b"}
}

func fastCfg() orchestrator.Config {
	return orchestrator.Config{VerifyAttempts: 3, VerifyInterval: time.Millisecond}
}

func newOrchestrator(t *testing.T, resolver *fakeResolver, cat *fakeCatalog, claimer *fakeClaimer, cfg orchestrator.Config) (*orchestrator.Orchestrator, *fakesurface.FakeSurface, *bool) {
	t.Helper()
	surface := fakesurface.New(&fakesurface.View{})
	acquired := false
	acquire := func() (browser.Surface, browser.Strategy, error) {
		acquired = true
		return surface, browser.StrategyBundled, nil
	}
	factory := func(browser.Surface) orchestrator.Claimer { return claimer }
	return orchestrator.New(resolver, cat, acquire, factory, cfg, zerolog.Nop()), surface, &acquired
}

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("fully owned catalog never launches a browser", func(t *testing.T) {
		cat := &fakeCatalog{
			offers:     []catalog.Offer{offerA(), offerB()},
			provenance: catalog.ProvenancePrimary,
			entitlementPages: [][]catalog.Entitlement{{
				{Namespace: "ns-a"},
				{Namespace: "ns-b"},
			}},
		}
		claimer := &fakeClaimer{}
		o, _, acquired := newOrchestrator(t, &fakeResolver{s: testSession()}, cat, claimer, fastCfg())

		summary, err := o.Run(ctx)

		require.NoError(t, err)
		require.False(t, *acquired)
		require.Empty(t, claimer.ran)
		require.Equal(t, 2, summary.Count(claim.OutcomeAlreadyOwned))
	})

	t.Run("claims pending offers and verifies the grant", func(t *testing.T) {
		cat := &fakeCatalog{
			offers:     []catalog.Offer{offerA()},
			provenance: catalog.ProvenancePrimary,
			entitlementPages: [][]catalog.Entitlement{
				{},                    // pre-claim ownership check
				{},                    // first verification poll: grant not yet visible
				{{Namespace: "ns-a"}}, // grant landed
			},
		}
		claimer := &fakeClaimer{}
		o, surface, acquired := newOrchestrator(t, &fakeResolver{s: testSession()}, cat, claimer, fastCfg())

		summary, err := o.Run(ctx)

		require.NoError(t, err)
		require.True(t, *acquired)
		require.Equal(t, []string{"offer-a"}, claimer.ran)
		require.Len(t, summary.Results, 1)
		require.Equal(t, claim.OutcomeClaimed, summary.Results[0].Outcome)
		require.True(t, summary.Results[0].Verified)
		require.True(t, surface.Closed)
	})

	t.Run("rate limit halts the remaining offers", func(t *testing.T) {
		cat := &fakeCatalog{
			offers:     []catalog.Offer{offerA(), offerB()},
			provenance: catalog.ProvenancePrimary,
		}
		claimer := &fakeClaimer{outcomes: map[string]claim.Outcome{
			"offer-a": claim.OutcomeRateLimited,
		}}
		o, surface, _ := newOrchestrator(t, &fakeResolver{s: testSession()}, cat, claimer, fastCfg())

		summary, err := o.Run(ctx)

		require.NoError(t, err)
		require.Equal(t, []string{"offer-a"}, claimer.ran)
		require.Equal(t, 1, summary.Count(claim.OutcomeRateLimited))
		require.Equal(t, 1, summary.Count(orchestrator.OutcomePending))
		require.True(t, surface.Closed)
	})

	t.Run("check-only reports eligibility without a browser", func(t *testing.T) {
		cat := &fakeCatalog{
			offers:           []catalog.Offer{offerA(), offerB()},
			provenance:       catalog.ProvenancePrimary,
			entitlementPages: [][]catalog.Entitlement{{{Namespace: "ns-a"}}},
		}
		cfg := fastCfg()
		cfg.CheckOnly = true
		claimer := &fakeClaimer{}
		o, _, acquired := newOrchestrator(t, &fakeResolver{s: testSession()}, cat, claimer, cfg)

		summary, err := o.Run(ctx)

		require.NoError(t, err)
		require.False(t, *acquired)
		require.Empty(t, claimer.ran)
		require.Equal(t, 1, summary.Count(claim.OutcomeAlreadyOwned))
		require.Equal(t, 1, summary.Count(orchestrator.OutcomePending))
	})

	t.Run("mirror provenance is surfaced on the summary", func(t *testing.T) {
		cat := &fakeCatalog{
			offers:           []catalog.Offer{offerA()},
			provenance:       catalog.ProvenanceMirror,
			entitlementPages: [][]catalog.Entitlement{{{Namespace: "ns-a"}}},
		}
		o, _, _ := newOrchestrator(t, &fakeResolver{s: testSession()}, cat, &fakeClaimer{}, fastCfg())

		summary, err := o.Run(ctx)

		require.NoError(t, err)
		require.Equal(t, catalog.ProvenanceMirror, summary.Provenance)
	})

	t.Run("session cookies reach the automation context", func(t *testing.T) {
		cat := &fakeCatalog{
			offers:           []catalog.Offer{offerA()},
			provenance:       catalog.ProvenancePrimary,
			entitlementPages: [][]catalog.Entitlement{{}, {{Namespace: "ns-a"}}},
		}
		o, surface, _ := newOrchestrator(t, &fakeResolver{s: testSession()}, cat, &fakeClaimer{}, fastCfg())

		_, err := o.Run(ctx)
		require.NoError(t, err)

		names := make(map[string]string)
		for _, c := range surface.Injected {
			names[c.Name] = c.Value
		}
		require.Equal(t, "eg1~token", names[session.CookieAccessToken])
		require.Equal(t, "clearance", names[session.CookieChallenge])
	})

	t.Run("end to end: general and adult offers both claimed", func(t *testing.T) {
		const (
			ctaSelector     = `button[data-testid="purchase-cta-button"]`
			confirmSelector = `button[data-testid="purchase-app-confirm-order-button"]`
		)
		buildFlow := func(surface *fakesurface.FakeSurface, offer catalog.Offer, ageGated bool) {
			success := &fakesurface.View{Text: "thank you for your order"}
			checkout := &fakesurface.View{
				Text:        "Review your order",
				Visible:     []string{confirmSelector},
				Transitions: map[string]*fakesurface.View{confirmSelector: success},
			}
			product := &fakesurface.View{
				Text:        "Get this game",
				Visible:     []string{ctaSelector},
				Transitions: map[string]*fakesurface.View{ctaSelector: checkout},
			}
			entry := product
			if ageGated {
				entry = &fakesurface.View{
					Text:        "This content may not be appropriate for all ages. Enter your date of birth.",
					Visible:     []string{"#day_toggle", "#month_toggle", "#year_toggle", "#btn_age_continue"},
					Transitions: map[string]*fakesurface.View{"#btn_age_continue": product},
				}
			}
			surface.Route(offer.StoreURL("en-US"), entry)
		}

		adult := offerB()
		adult.IsAdultOnly = true

		surface := fakesurface.New(&fakesurface.View{})
		buildFlow(surface, offerA(), false)
		buildFlow(surface, adult, true)

		cat := &fakeCatalog{
			offers:     []catalog.Offer{offerA(), adult},
			provenance: catalog.ProvenancePrimary,
			entitlementPages: [][]catalog.Entitlement{
				{}, // pre-claim ownership check
				{{Namespace: "ns-a"}},
				{{Namespace: "ns-a"}, {Namespace: "ns-b"}},
			},
		}
		acquire := func() (browser.Surface, browser.Strategy, error) {
			return surface, browser.StrategyBundled, nil
		}
		factory := func(s browser.Surface) orchestrator.Claimer {
			return claim.NewMachine(s, claim.Config{
				Locale:              "en-US",
				ClaimWait:           5 * time.Millisecond,
				CheckoutWait:        time.Millisecond,
				CheckoutRetries:     2,
				SettleDelay:         time.Millisecond,
				CaptchaCeiling:      10 * time.Millisecond,
				CaptchaPollInterval: time.Millisecond,
				ResultWait:          5 * time.Millisecond,
			}, zerolog.Nop())
		}
		o := orchestrator.New(&fakeResolver{s: testSession()}, cat, acquire, factory, fastCfg(), zerolog.Nop())

		summary, err := o.Run(ctx)

		require.NoError(t, err)
		require.Equal(t, 2, summary.Count(claim.OutcomeClaimed))
		for _, r := range summary.Results {
			require.True(t, r.Verified, "offer %s not verified", r.Offer.Title)
		}
		require.Contains(t, surface.Clicks, "#btn_age_continue")
		require.True(t, surface.Closed)
	})

	t.Run("cancelled context leaves later offers pending", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		cat := &fakeCatalog{
			offers:     []catalog.Offer{offerA(), offerB()},
			provenance: catalog.ProvenancePrimary,
		}
		claimer := &fakeClaimer{}
		o, _, _ := newOrchestrator(t, &fakeResolver{s: testSession()}, cat, claimer, fastCfg())

		summary, err := o.Run(cancelled)

		require.NoError(t, err)
		require.Empty(t, claimer.ran)
		require.Equal(t, 2, summary.Count(orchestrator.OutcomePending))
		for _, r := range summary.Results {
			require.Equal(t, "run cancelled", r.Reason)
		}
	})
}
