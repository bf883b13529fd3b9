package claim_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"egclaimer/browser/surfacefake"
	"egclaimer/catalog"
	"egclaimer/claim"
)

const (
	ctaSelector     = `button[data-testid="purchase-cta-button"]`
	confirmSelector = `button[data-testid="purchase-app-confirm-order-button"]`
	frameSelector   = `iframe[src*="hcaptcha.com"]`
	challengeFrame  = `iframe[src*="hcaptcha.com"][src*="frame=challenge"]`
)

func fastConfig() claim.Config {
	return claim.Config{
		Locale:              "en-US",
		ClaimWait:           5 * time.Millisecond,
		CheckoutWait:        time.Millisecond,
		CheckoutRetries:     2,
		SettleDelay:         time.Millisecond,
		CaptchaCeiling:      20 * time.Millisecond,
		CaptchaPollInterval: time.Millisecond,
		ResultWait:          5 * time.Millisecond,
	}
}

func testOffer() catalog.Offer {
	return catalog.Offer{
		OfferID:       "offer0000000000000000000000000001",
		Namespace:     "ns000000000000000000000000000001",
		CatalogItemID: "item0000000000000000000000000001",
		Title:         "Test Game",
		Slug:          "test-game",
	}
}

func newMachine(surface *fakesurface.FakeSurface, cfg claim.Config) *claim.Machine {
	return claim.NewMachine(surface, cfg, zerolog.Nop())
}

func TestMachineRun(t *testing.T) {
	offer := testOffer()

	t.Run("happy path walks every state and claims", func(t *testing.T) {
		success := &fakesurface.View{
			URL:  "https://store.example/receipt/123",
			Text: "Thank you for your order",
		}
		checkout := &fakesurface.View{
			Text:        "Review your order",
			Visible:     []string{confirmSelector},
			Transitions: map[string]*fakesurface.View{confirmSelector: success},
		}
		product := &fakesurface.View{
			Text:        "Get this game for free",
			Visible:     []string{ctaSelector},
			Transitions: map[string]*fakesurface.View{ctaSelector: checkout},
		}

		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), product)

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeClaimed, attempt.Outcome)
		for _, state := range []claim.State{
			claim.StateInit,
			claim.StateNavigated,
			claim.StateOwnershipChecked,
			claim.StateClaimInitiated,
			claim.StateCheckoutConfirmed,
			claim.StateResultDetected,
			claim.StateTerminal,
		} {
			require.True(t, attempt.Passed(state), "missing state %s", state)
		}
		require.False(t, attempt.Passed(claim.StateAgeGated))
		require.False(t, attempt.Passed(claim.StateCaptchaWait))
	})

	t.Run("already owned short-circuits before any purchase action", func(t *testing.T) {
		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
			Text:    "You already own this item. Check your library.",
			Visible: []string{ctaSelector},
		})

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeAlreadyOwned, attempt.Outcome)
		require.False(t, attempt.Passed(claim.StateClaimInitiated))
		require.Empty(t, surface.Clicks)
	})

	t.Run("success text wins over stale ownership text", func(t *testing.T) {
		final := &fakesurface.View{
			Text: "Thank you for your order. You already own this item.",
		}
		checkout := &fakesurface.View{
			Text:        "Review your order",
			Visible:     []string{confirmSelector},
			Transitions: map[string]*fakesurface.View{confirmSelector: final},
		}
		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
			Text:        "Get this game",
			Visible:     []string{ctaSelector},
			Transitions: map[string]*fakesurface.View{ctaSelector: checkout},
		})

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeClaimed, attempt.Outcome)
	})

	t.Run("claim click completing the order in place is a success", func(t *testing.T) {
		// No separate confirmation control and no URL change: the success
		// text is the only signal, and the flow must not re-enter checkout.
		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
			Text:    "Get this game",
			Visible: []string{ctaSelector},
			Transitions: map[string]*fakesurface.View{
				ctaSelector: {Text: "Purchase complete. Thank you for your order."},
			},
		})

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeClaimed, attempt.Outcome)
		require.NotContains(t, surface.Opened, offer.CheckoutURL())
		require.Equal(t, []string{offer.StoreURL("en-US")}, surface.Opened)
	})

	t.Run("code redemption offers are rejected up front", func(t *testing.T) {
		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
			Text: "error: invalid_offers_code_redemption_only",
		})

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeFailed, attempt.Outcome)
		require.False(t, attempt.Passed(claim.StateClaimInitiated))
	})

	t.Run("missing claim control falls back to the direct checkout url", func(t *testing.T) {
		success := &fakesurface.View{Text: "order complete"}
		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
			Text: "A free game, but the button is missing",
		})
		surface.Route(offer.CheckoutURL(), &fakesurface.View{
			Text:        "Review your order",
			Visible:     []string{confirmSelector},
			Transitions: map[string]*fakesurface.View{confirmSelector: success},
		})

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeClaimed, attempt.Outcome)
		require.Contains(t, surface.Opened, offer.CheckoutURL())
	})

	t.Run("rate limit marker produces a distinct outcome", func(t *testing.T) {
		limited := &fakesurface.View{
			Text: "You can no longer download free games. Please wait 24 hours.",
		}
		checkout := &fakesurface.View{
			Text:        "Review your order",
			Visible:     []string{confirmSelector},
			Transitions: map[string]*fakesurface.View{confirmSelector: limited},
		}
		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
			Text:        "Get this game",
			Visible:     []string{ctaSelector},
			Transitions: map[string]*fakesurface.View{ctaSelector: checkout},
		})

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeRateLimited, attempt.Outcome)
	})
}

func TestMachineChallengeDetection(t *testing.T) {
	offer := testOffer()

	runWithFinalView := func(t *testing.T, final *fakesurface.View) (*claim.Attempt, *fakesurface.FakeSurface) {
		t.Helper()
		checkout := &fakesurface.View{
			Text:        "Review your order",
			Visible:     []string{confirmSelector},
			Transitions: map[string]*fakesurface.View{confirmSelector: final},
		}
		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
			Text:        "Get this game",
			Visible:     []string{ctaSelector},
			Transitions: map[string]*fakesurface.View{ctaSelector: checkout},
		})
		return newMachine(surface, fastConfig()).Run(context.Background(), offer), surface
	}

	t.Run("frame and keyword together mean a challenge", func(t *testing.T) {
		attempt, _ := runWithFinalView(t, &fakesurface.View{
			Text:    "Security check: select the item below",
			Visible: []string{frameSelector, challengeFrame},
		})

		require.Equal(t, claim.OutcomeCaptchaUnresolved, attempt.Outcome)
		require.True(t, attempt.Passed(claim.StateCaptchaWait))
	})

	t.Run("visible frame without a keyword is not a challenge", func(t *testing.T) {
		attempt, _ := runWithFinalView(t, &fakesurface.View{
			Text:    "Processing your order",
			Visible: []string{frameSelector, challengeFrame},
		})

		require.False(t, attempt.Passed(claim.StateCaptchaWait))
		require.Equal(t, claim.OutcomeFailed, attempt.Outcome)
	})

	t.Run("keyword without a visible frame is not a challenge", func(t *testing.T) {
		attempt, _ := runWithFinalView(t, &fakesurface.View{
			Text: "Complete a security check to continue",
		})

		require.False(t, attempt.Passed(claim.StateCaptchaWait))
		require.Equal(t, claim.OutcomeFailed, attempt.Outcome)
	})

	t.Run("rate limit during challenge wait halts with rate limited", func(t *testing.T) {
		attempt, _ := runWithFinalView(t, &fakesurface.View{
			Text:    "Security check: select the item. You must wait 24 hours.",
			Visible: []string{frameSelector, challengeFrame},
		})

		require.Equal(t, claim.OutcomeRateLimited, attempt.Outcome)
		require.True(t, attempt.Passed(claim.StateCaptchaWait))
	})
}

func TestMachineAgeGate(t *testing.T) {
	offer := testOffer()

	t.Run("birth date dropdowns pass the gate", func(t *testing.T) {
		success := &fakesurface.View{Text: "order complete"}
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
		gate := &fakesurface.View{
			Text:    "This content may not be appropriate for all ages. Please enter your date of birth.",
			Visible: []string{"#day_toggle", "#month_toggle", "#year_toggle", "#btn_age_continue"},
			Transitions: map[string]*fakesurface.View{
				"#btn_age_continue": product,
			},
		}

		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), gate)

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeClaimed, attempt.Outcome)
		require.True(t, attempt.Passed(claim.StateAgeGated))
		require.Contains(t, surface.Clicks, "#btn_age_continue")
	})

	t.Run("gate that survives the script bypass fails the attempt", func(t *testing.T) {
		surface := fakesurface.New(&fakesurface.View{})
		surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
			Text: "Please provide your date of birth to continue.",
		})

		attempt := newMachine(surface, fastConfig()).Run(context.Background(), offer)

		require.Equal(t, claim.OutcomeAgeGateFailed, attempt.Outcome)
		require.True(t, attempt.Passed(claim.StateAgeGated))
		require.NotEmpty(t, surface.Scripts)
	})
}

func TestMachineEvidenceCapture(t *testing.T) {
	offer := testOffer()

	cfg := fastConfig()
	cfg.EvidenceDir = t.TempDir()

	surface := fakesurface.New(&fakesurface.View{})
	surface.Route(offer.StoreURL("en-US"), &fakesurface.View{
		Text:        "Get this game",
		Visible:     []string{ctaSelector},
		Transitions: map[string]*fakesurface.View{ctaSelector: {Text: "nothing recognisable here"}},
	})

	attempt := newMachine(surface, cfg).Run(context.Background(), offer)

	require.Equal(t, claim.OutcomeFailed, attempt.Outcome)
	require.NotEmpty(t, attempt.Evidence)
	for _, path := range attempt.Evidence {
		require.FileExists(t, path)
	}
}
