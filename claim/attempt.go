// Package claim drives a browser automation surface through the storefront's
// purchase flow for one free offer and classifies the terminal outcome.
package claim

import (
	"time"

	"egclaimer/catalog"
)

// Outcome is the terminal classification of one claim attempt.
type Outcome string

const (
	// OutcomeClaimed means the purchase flow completed.
	OutcomeClaimed Outcome = "claimed"
	// OutcomeAlreadyOwned means the ownership check short-circuited the flow.
	OutcomeAlreadyOwned Outcome = "already_owned"
	// OutcomeCaptchaUnresolved means a challenge stayed unsolved past the ceiling.
	OutcomeCaptchaUnresolved Outcome = "captcha_unresolved"
	// OutcomeAgeGateFailed means the birth-date interstitial could not be passed.
	OutcomeAgeGateFailed Outcome = "age_gate_failed"
	// OutcomeRateLimited means the account is temporarily blocked from claiming.
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeFailed is any other terminal non-success.
	OutcomeFailed Outcome = "failed"
)

// State is one step of the claim flow.
type State string

const (
	StateInit              State = "init"
	StateNavigated         State = "navigated"
	StateOwnershipChecked  State = "ownership_checked"
	StateAgeGated          State = "age_gated"
	StateClaimInitiated    State = "claim_initiated"
	StateCheckoutConfirmed State = "checkout_confirmed"
	StateCaptchaWait       State = "captcha_wait"
	StateResultDetected    State = "result_detected"
	StateTerminal          State = "terminal"
)

// Attempt records one offer's trip through the state machine. It lives only
// for the run's summary and logs; nothing persists it.
type Attempt struct {
	Offer     catalog.Offer
	State     State
	Outcome   Outcome
	Trace     []State
	Evidence  []string
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Passed reports whether the attempt transitioned through the given state.
func (a *Attempt) Passed(state State) bool {
	for _, s := range a.Trace {
		if s == state {
			return true
		}
	}
	return false
}

func (a *Attempt) enter(state State) {
	a.State = state
	a.Trace = append(a.Trace, state)
}

func (a *Attempt) terminal(outcome Outcome, reason string) *Attempt {
	a.enter(StateTerminal)
	a.Outcome = outcome
	a.Reason = reason
	return a
}
