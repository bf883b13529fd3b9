package claim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"egclaimer/browser"
	"egclaimer/catalog"
)

// Config parameterises the state machine. Every wait and ceiling is
// configuration: the storefront's timing shifts between releases, and the
// documented values disagree with each other, so none is hardcoded.
type Config struct {
	Locale string
	// BirthDate is submitted at the age gate for adult-only offers.
	BirthDate time.Time
	// ClaimWait bounds the search for the primary claim control.
	ClaimWait time.Duration
	// CheckoutWait bounds each sweep for the order-confirmation control.
	CheckoutWait time.Duration
	// CheckoutRetries is the number of sweeps before the direct checkout
	// URL fallback.
	CheckoutRetries int
	// SettleDelay is the pause after navigations and clicks while the page
	// reacts.
	SettleDelay time.Duration
	// CaptchaCeiling bounds the wait for a human to solve a challenge.
	CaptchaCeiling time.Duration
	// CaptchaPollInterval paces challenge-resolution checks.
	CaptchaPollInterval time.Duration
	// ResultWait bounds the final wait for an outcome marker.
	ResultWait time.Duration
	// EvidenceDir receives page snapshots for offline triage; empty
	// disables capture.
	EvidenceDir string
}

func (c Config) withDefaults() Config {
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.BirthDate.IsZero() {
		c.BirthDate = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if c.ClaimWait == 0 {
		c.ClaimWait = 20 * time.Second
	}
	if c.CheckoutWait == 0 {
		c.CheckoutWait = 3 * time.Second
	}
	if c.CheckoutRetries == 0 {
		c.CheckoutRetries = 10
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.CaptchaCeiling == 0 {
		c.CaptchaCeiling = 5 * time.Minute
	}
	if c.CaptchaPollInterval == 0 {
		c.CaptchaPollInterval = 3 * time.Second
	}
	if c.ResultWait == 0 {
		c.ResultWait = 15 * time.Second
	}
	return c
}

// Machine drives one offer at a time through the claim flow. It owns no
// resources: the surface is acquired and released by the orchestrator.
type Machine struct {
	surface browser.Surface
	cfg     Config
	log     zerolog.Logger
	nowTime func() time.Time
}

// Option modifies a Machine.
type Option func(*Machine)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(now func() time.Time) Option {
	return func(m *Machine) { m.nowTime = now }
}

// NewMachine creates a state machine bound to an automation surface.
func NewMachine(surface browser.Surface, cfg Config, log zerolog.Logger, options ...Option) *Machine {
	m := &Machine{
		surface: surface,
		cfg:     cfg.withDefaults(),
		log:     log,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Run executes the claim flow for one offer. It never returns an error:
// every failure mode is a terminal outcome on the attempt, isolated from
// other offers.
func (m *Machine) Run(ctx context.Context, offer catalog.Offer) *Attempt {
	a := &Attempt{Offer: offer, StartedAt: m.nowTime()}
	defer func() { a.EndedAt = m.nowTime() }()
	a.enter(StateInit)

	log := m.log.With().Str("offer", offer.Title).Logger()

	pageURL := offer.StoreURL(m.cfg.Locale)
	if pageURL == "" {
		pageURL = offer.CheckoutURL()
	}
	log.Info().Str("url", pageURL).Msg("opening offer page")
	if err := m.surface.Open(ctx, pageURL); err != nil {
		return a.terminal(OutcomeFailed, fmt.Sprintf("navigation: %v", err))
	}
	m.sleep(ctx, m.cfg.SettleDelay)
	a.enter(StateNavigated)

	text, _ := m.surface.PageText(ctx)
	if strings.Contains(text, codeRedemptionMarker) {
		return a.terminal(OutcomeFailed, "offer is code-redemption only")
	}

	a.enter(StateOwnershipChecked)
	if containsAny(text, alreadyOwnedPatterns) {
		log.Info().Msg("already in library, skipping")
		return a.terminal(OutcomeAlreadyOwned, "")
	}

	if containsAny(text, ageGateKeywords) {
		a.enter(StateAgeGated)
		if err := m.passAgeGate(ctx); err != nil {
			m.captureEvidence(ctx, a, "age_gate")
			return a.terminal(OutcomeAgeGateFailed, err.Error())
		}
	}

	// Initiate the claim: prioritized selectors first, direct checkout URL
	// as the fallback when no control matches.
	onDirectCheckout := false
	if selector, err := m.surface.WaitForAny(ctx, claimButtonSelectors, m.cfg.ClaimWait); err == nil {
		log.Debug().Str("selector", selector).Msg("claim control found")
		if err := m.surface.Click(ctx, selector); err != nil {
			m.captureEvidence(ctx, a, "claim_click")
			return a.terminal(OutcomeFailed, fmt.Sprintf("claim click: %v", err))
		}
	} else {
		log.Warn().Msg("no claim control matched, navigating to direct checkout")
		if err := m.surface.Open(ctx, offer.CheckoutURL()); err != nil {
			return a.terminal(OutcomeFailed, fmt.Sprintf("direct checkout navigation: %v", err))
		}
		onDirectCheckout = true
	}
	a.enter(StateClaimInitiated)
	m.sleep(ctx, m.cfg.SettleDelay)

	confirmed, early := m.confirmCheckout(ctx, a, offer, onDirectCheckout)
	if early != nil {
		return early
	}
	if !confirmed {
		m.captureEvidence(ctx, a, "no_checkout")
		return a.terminal(OutcomeFailed, "order-confirmation control not found")
	}
	a.enter(StateCheckoutConfirmed)
	m.sleep(ctx, m.cfg.SettleDelay)

	// Confirmation was submitted before any challenge check: an invisible
	// challenge often auto-passes, and probing first can dismiss one that
	// already passed.
	if outcome, ok := m.classify(ctx); ok {
		a.enter(StateResultDetected)
		m.captureEvidence(ctx, a, "final")
		return a.terminal(outcome, "")
	}

	if m.challengePresent(ctx) {
		a.enter(StateCaptchaWait)
		m.captureEvidence(ctx, a, "captcha")
		log.Warn().Dur("ceiling", m.cfg.CaptchaCeiling).Msg("challenge visible, waiting for resolution")

		resolved, rateLimited := m.awaitChallenge(ctx)
		switch {
		case rateLimited:
			return a.terminal(OutcomeRateLimited, "challenge rate limit")
		case !resolved:
			m.captureEvidence(ctx, a, "captcha_timeout")
			return a.terminal(OutcomeCaptchaUnresolved, "challenge unsolved past ceiling")
		}

		// The checkout usually auto-submits after the challenge clears;
		// give it a moment, then re-submit manually if nothing happened.
		m.sleep(ctx, m.cfg.SettleDelay)
		if outcome, ok := m.classify(ctx); ok {
			a.enter(StateResultDetected)
			m.captureEvidence(ctx, a, "final")
			return a.terminal(outcome, "")
		}
		if selector, err := m.surface.WaitForAny(ctx, checkoutSelectors, m.cfg.CheckoutWait); err == nil {
			_ = m.surface.Click(ctx, selector)
			m.sleep(ctx, m.cfg.SettleDelay)
		}
	}

	// Bounded wait for an outcome marker.
	deadline := m.nowTime().Add(m.cfg.ResultWait)
	for {
		if outcome, ok := m.classify(ctx); ok {
			a.enter(StateResultDetected)
			m.captureEvidence(ctx, a, "final")
			return a.terminal(outcome, "")
		}
		if m.nowTime().After(deadline) || ctx.Err() != nil {
			break
		}
		m.sleep(ctx, m.cfg.CaptchaPollInterval)
	}

	m.captureEvidence(ctx, a, "unclassified")
	return a.terminal(OutcomeFailed, "no outcome marker detected")
}

// confirmCheckout sweeps for the order-confirmation control, handling age
// gates that pop mid-flow and ownership/success markers that end the flow
// early. Returns (confirmed, terminalAttempt).
func (m *Machine) confirmCheckout(ctx context.Context, a *Attempt, offer catalog.Offer, onDirectCheckout bool) (bool, *Attempt) {
	triedDirect := onDirectCheckout
	for retry := 0; retry < m.cfg.CheckoutRetries; retry++ {
		if ctx.Err() != nil {
			return false, a.terminal(OutcomeFailed, "cancelled")
		}

		text, _ := m.surface.PageText(ctx)
		if containsAny(text, ageGateKeywords) {
			if !a.Passed(StateAgeGated) {
				a.enter(StateAgeGated)
			}
			if err := m.passAgeGate(ctx); err != nil {
				m.captureEvidence(ctx, a, "age_gate")
				return false, a.terminal(OutcomeAgeGateFailed, err.Error())
			}
			continue
		}

		if selector, err := m.surface.WaitForAny(ctx, checkoutSelectors, m.cfg.CheckoutWait); err == nil {
			if err := m.surface.Click(ctx, selector); err == nil {
				return true, nil
			}
		}

		if pageURL, err := m.surface.CurrentURL(ctx); err == nil && containsAny(strings.ToLower(pageURL), successURLMarkers) {
			// The order completed without a visible checkout step.
			a.enter(StateResultDetected)
			return false, a.terminal(OutcomeClaimed, "")
		}
		if containsAny(text, successPatterns) {
			// The claim click completed the order in place; there is no
			// confirmation control to find.
			a.enter(StateResultDetected)
			return false, a.terminal(OutcomeClaimed, "")
		}
		if containsAny(text, alreadyOwnedPatterns) {
			return false, a.terminal(OutcomeAlreadyOwned, "")
		}

		// Last sweep exhausted: fall back to the direct checkout URL once.
		if retry == m.cfg.CheckoutRetries-1 && !triedDirect {
			m.log.Warn().Str("offer", offer.Title).Msg("checkout control not found, trying direct checkout URL")
			if err := m.surface.Open(ctx, offer.CheckoutURL()); err != nil {
				return false, a.terminal(OutcomeFailed, fmt.Sprintf("direct checkout navigation: %v", err))
			}
			m.sleep(ctx, m.cfg.SettleDelay)
			triedDirect = true
			retry = -1 // restart the sweeps on the checkout page
		}
	}
	return false, nil
}

// classify inspects the page for a terminal marker. Success patterns are
// checked strictly before already-owned patterns: a fresh purchase page can
// still show stale ownership text, and both present means success.
func (m *Machine) classify(ctx context.Context) (Outcome, bool) {
	text, _ := m.surface.PageText(ctx)
	pageURL, _ := m.surface.CurrentURL(ctx)

	if containsAny(text, rateLimitPatterns) {
		return OutcomeRateLimited, true
	}
	if containsAny(strings.ToLower(pageURL), successURLMarkers) {
		return OutcomeClaimed, true
	}
	if containsAny(text, successPatterns) {
		return OutcomeClaimed, true
	}
	if containsAny(text, alreadyOwnedPatterns) {
		return OutcomeAlreadyOwned, true
	}
	return "", false
}

// challengePresent applies both signals jointly: the challenge frame must be
// visible (not merely attached) AND a strong-confidence keyword must be on
// the page. Either alone is a false positive.
func (m *Machine) challengePresent(ctx context.Context) bool {
	frameVisible := false
	for _, selector := range captchaFrameSelectors {
		if visible, _ := m.surface.IsVisible(ctx, selector); visible {
			frameVisible = true
			break
		}
	}
	if !frameVisible {
		return false
	}

	text, _ := m.surface.PageText(ctx)
	return containsAny(text, captchaKeywords)
}

// awaitChallenge polls until the challenge clears, the account is
// rate-limited, or the ceiling passes.
func (m *Machine) awaitChallenge(ctx context.Context) (resolved, rateLimited bool) {
	deadline := m.nowTime().Add(m.cfg.CaptchaCeiling)
	for {
		if visible, _ := m.surface.IsVisible(ctx, captchaChallengeFrameSelector); !visible {
			// Frame gone or hidden. Confirm with the keyword signal.
			text, _ := m.surface.PageText(ctx)
			if !containsAny(text, captchaKeywords) {
				return true, false
			}
		}

		text, _ := m.surface.PageText(ctx)
		if containsAny(text, rateLimitPatterns) {
			return false, true
		}
		if !containsAny(text, captchaKeywords) {
			return true, false
		}

		if m.nowTime().After(deadline) || ctx.Err() != nil {
			return false, false
		}
		m.sleep(ctx, m.cfg.CaptchaPollInterval)
	}
}

// passAgeGate submits the configured birth date through the storefront's
// custom dropdown controls, with a script bypass as the last resort.
func (m *Machine) passAgeGate(ctx context.Context) error {
	birth := m.cfg.BirthDate
	fields := []struct {
		toggle string
		menu   string
		value  string
	}{
		{ageGateDayToggle, ageGateDayMenu, fmt.Sprintf("%02d", birth.Day())},
		{ageGateMonthToggle, ageGateMonthMenu, fmt.Sprintf("%02d", int(birth.Month()))},
		{ageGateYearToggle, ageGateYearMenu, fmt.Sprintf("%d", birth.Year())},
	}

	for _, f := range fields {
		if visible, _ := m.surface.IsVisible(ctx, f.toggle); !visible {
			continue
		}
		if err := m.surface.Click(ctx, f.toggle); err != nil {
			continue
		}
		m.sleep(ctx, m.cfg.SettleDelay/4)

		item := fmt.Sprintf(`//*[@id=%q]//*[self::li or self::button or @role="menuitem"][contains(., %q)]`,
			strings.TrimPrefix(f.menu, "#"), f.value)
		if err := m.surface.Click(ctx, item); err != nil {
			m.log.Warn().Str("menu", f.menu).Str("value", f.value).Msg("age gate option not selectable")
		}
		m.sleep(ctx, m.cfg.SettleDelay/4)
	}

	if visible, _ := m.surface.IsVisible(ctx, ageGateContinue); visible {
		if err := m.surface.Click(ctx, ageGateContinue); err == nil {
			m.sleep(ctx, m.cfg.SettleDelay)
		}
	}

	text, _ := m.surface.PageText(ctx)
	if !containsAny(text, ageGateKeywords) {
		m.log.Info().Msg("age gate passed")
		return nil
	}

	// Script bypass: mark the gate as passed and reload.
	_ = m.surface.Eval(ctx, fmt.Sprintf(`() => {
		try {
			localStorage.setItem('ageGatePassed', 'true');
			localStorage.setItem('diesel_age_gate', '%s');
		} catch (e) {}
	}`, birth.Format("2006-01-02")))
	if pageURL, err := m.surface.CurrentURL(ctx); err == nil {
		_ = m.surface.Open(ctx, pageURL)
		m.sleep(ctx, m.cfg.SettleDelay)
	}

	text, _ = m.surface.PageText(ctx)
	if containsAny(text, ageGateKeywords) {
		return fmt.Errorf("age gate still blocking after bypass")
	}
	m.log.Info().Msg("age gate passed via script bypass")
	return nil
}

// captureEvidence snapshots the page for offline triage.
func (m *Machine) captureEvidence(ctx context.Context, a *Attempt, label string) {
	if m.cfg.EvidenceDir == "" {
		return
	}
	if err := os.MkdirAll(m.cfg.EvidenceDir, 0o755); err != nil {
		return
	}

	stem := fmt.Sprintf("%s-%s-%s", safeName(a.Offer.Title), label, uuid.NewString()[:8])

	if png, err := m.surface.Screenshot(ctx); err == nil {
		path := filepath.Join(m.cfg.EvidenceDir, stem+".png")
		if os.WriteFile(path, png, 0o644) == nil {
			a.Evidence = append(a.Evidence, path)
		}
	}
	if html, err := m.surface.HTML(ctx); err == nil {
		path := filepath.Join(m.cfg.EvidenceDir, stem+".html")
		if os.WriteFile(path, []byte(html), 0o644) == nil {
			a.Evidence = append(a.Evidence, path)
		}
	}
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func safeName(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "offer"
	}
	return b.String()
}
