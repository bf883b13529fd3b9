package claim

import "strings"

// Capability tables for the claim flow. The storefront's DOM shifts between
// releases and locales, so everything the state machine matches against lives
// here as ordered data: selectors are tried first to last, first match wins.
// Entries prefixed with "//" are XPath, needed where CSS cannot match on
// element text. English and pt-BR variants are both carried; the storefront
// localises button labels by account locale.

// claimButtonSelectors locate the primary "Get" control on a product page.
var claimButtonSelectors = []string{
	`button[data-testid="purchase-cta-button"]`,
	`//button[contains(., "Get")]`,
	`//button[contains(., "Obter")]`,
	`//a[contains(., "Obter")]`,
	`button[data-testid="purchase-app-confirm-order-button"]`,
	`#purchase-app button[type="submit"]`,
	`//button[contains(., "Place Order")]`,
	`//button[contains(., "Fazer pedido")]`,
}

// checkoutSelectors locate the order-confirmation control inside checkout.
var checkoutSelectors = []string{
	`button[data-testid="purchase-app-confirm-order-button"]`,
	`#purchase-app button[type="submit"]`,
	`//button[contains(., "Place Order")]`,
	`//button[contains(., "Fazer pedido")]`,
	`//button[contains(., "Confirmar")]`,
	`//button[contains(., "Confirm")]`,
}

// captchaFrameSelectors locate the challenge frame. Presence alone is not a
// challenge: the frame ships attached-but-hidden on every checkout.
var captchaFrameSelectors = []string{
	`iframe[src*="hcaptcha.com"]`,
	`#h_captcha_challenge_checkout_free_prod`,
}

// captchaChallengeFrameSelector is the visible challenge variant.
const captchaChallengeFrameSelector = `iframe[src*="hcaptcha.com"][src*="frame=challenge"]`

// captchaKeywords are strong-confidence markers that a challenge is being
// shown. Weak markers (the word "hcaptcha" appearing in page source) are
// deliberately excluded: a lenient detector causes false aborts.
var captchaKeywords = []string{
	"verificação de segurança",
	"security check",
	"mais uma etapa",
	"complete a security",
	"selecione o item",
	"select the item",
}

// successPatterns indicate a completed purchase. Checked strictly before
// alreadyOwnedPatterns: a post-purchase page can transiently show stale
// ownership text, and "already owned" must not win over a fresh success.
var successPatterns = []string{
	"thank you",
	"order complete",
	"purchase complete",
	"successfully",
	"compra concluída",
	"your order",
	"order confirmed",
}

// alreadyOwnedPatterns indicate the account owns the item.
var alreadyOwnedPatterns = []string{
	"you already own this",
	"already in your library",
	"já está na sua biblioteca",
	"você já possui",
	"item already owned",
	"you own this item",
	"na biblioteca",
}

// rateLimitPatterns indicate the account is blocked from further claims,
// typically for 24 hours after repeated challenge declines.
var rateLimitPatterns = []string{
	"aguarde 24 horas",
	"captcha.decline",
	"wait 24 hours",
	"não pode mais fazer download",
	"can no longer download",
}

// successURLMarkers classify by location, the most reliable signal.
var successURLMarkers = []string{
	"receipt",
	"confirmation",
	"purchase/success",
}

// ageGateKeywords indicate the date-of-birth interstitial is blocking the
// page.
var ageGateKeywords = []string{
	"data de nascimento",
	"date of birth",
	"age gate",
	"não ser adequado para todas as idades",
	"may not be appropriate for all ages",
	"forneça sua data de nascimento",
	"provide your date of birth",
	"enter your date of birth",
}

// codeRedemptionMarker flags offers that can only be claimed with a code.
const codeRedemptionMarker = "invalid_offers_code_redemption_only"

// Age-gate controls: custom dropdown toggles, not native selects.
const (
	ageGateDayToggle   = "#day_toggle"
	ageGateMonthToggle = "#month_toggle"
	ageGateYearToggle  = "#year_toggle"
	ageGateDayMenu     = "#day_menu"
	ageGateMonthMenu   = "#month_menu"
	ageGateYearMenu    = "#year_menu"
	ageGateContinue    = "#btn_age_continue"
)

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
