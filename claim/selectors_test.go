package claim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectorTables(t *testing.T) {
	t.Run("stable test ids are tried before text matches", func(t *testing.T) {
		require.True(t, strings.HasPrefix(claimButtonSelectors[0], "button[data-testid="))
		require.True(t, strings.HasPrefix(checkoutSelectors[0], "button[data-testid="))
	})

	t.Run("text matches are xpath", func(t *testing.T) {
		for _, table := range [][]string{claimButtonSelectors, checkoutSelectors} {
			for _, selector := range table {
				if strings.Contains(selector, "contains(") {
					require.True(t, strings.HasPrefix(selector, "//"), "text match must be xpath: %s", selector)
				}
			}
		}
	})

	t.Run("challenge keywords are strong signals only", func(t *testing.T) {
		// The bare product name of the widget must never be a keyword; it
		// appears in page source on every checkout.
		for _, kw := range captchaKeywords {
			require.NotEqual(t, "hcaptcha", kw)
			require.NotEqual(t, "captcha", kw)
		}
	})
}

func TestContainsAny(t *testing.T) {
	require.True(t, containsAny("thank you for your order", successPatterns))
	require.False(t, containsAny("checkout in progress", successPatterns))
	require.False(t, containsAny("anything", nil))
	require.False(t, containsAny("anything", []string{""}))
}
