// Package browser abstracts a controllable browser instance behind the
// Surface interface, with two strategies: attaching to the user's real
// Chrome through its remote-debugging protocol, and a bundled
// headless-capable browser when no real Chrome is installed.
package browser

import (
	"context"
	"time"
)

// Cookie is one cookie to inject into the automation context.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Surface is a controllable browser page. All operations are fallible and
// report distinguishable timeout, element-not-found and navigation errors
// (internal/errors sentinels); the claim state machine branches on which.
type Surface interface {
	// Open navigates to the URL and waits for the load event.
	Open(ctx context.Context, url string) error
	// Click locates the selector and activates it, preferring a native
	// interaction over a synthetic dispatch.
	Click(ctx context.Context, selector string) error
	// WaitForAny polls until one of the selectors is attached and visible,
	// returning the matching selector, or ErrElementTimeout.
	WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) (string, error)
	// IsVisible reports whether the selector is attached AND visible.
	// An attached-but-hidden element reports false.
	IsVisible(ctx context.Context, selector string) (bool, error)
	// PageText returns the page's visible text, lowercased.
	PageText(ctx context.Context) (string, error)
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Eval runs a JavaScript function expression on the page.
	Eval(ctx context.Context, js string) error
	// InjectCookies sets cookies on the automation context directly,
	// bypassing the profile's at-rest cookie store.
	InjectCookies(ctx context.Context, cookies []Cookie) error
	// Cookies returns the cookies currently held by the automation context,
	// used to harvest tokens after an interactive login.
	Cookies(ctx context.Context) ([]Cookie, error)
	// Screenshot captures the current viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// HTML returns the page's current markup.
	HTML(ctx context.Context) (string, error)
	// Close releases the browser and any temporary resources. Safe to call
	// more than once.
	Close() error
}

// Strategy identifies which concrete surface answered an Acquire call.
type Strategy string

const (
	// StrategyReal is the user's installed Chrome attached over CDP.
	StrategyReal Strategy = "real"
	// StrategyBundled is the self-contained fallback browser.
	StrategyBundled Strategy = "bundled"
)
