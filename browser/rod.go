package browser

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	clierrors "egclaimer/internal/errors"
)

// visiblePollInterval paces WaitForAny's selector sweeps.
const visiblePollInterval = 500 * time.Millisecond

// rodSurface implements Surface over a rod-controlled page. Both strategies
// share it; they differ only in how the browser process is obtained.
type rodSurface struct {
	strategy Strategy
	browser  *rod.Browser
	page     *rod.Page
	log      zerolog.Logger

	launcher   *launcher.Launcher
	tmpProfile string
	closed     bool
}

var _ Surface = (*rodSurface)(nil)

func (s *rodSurface) Open(ctx context.Context, url string) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return clierrors.Wrapf(clierrors.ErrNavigation, "navigate %s: %v", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return clierrors.Wrapf(clierrors.ErrNavigation, "waiting for load of %s: %v", url, err)
	}
	return nil
}

func (s *rodSurface) Click(ctx context.Context, selector string) error {
	el, err := s.lookup(ctx, selector)
	if err != nil {
		return err
	}

	_ = el.ScrollIntoView()

	// Native input first: a synthetic dispatch bypasses page-bound handlers
	// that the checkout flow relies on.
	if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
		return nil
	}
	if _, err := el.Eval(`() => this.click()`); err != nil {
		return clierrors.Wrapf(clierrors.ErrElementNotFound, "clicking %s: %v", selector, err)
	}
	return nil
}

func (s *rodSurface) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, selector := range selectors {
			visible, err := s.IsVisible(ctx, selector)
			if err != nil {
				return "", err
			}
			if visible {
				return selector, nil
			}
		}

		if time.Now().After(deadline) {
			return "", clierrors.Wrapf(clierrors.ErrElementTimeout,
				"none of %d selectors appeared within %s", len(selectors), timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(visiblePollInterval):
		}
	}
}

func (s *rodSurface) IsVisible(ctx context.Context, selector string) (bool, error) {
	has, el, err := s.query(ctx, selector)
	if err != nil || !has {
		return false, nil
	}
	visible, err := el.Visible()
	if err != nil {
		return false, nil
	}
	return visible, nil
}

func (s *rodSurface) PageText(ctx context.Context) (string, error) {
	page := s.page.Context(ctx)
	obj, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", clierrors.Wrapf(clierrors.ErrNavigation, "reading page text: %v", err)
	}
	return strings.ToLower(obj.Value.Str()), nil
}

func (s *rodSurface) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", clierrors.Wrapf(clierrors.ErrNavigation, "reading page info: %v", err)
	}
	return info.URL, nil
}

func (s *rodSurface) Eval(ctx context.Context, js string) error {
	if _, err := s.page.Context(ctx).Eval(js); err != nil {
		return clierrors.Wrapf(clierrors.ErrNavigation, "eval: %v", err)
	}
	return nil
}

func (s *rodSurface) InjectCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   path,
		})
	}
	if err := s.browser.SetCookies(params); err != nil {
		return clierrors.Wrapf(err, "injecting %d cookies", len(cookies))
	}
	s.log.Debug().Int("count", len(cookies)).Msg("cookies injected into automation context")
	return nil
}

func (s *rodSurface) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := s.browser.GetCookies()
	if err != nil {
		return nil, clierrors.Wrapf(err, "reading cookies")
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return cookies, nil
}

func (s *rodSurface) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, nil)
}

func (s *rodSurface) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSurface) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
	if s.tmpProfile != "" {
		_ = os.RemoveAll(s.tmpProfile)
	}
	s.log.Debug().Str("strategy", string(s.strategy)).Msg("browser released")
	return err
}

// lookup finds an attached element without blocking on rod's default sleeper.
func (s *rodSurface) lookup(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := s.query(ctx, selector)
	if err != nil {
		return nil, clierrors.Wrapf(clierrors.ErrElementNotFound, "querying %s: %v", selector, err)
	}
	if !has {
		return nil, clierrors.Wrapf(clierrors.ErrElementNotFound, "%s", selector)
	}
	return el, nil
}

// query resolves a selector against the page. Selectors starting with "//"
// are treated as XPath; the capability tables use those where a match on
// element text is needed.
func (s *rodSurface) query(ctx context.Context, selector string) (bool, *rod.Element, error) {
	page := s.page.Context(ctx)
	if strings.HasPrefix(selector, "//") {
		return page.HasX(selector)
	}
	return page.Has(selector)
}
