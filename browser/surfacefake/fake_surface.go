package fakesurface

import (
	"context"
	"strings"
	"sync"
	"time"

	"egclaimer/browser"
	clierrors "egclaimer/internal/errors"
)

var _ browser.Surface = (*FakeSurface)(nil)

// View is one scripted page state. Clicking a selector listed in Transitions
// swaps the fake to the next view, which is enough to walk a claim flow
// through navigation, checkout and challenge phases without a browser.
type View struct {
	URL         string
	Text        string
	Visible     []string
	Transitions map[string]*View
}

type FakeSurface struct {
	lock    sync.Mutex
	current *View
	pages   map[string]*View

	Opened   []string
	Clicks   []string
	Scripts  []string
	Injected []browser.Cookie
	Staged   []browser.Cookie
	Closed   bool

	OpenErr  error
	ClickErr error
}

func New(initial *View) *FakeSurface {
	if initial == nil {
		initial = &View{}
	}
	return &FakeSurface{
		current: initial,
		pages:   make(map[string]*View),
	}
}

// Route registers a view served when Open is called with url.
func (f *FakeSurface) Route(url string, view *View) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.pages[url] = view
}

// Current returns the active view (primarily for assertions).
func (f *FakeSurface) Current() *View {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.current
}

func (f *FakeSurface) Open(_ context.Context, url string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.Opened = append(f.Opened, url)
	if f.OpenErr != nil {
		return f.OpenErr
	}
	if view, ok := f.pages[url]; ok {
		f.current = view
	} else if f.current != nil && f.current.URL == "" {
		f.current.URL = url
	}
	return nil
}

func (f *FakeSurface) Click(_ context.Context, selector string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.Clicks = append(f.Clicks, selector)
	if f.ClickErr != nil {
		return f.ClickErr
	}
	if !f.visible(selector) {
		return clierrors.Wrapf(clierrors.ErrElementNotFound, "%s", selector)
	}
	if next, ok := f.current.Transitions[selector]; ok {
		f.current = next
	}
	return nil
}

func (f *FakeSurface) WaitForAny(_ context.Context, selectors []string, timeout time.Duration) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, selector := range selectors {
		if f.visible(selector) {
			return selector, nil
		}
	}
	return "", clierrors.Wrapf(clierrors.ErrElementTimeout,
		"none of %d selectors appeared within %s", len(selectors), timeout)
}

func (f *FakeSurface) IsVisible(_ context.Context, selector string) (bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.visible(selector), nil
}

func (f *FakeSurface) PageText(_ context.Context) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return strings.ToLower(f.current.Text), nil
}

func (f *FakeSurface) CurrentURL(_ context.Context) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.current.URL, nil
}

func (f *FakeSurface) Eval(_ context.Context, js string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.Scripts = append(f.Scripts, js)
	return nil
}

func (f *FakeSurface) InjectCookies(_ context.Context, cookies []browser.Cookie) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.Injected = append(f.Injected, cookies...)
	return nil
}

func (f *FakeSurface) Cookies(_ context.Context) ([]browser.Cookie, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]browser.Cookie(nil), f.Staged...), nil
}

// SetCookies stages cookies returned by subsequent Cookies calls.
func (f *FakeSurface) SetCookies(cookies []browser.Cookie) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.Staged = cookies
}

func (f *FakeSurface) Screenshot(_ context.Context) ([]byte, error) {
	return []byte("\x89PNG\r\n"), nil
}

func (f *FakeSurface) HTML(_ context.Context) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return "<html><body>" + f.current.Text + "</body></html>", nil
}

func (f *FakeSurface) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.Closed = true
	return nil
}

func (f *FakeSurface) visible(selector string) bool {
	for _, s := range f.current.Visible {
		if s == selector {
			return true
		}
	}
	return false
}
