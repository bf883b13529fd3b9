package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	clierrors "egclaimer/internal/errors"
)

// Config selects and parameterises a browser strategy.
type Config struct {
	// Profile is the real-browser profile directory name (e.g. "Default").
	Profile string
	// UserDataDir overrides real-browser user-data-dir discovery.
	UserDataDir string
	// BinPath overrides the browser binary location.
	BinPath string
	// Headless applies to the bundled strategy only; the real strategy is
	// always headed so the user can resolve challenges.
	Headless bool
	// UserAgent is applied to the bundled strategy's pages.
	UserAgent string
	// Locale is sent as the bundled strategy's Accept-Language.
	Locale string
	// PreferBundled skips the real-browser probe.
	PreferBundled bool
}

// NewBundledBrowser launches the self-contained browser that rod manages,
// downloading it on first use. Lower success rate against bot detection than
// a real profile, but requires no local installation.
func NewBundledBrowser(cfg Config, log zerolog.Logger) (Surface, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-infobars").
		Set("disable-dev-shm-usage")

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, clierrors.Wrapf(clierrors.ErrBrowserUnavailable, "launching bundled browser: %v", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, clierrors.Wrapf(clierrors.ErrBrowserUnavailable, "connecting to bundled browser: %v", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, clierrors.Wrapf(err, "opening page")
	}

	if cfg.UserAgent != "" {
		override := &proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}
		if cfg.Locale != "" {
			override.AcceptLanguage = cfg.Locale
		}
		if err := page.SetUserAgent(override); err != nil {
			log.Warn().Err(err).Msg("user agent override failed")
		}
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		log.Warn().Err(err).Msg("viewport override failed")
	}

	log.Info().Bool("headless", cfg.Headless).Msg("bundled browser launched")
	return &rodSurface{
		strategy: StrategyBundled,
		browser:  b,
		page:     page,
		log:      log,
		launcher: l,
	}, nil
}

// Acquire probes for the best available strategy: the user's real Chrome
// first, then the bundled browser. The caller owns the returned surface for
// the duration of one run and must Close it on every exit path.
func Acquire(cfg Config, log zerolog.Logger) (Surface, Strategy, error) {
	if !cfg.PreferBundled {
		if surface, err := NewRealBrowser(cfg, log); err == nil {
			return surface, StrategyReal, nil
		} else {
			log.Warn().Err(err).Msg("real browser unavailable, falling back to bundled")
		}
	}

	surface, err := NewBundledBrowser(cfg, log)
	if err != nil {
		return nil, StrategyBundled, err
	}
	return surface, StrategyBundled, nil
}
