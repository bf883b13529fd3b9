package browser

import (
	"io"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"egclaimer/browsercookie"
	clierrors "egclaimer/internal/errors"
)

// profileSkipDirs are profile subdirectories not worth copying: caches and
// site storage that only slow the copy down.
var profileSkipDirs = map[string]struct{}{
	"Cache":          {},
	"Code Cache":     {},
	"GPUCache":       {},
	"Service Worker": {},
	"CacheStorage":   {},
	"blob_storage":   {},
	"IndexedDB":      {},
	"File System":    {},
	"GCM Store":      {},
}

// NewRealBrowser launches the user's installed Chrome with remote debugging
// enabled and attaches to it.
//
// The browser is pointed at a copy of the user's profile directory, never the
// live one: Chrome refuses CDP on its default user-data directory, holding a
// lock on it would fight the user's daily browser, and we must not corrupt
// their state. The auth cookie is injected into the CDP context afterwards
// rather than read from the copied profile, whose at-rest cookies may be
// encrypted beyond our reach.
func NewRealBrowser(cfg Config, log zerolog.Logger) (Surface, error) {
	bin := cfg.BinPath
	if bin == "" {
		found, has := launcher.LookPath()
		if !has {
			return nil, clierrors.Wrapf(clierrors.ErrBrowserUnavailable, "no chrome binary found")
		}
		bin = found
	}

	userData := cfg.UserDataDir
	if userData == "" {
		dir, err := browsercookie.DefaultUserDataDir()
		if err != nil {
			return nil, clierrors.Wrapf(clierrors.ErrBrowserUnavailable, "locating user data dir: %v", err)
		}
		userData = dir
	}

	profile := cfg.Profile
	if profile == "" {
		profile = "Default"
	}

	tmp, err := os.MkdirTemp("", "egclaimer-profile-")
	if err != nil {
		return nil, err
	}

	log.Info().Str("profile", profile).Str("dest", tmp).Msg("copying browser profile")
	if err := copyProfile(userData, profile, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, clierrors.Wrapf(clierrors.ErrBrowserUnavailable, "copying profile %q: %v", profile, err)
	}

	l := launcher.New().
		Bin(bin).
		Headless(false).
		UserDataDir(tmp).
		Set("profile-directory", profile).
		Set("no-first-run").
		Set("no-default-browser-check")

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		_ = os.RemoveAll(tmp)
		return nil, clierrors.Wrapf(clierrors.ErrBrowserUnavailable, "launching chrome: %v", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		_ = os.RemoveAll(tmp)
		return nil, clierrors.Wrapf(clierrors.ErrBrowserUnavailable, "connecting over cdp: %v", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		_ = os.RemoveAll(tmp)
		return nil, clierrors.Wrapf(err, "opening page")
	}

	log.Info().Msg("attached to real chrome over cdp")
	return &rodSurface{
		strategy:   StrategyReal,
		browser:    b,
		page:       page,
		log:        log,
		launcher:   l,
		tmpProfile: tmp,
	}, nil
}

// copyProfile copies the named profile plus the top-level Local State file
// into dst, skipping cache directories.
func copyProfile(userData, profile, dst string) error {
	src := filepath.Join(userData, profile)
	if _, err := os.Stat(src); err != nil {
		return err
	}

	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are not fatal
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if _, skip := profileSkipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, profile, rel), 0o700)
		}
		return copyFile(path, filepath.Join(dst, profile, rel))
	})
	if err != nil {
		return err
	}

	// Local State carries the encryption key metadata Chrome wants on boot.
	localState := filepath.Join(userData, "Local State")
	if _, statErr := os.Stat(localState); statErr == nil {
		return copyFile(localState, filepath.Join(dst, "Local State"))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return nil // locked files are skipped, not fatal
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}
