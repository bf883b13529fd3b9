// Package browsercookie reads the storefront's authentication cookies from a
// locally installed Chromium-family browser's cookie store.
//
// The cookie database is snapshotted to a temp file before opening: the
// browser holds a lock on the live file, and we must never write to it.
// Values encrypted at rest (v10/v11) are decrypted with the OS-specific
// Safe Storage key.
package browsercookie

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"egclaimer/session"
)

// storeDomains are the host keys the auth cookies are scoped to.
var storeDomains = []string{
	".epicgames.com",
	"epicgames.com",
	"store.epicgames.com",
	".store.epicgames.com",
}

// Cookies holds the authentication material extracted from the browser.
type Cookies struct {
	AccessToken  string
	RefreshToken string
	SSO          string
	Challenge    string
	BearerHash   string
}

// HasAccessToken reports whether a prefixed access token was extracted.
func (c Cookies) HasAccessToken() bool {
	return len(c.AccessToken) > len(session.AccessTokenPrefix) &&
		c.AccessToken[:len(session.AccessTokenPrefix)] == session.AccessTokenPrefix
}

// HasRefreshToken reports whether a refresh token was extracted.
func (c Cookies) HasRefreshToken() bool { return c.RefreshToken != "" }

// HasChallenge reports whether a bot-challenge clearance cookie was extracted.
func (c Cookies) HasChallenge() bool { return c.Challenge != "" }

// Extractor reads cookies from one configured browser profile.
type Extractor struct {
	profile string
	log     zerolog.Logger

	// userDataDir overrides browser user-data-dir discovery in tests.
	userDataDir string
}

// DefaultUserDataDir returns the installed browser's user-data directory for
// this platform.
func DefaultUserDataDir() (string, error) {
	return defaultUserDataDir()
}

// NewExtractor creates an extractor for the named profile directory
// (for example "Default" or "Profile 1").
func NewExtractor(profile string, log zerolog.Logger) *Extractor {
	if profile == "" {
		profile = "Default"
	}
	return &Extractor{profile: profile, log: log}
}

// WithUserDataDir points the extractor at an explicit user-data directory.
func (e *Extractor) WithUserDataDir(dir string) *Extractor {
	e.userDataDir = dir
	return e
}

// Extract reads the storefront auth cookies from the profile's cookie store.
// The configured profile is tried first, then "Default".
func (e *Extractor) Extract(ctx context.Context) (Cookies, error) {
	userData := e.userDataDir
	if userData == "" {
		var err error
		userData, err = defaultUserDataDir()
		if err != nil {
			return Cookies{}, err
		}
	}

	for _, profile := range candidateProfiles(e.profile) {
		dbPath := cookieDBPath(userData, profile)
		if _, err := os.Stat(dbPath); err != nil {
			continue
		}

		cookies, err := e.readStore(ctx, dbPath)
		if err != nil {
			e.log.Warn().Err(err).Str("profile", profile).Msg("cookie store unreadable")
			continue
		}
		if cookies.HasAccessToken() || cookies.HasRefreshToken() {
			e.log.Debug().Str("profile", profile).Msg("auth cookies extracted")
			return cookies, nil
		}
	}
	return Cookies{}, fmt.Errorf("no auth cookies found in profile %q", e.profile)
}

func candidateProfiles(configured string) []string {
	if configured == "Default" {
		return []string{"Default"}
	}
	return []string{configured, "Default"}
}

// cookieDBPath locates the Cookies database inside a profile. Newer Chromium
// versions keep it under a Network subdirectory.
func cookieDBPath(userData, profile string) string {
	nested := filepath.Join(userData, profile, "Network", "Cookies")
	if _, err := os.Stat(nested); err == nil {
		return nested
	}
	return filepath.Join(userData, profile, "Cookies")
}

func (e *Extractor) readStore(ctx context.Context, dbPath string) (Cookies, error) {
	snapshot, cleanup, err := snapshotFile(dbPath)
	if err != nil {
		return Cookies{}, err
	}
	defer cleanup()

	db, err := sql.Open("sqlite", "file:"+snapshot+"?mode=ro")
	if err != nil {
		return Cookies{}, err
	}
	defer func() { _ = db.Close() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(storeDomains)), ",")
	query := `SELECT name, value, encrypted_value FROM cookies WHERE host_key IN (` + placeholders + `)`
	args := make([]any, len(storeDomains))
	for i, d := range storeDomains {
		args[i] = d
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return Cookies{}, err
	}
	defer func() { _ = rows.Close() }()

	var (
		out     Cookies
		decrypt decryptFunc
	)

	for rows.Next() {
		var (
			name      string
			value     string
			encrypted []byte
		)
		if err := rows.Scan(&name, &value, &encrypted); err != nil {
			return Cookies{}, err
		}

		if value == "" && len(encrypted) > 0 {
			if decrypt == nil {
				decrypt, err = newDecryptor()
				if err != nil {
					e.log.Warn().Err(err).Msg("cookie decryption unavailable")
					decrypt = func([]byte) (string, bool) { return "", false }
				}
			}
			if plain, ok := decrypt(encrypted); ok {
				value = plain
			}
		}
		if value == "" {
			continue
		}

		switch name {
		case session.CookieAccessToken:
			out.AccessToken = value
		case session.CookieRefreshToken:
			out.RefreshToken = value
		case session.CookieSSO:
			out.SSO = value
		case session.CookieChallenge:
			out.Challenge = value
		case session.CookieBearerHash:
			out.BearerHash = value
		}
	}
	return out, rows.Err()
}

// snapshotFile copies src to a temp file so the live database is never
// touched while the browser holds its lock.
func snapshotFile(src string) (string, func(), error) {
	in, err := os.Open(src)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp("", "cookies-*.sqlite")
	if err != nil {
		return "", nil, err
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return name, cleanup, nil
}
