//go:build linux

package browsercookie

import (
	"crypto/sha1"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
)

// On Linux, Chrome derives the cookie key from the "Chrome Safe Storage"
// secret in the desktop keyring; Chromium without a keyring falls back to
// the fixed password "peanuts" (v10).
func newDecryptor() (decryptFunc, error) {
	password := "peanuts"
	if secret, err := keyring.Get("Chrome Safe Storage", "Chrome"); err == nil && secret != "" {
		password = secret
	}

	key := pbkdf2.Key([]byte(password), []byte(chromiumSafeStorageSalt), 1, 16, sha1.New)
	fallback := pbkdf2.Key([]byte("peanuts"), []byte(chromiumSafeStorageSalt), 1, 16, sha1.New)

	return func(encrypted []byte) (string, bool) {
		if plain, ok := decryptCBC(key, encrypted); ok {
			return plain, true
		}
		// v10 entries written before the keyring key existed.
		return decryptCBC(fallback, encrypted)
	}, nil
}

func defaultUserDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	candidates := []string{
		filepath.Join(home, ".config", "google-chrome"),
		filepath.Join(home, ".config", "chromium"),
	}
	for _, dir := range candidates {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}
	return candidates[0], nil
}
