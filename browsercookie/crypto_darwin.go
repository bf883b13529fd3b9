//go:build darwin

package browsercookie

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
)

// On macOS, Chrome stores the Safe Storage secret in the login Keychain and
// stretches it with 1003 PBKDF2 iterations.
func newDecryptor() (decryptFunc, error) {
	secret, err := keyring.Get("Chrome Safe Storage", "Chrome")
	if err != nil {
		return nil, fmt.Errorf("reading Chrome Safe Storage from keychain: %w", err)
	}

	key := pbkdf2.Key([]byte(secret), []byte(chromiumSafeStorageSalt), 1003, 16, sha1.New)
	return func(encrypted []byte) (string, bool) {
		return decryptCBC(key, encrypted)
	}, nil
}

func defaultUserDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "Application Support", "Google", "Chrome"), nil
}
