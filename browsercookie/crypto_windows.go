//go:build windows

package browsercookie

import (
	"errors"
	"os"
	"path/filepath"
)

// On Windows, Chrome's cookie key is sealed with DPAPI and, since Chrome 127,
// additionally bound to the browser process (App-Bound Encryption), which an
// external process cannot unseal. Plain-text and v10 values still come
// through; encrypted values are skipped and the interactive-login credential
// source covers the gap.
func newDecryptor() (decryptFunc, error) {
	return nil, errors.New("cookie decryption not supported on windows (app-bound encryption)")
}

func defaultUserDataDir() (string, error) {
	local := os.Getenv("LOCALAPPDATA")
	if local == "" {
		return "", errors.New("LOCALAPPDATA not set")
	}
	return filepath.Join(local, "Google", "Chrome", "User Data"), nil
}
