package browsercookie

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// decryptFunc decrypts one encrypted_value column, reporting success.
type decryptFunc func(encrypted []byte) (string, bool)

// chromiumSafeStorageSalt and the iteration counts below are fixed by
// Chromium's os_crypt implementation.
const chromiumSafeStorageSalt = "saltysalt"

var errUnsupportedCipher = errors.New("unsupported encrypted cookie version")

// decryptCBC handles the v10/v11 AES-128-CBC scheme used on Linux and macOS:
// a version prefix, then ciphertext with PKCS#7 padding, IV of 16 spaces.
func decryptCBC(key, encrypted []byte) (string, bool) {
	if len(encrypted) < 3 {
		return "", false
	}
	prefix := string(encrypted[:3])
	if prefix != "v10" && prefix != "v11" {
		return "", false
	}
	ciphertext := encrypted[3:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", false
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", false
	}

	iv := bytes.Repeat([]byte{' '}, aes.BlockSize)
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, ok := stripPKCS7(plain)
	if !ok {
		return "", false
	}
	// Newer Chromium prepends a 32-byte SHA-256 of the host key.
	if len(plain) >= 32 && !isPrintable(plain[:32]) {
		plain = plain[32:]
	}
	return string(plain), true
}

func stripPKCS7(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, false
	}
	return data[:len(data)-pad], true
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}
