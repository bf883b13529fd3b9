package errors

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Common error types for the claim engine
var (
	// Authentication errors
	ErrAuthentication = errors.New("no credential source succeeded")
	ErrNoCredential   = errors.New("no credential available")
	ErrTokenExpired   = errors.New("access token expired")
	ErrRefreshExpired = errors.New("refresh token expired")

	// Catalog / transport errors
	ErrTransport = errors.New("transport failure")
	ErrChallenge = errors.New("request blocked by bot challenge")

	// Browser automation errors
	ErrBrowserUnavailable = errors.New("no browser strategy available")
	ErrElementNotFound    = errors.New("element not found")
	ErrElementTimeout     = errors.New("timed out waiting for element")
	ErrNavigation         = errors.New("navigation failed")

	// General errors
	ErrCancelled = errors.New("run cancelled")
)

// Wrapf annotates err with a formatted message, keeping the chain intact for
// Is/As checks.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
