//go:build !darwin

package config

import (
	"errors"
)

// keychainExec has no non-macOS equivalent here; secrets come from
// environment variables on other platforms.
func keychainExec(service, account string) ([]byte, error) {
	return nil, errors.New("keychain not available on this platform")
}
