package qsdk

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "qmag"

// normalizeKey converts a baseURL into a stable key name for keyring storage.
// It trims trailing slashes and lowercases so https://host/ and https://HOST
// share one entry.
func normalizeKey(baseURL string) string {
	s := strings.TrimSpace(baseURL)
	s = strings.TrimRight(s, "/")
	s = strings.ToLower(s)
	return s
}

// SaveToken stores the token in the OS keyring under the normalized baseURL.
func SaveToken(baseURL string, token string) error {
	return keyring.Set(keyringService, normalizeKey(baseURL), token)
}

// LoadToken retrieves the token stored for baseURL. A missing entry yields
// an empty token and no error.
func LoadToken(baseURL string) (string, error) {
	token, err := keyring.Get(keyringService, normalizeKey(baseURL))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return token, err
}

// DeleteToken removes the token entry for baseURL, for logout flows.
func DeleteToken(baseURL string) error {
	err := keyring.Delete(keyringService, normalizeKey(baseURL))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// RemoteToken returns remote.token from config when set, otherwise the
// keyring entry for remote.url.
func (c *Config) RemoteToken() (string, error) {
	if c.Remote.Token != "" {
		return c.Remote.Token, nil
	}
	if c.Remote.URL == "" {
		return "", nil
	}
	return LoadToken(c.Remote.URL)
}
