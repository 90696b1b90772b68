// Package secrets keeps provider API keys out of the config file in an
// AES-GCM encrypted store.
package secrets

import "errors"

// Store stores and retrieves secrets by name (e.g. "anthropic_api_key").
type Store interface {
	// Get returns the secret for name, or ErrNotFound.
	Get(name string) (string, error)
	// Set stores value under name, replacing any previous value.
	Set(name, value string) error
	// Delete removes name. Deleting a missing name is not an error.
	Delete(name string) error
}

// ErrNotFound is returned when a secret is not in the store.
var ErrNotFound = errors.New("secret not found")

// Default returns the file store at DefaultPath, keyed by DefaultKeySource.
func Default() (Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	key, err := defaultKeySource()
	if err != nil {
		return nil, err
	}
	return NewFileStore(path, key)
}
