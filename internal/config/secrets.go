package config

import (
	"errors"
	"strings"
	"sync"

	"backlogagent/internal/secrets"
)

// SecretGetter resolves a named secret; an empty value means unset.
type SecretGetter = func(name string) (string, error)

// EnvSecrets resolves engine secrets such as "anthropic_api_key" from the
// upper-cased environment variable (ANTHROPIC_API_KEY). A missing variable
// yields an empty value, not an error; the engine factory reports it.
func EnvSecrets(getenv func(string) string) SecretGetter {
	return func(name string) (string, error) {
		return strings.TrimSpace(getenv(strings.ToUpper(name))), nil
	}
}

// StoreSecrets resolves secrets from the encrypted store returned by open.
// The store is opened on first use, so setups that never need it never touch it.
func StoreSecrets(open func() (secrets.Store, error)) SecretGetter {
	var (
		once    sync.Once
		store   secrets.Store
		openErr error
	)
	return func(name string) (string, error) {
		once.Do(func() { store, openErr = open() })
		if openErr != nil {
			return "", openErr
		}
		v, err := store.Get(name)
		if errors.Is(err, secrets.ErrNotFound) {
			return "", nil
		}
		return v, err
	}
}

// ChainSecrets returns the first non-empty value. An error stops the chain.
func ChainSecrets(getters ...SecretGetter) SecretGetter {
	return func(name string) (string, error) {
		for _, get := range getters {
			v, err := get(name)
			if err != nil {
				return "", err
			}
			if v != "" {
				return v, nil
			}
		}
		return "", nil
	}
}
