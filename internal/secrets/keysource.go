package secrets

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PassphraseEnv overrides the machine-id derived key.
const PassphraseEnv = "BACKLOG_AGENT_SECRETS_PASSPHRASE"

// Hooks for tests.
var (
	defaultKeySource       = DefaultKeySource
	keySourceGetenv        = os.Getenv
	keySourceReadFile      = os.ReadFile
	keySourceUserConfigDir = os.UserConfigDir
	keySourceMkdirAll      = os.MkdirAll
)

// DefaultKeySource returns a 32-byte key from $BACKLOG_AGENT_SECRETS_PASSPHRASE
// or, failing that, /etc/machine-id.
func DefaultKeySource() ([]byte, error) {
	if s := keySourceGetenv(PassphraseEnv); s != "" {
		return DeriveKey(s), nil
	}
	const machineIDPath = "/etc/machine-id"
	b, err := keySourceReadFile(machineIDPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: set %s or ensure %s exists: %w", PassphraseEnv, machineIDPath, err)
	}
	id, _, _ := strings.Cut(strings.TrimSpace(string(b)), "\n")
	if id == "" {
		return nil, errors.New("secrets: machine-id is empty")
	}
	return DeriveKey(id), nil
}

// DeriveKey hashes a passphrase into a 32-byte AES key.
func DeriveKey(passphrase string) []byte {
	const salt = "backlog-agent-secrets-v1"
	h := sha256.Sum256([]byte(salt + passphrase))
	return h[:]
}

// DefaultPath returns UserConfigDir/backlog-agent/.secrets, creating the directory.
func DefaultPath() (string, error) {
	base, err := keySourceUserConfigDir()
	if err != nil {
		return "", fmt.Errorf("secrets dir: %w", err)
	}
	dir := filepath.Join(base, "backlog-agent")
	if err := keySourceMkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("secrets dir mkdir: %w", err)
	}
	return filepath.Join(dir, ".secrets"), nil
}
