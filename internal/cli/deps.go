package cli

import (
	"os"

	"backlogagent/internal/config"
)

// Function variables for dependency injection in tests.
// Default values are the real implementations; tests may temporarily swap them.
var (
	getenv             = os.Getenv
	configLoad         = config.Load
	configWriteDefault = config.WriteDefault
)
