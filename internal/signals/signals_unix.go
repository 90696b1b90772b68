//go:build unix

package signals

import (
	"os"
	"syscall"
)

// SIGTERM is what container runtimes and process managers send.
var platformSignals = []os.Signal{syscall.SIGTERM}
