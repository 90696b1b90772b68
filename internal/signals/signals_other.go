//go:build !unix

package signals

import "os"

var platformSignals []os.Signal
