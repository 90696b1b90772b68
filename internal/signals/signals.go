// Package signals ties process shutdown signals to a context.
package signals

import (
	"context"
	"os"
	"os/signal"
)

// ShutdownSignals returns the signals that stop the gateway and the tool
// server: Interrupt everywhere, plus the platform's termination signals.
func ShutdownSignals() []os.Signal {
	return append([]os.Signal{os.Interrupt}, platformSignals...)
}

// NotifyContext returns a context canceled on the first shutdown signal.
// Call stop to release the signal handler.
func NotifyContext(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, ShutdownSignals()...)
}
