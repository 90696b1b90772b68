// Package retry repeats reasoning-engine calls that failed transiently.
// Tool calls are never retried here: they may have side effects.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"backlogagent/internal/domain"
)

// Config is an exponential backoff policy.
type Config struct {
	MaxRetries     int           // extra attempts after the first; 0 disables retrying
	InitialBackoff time.Duration // delay before the first retry
	MaxBackoff     time.Duration // cap on any single delay
	Multiplier     float64       // growth factor between delays, at least 1
}

// DefaultConfig mirrors the defaults written by the config package.
func DefaultConfig() Config {
	return FromDomain(domain.RetryConfig{MaxRetries: 3, InitialBackoff: 500, MaxBackoff: 30000, Multiplier: 2})
}

// FromDomain converts the millisecond-based file configuration.
func FromDomain(rc domain.RetryConfig) Config {
	return Config{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: time.Duration(rc.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoff) * time.Millisecond,
		Multiplier:     float64(rc.Multiplier),
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return errors.New("retry: MaxRetries must be >= 0")
	case c.InitialBackoff <= 0:
		return errors.New("retry: InitialBackoff must be > 0")
	case c.MaxBackoff <= 0:
		return errors.New("retry: MaxBackoff must be > 0")
	case c.Multiplier < 1:
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// Delay returns the wait before retry number n (0-based), capped at MaxBackoff.
func (c Config) Delay(n int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 0; i < n; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	return min(time.Duration(d), c.MaxBackoff)
}

// Patterns for errors that only carry their cause in the message.
var (
	transientStatus = regexp.MustCompile(`\b(429|5\d\d)\b`)
	transientConn   = regexp.MustCompile(`connection refused|connection reset|EOF`)
)

// IsRetryable reports whether err is a transient engine failure: 429 or 5xx
// from a provider, a network timeout, a refused connection or a cut-off
// response. Context errors and *domain.Failure values are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, ok := domain.AsFailure(err); ok {
		return false
	}
	if code, ok := providerStatus(err); ok {
		return code == 429 || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	msg := err.Error()
	return transientStatus.MatchString(msg) || transientConn.MatchString(msg)
}

// providerStatus extracts the HTTP status from a typed SDK error.
func providerStatus(err error) (int, bool) {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode, true
	}
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode, true
	}
	return 0, false
}

// RetryableEngine decorates an Engine with retries on transient errors.
// Engine calls have no side effects, so repeating one is safe.
type RetryableEngine struct {
	inner  domain.Engine
	config Config
	after  func(time.Duration) <-chan time.Time
}

// NewRetryableEngine wraps inner, which must not be nil.
func NewRetryableEngine(inner domain.Engine, cfg Config) *RetryableEngine {
	if inner == nil {
		panic("retry: inner engine must not be nil")
	}
	return &RetryableEngine{inner: inner, config: cfg, after: time.After}
}

// Complete returns the first successful response, the first non-transient
// error, or the last error once every attempt is spent. Cancelling ctx
// interrupts a pending backoff.
func (e *RetryableEngine) Complete(ctx context.Context, req domain.CompletionRequest) (domain.EngineResponse, error) {
	attempts := e.config.MaxRetries + 1
	var lastErr error
	for n := 0; n < attempts; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-e.after(e.config.Delay(n - 1)):
			}
		}
		resp, err := e.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}

var _ domain.Engine = (*RetryableEngine)(nil)
