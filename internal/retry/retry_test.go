package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"net"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"backlogagent/internal/domain"
)

func TestDefaultConfig_ShouldBeValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
	if cfg.MaxRetries != 3 || cfg.Multiplier != 2.0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestConfig_Validate_WhenOutOfRange_ShouldReturnError(t *testing.T) {
	cases := map[string]func(*Config){
		"negative retries": func(c *Config) { c.MaxRetries = -1 },
		"zero initial":     func(c *Config) { c.InitialBackoff = 0 },
		"zero max":         func(c *Config) { c.MaxBackoff = 0 },
		"multiplier < 1":   func(c *Config) { c.Multiplier = 0.5 },
	}
	for label, mutate := range cases {
		t.Run(label, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFromDomain_ShouldConvertMilliseconds(t *testing.T) {
	cfg := FromDomain(domain.RetryConfig{MaxRetries: 2, InitialBackoff: 250, MaxBackoff: 4000, Multiplier: 3})
	if cfg.InitialBackoff != 250*time.Millisecond || cfg.MaxBackoff != 4*time.Second || cfg.Multiplier != 3 || cfg.MaxRetries != 2 {
		t.Errorf("unexpected conversion %+v", cfg)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", errors.New(`anthropic api: POST "/v1/messages": 429 Too Many Requests`), true},
		{"500", errors.New("status 500"), true},
		{"502", errors.New("status 502"), true},
		{"503", errors.New("status 503"), true},
		{"504", errors.New("status 504"), true},
		{"529 overloaded", errors.New("529 overloaded_error"), true},
		{"400", errors.New("400 Bad Request"), false},
		{"401", errors.New("401 Unauthorized"), false},
		{"net timeout", timeoutErr{}, true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"wrapped 503", fmt.Errorf("outer: %w", errors.New("503")), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"tool failure", domain.NewFailure(domain.FailureRemoteError, "HTTP 503"), false},
		{"generic", errors.New("bad input"), false},
		{"token count", errors.New("max_tokens 5000 exceeded"), false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("no route")}, true},
		{"anthropic 529", &anthropic.Error{StatusCode: 529}, true},
		{"anthropic 400", &anthropic.Error{StatusCode: 400}, false},
		{"openai 429", fmt.Errorf("wrapped: %w", &openai.Error{StatusCode: 429}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// flakyEngine fails with errs in order, then answers.
type flakyEngine struct {
	errs  []error
	calls atomic.Int32
}

func (f *flakyEngine) Complete(context.Context, domain.CompletionRequest) (domain.EngineResponse, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) {
		return nil, f.errs[n]
	}
	return domain.FinalAnswer{Text: "ok"}, nil
}

func newTestEngine(inner domain.Engine, maxRetries int) (*RetryableEngine, *[]time.Duration) {
	var sleeps []time.Duration
	e := NewRetryableEngine(inner, Config{
		MaxRetries:     maxRetries,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
		Multiplier:     2,
	})
	e.after = func(d time.Duration) <-chan time.Time {
		sleeps = append(sleeps, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return e, &sleeps
}

func TestNewRetryableEngine_WhenInnerIsNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewRetryableEngine(nil, DefaultConfig())
}

func TestRetryableEngine_Complete_WhenTransientThenSuccess_ShouldRetry(t *testing.T) {
	inner := &flakyEngine{errs: []error{errors.New("503"), errors.New("EOF")}}
	e, sleeps := newTestEngine(inner, 3)

	resp, err := e.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if fa, ok := resp.(domain.FinalAnswer); !ok || fa.Text != "ok" {
		t.Errorf("unexpected response %#v", resp)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("want 3 calls, got %d", inner.calls.Load())
	}
	if len(*sleeps) != 2 || (*sleeps)[0] != 100*time.Millisecond || (*sleeps)[1] != 200*time.Millisecond {
		t.Errorf("unexpected backoff %v", *sleeps)
	}
}

func TestRetryableEngine_Complete_WhenNonRetryable_ShouldNotRetry(t *testing.T) {
	inner := &flakyEngine{errs: []error{errors.New("401 Unauthorized")}}
	e, sleeps := newTestEngine(inner, 3)

	if _, err := e.Complete(context.Background(), domain.CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls.Load() != 1 || len(*sleeps) != 0 {
		t.Errorf("want a single attempt, got %d calls", inner.calls.Load())
	}
}

func TestRetryableEngine_Complete_WhenExhausted_ShouldWrapLastError(t *testing.T) {
	last := errors.New("503 last")
	inner := &flakyEngine{errs: []error{errors.New("503"), errors.New("503"), errors.New("503"), last}}
	e, sleeps := newTestEngine(inner, 3)

	_, err := e.Complete(context.Background(), domain.CompletionRequest{})
	if !errors.Is(err, last) || !strings.Contains(err.Error(), "retries exhausted after 4 attempts") {
		t.Errorf("unexpected error %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleep %d: want %v, got %v", i, d, (*sleeps)[i])
		}
	}
}

func TestRetryableEngine_Complete_WhenContextCanceledDuringBackoff_ShouldStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := &flakyEngine{errs: []error{errors.New("503"), errors.New("503")}}
	e, _ := newTestEngine(inner, 3)
	e.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	_, err := e.Complete(ctx, domain.CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("want 1 call, got %d", inner.calls.Load())
	}
}

func TestConfig_Delay_ShouldGrowAndCap(t *testing.T) {
	c := Config{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for n, d := range want {
		if got := c.Delay(n); got != d {
			t.Errorf("Delay(%d) = %v, want %v", n, got, d)
		}
	}
}
