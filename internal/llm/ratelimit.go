package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"backlogagent/internal/domain"
)

// RateLimitedEngine spaces engine calls with a token bucket. Waiting honours
// the caller's context, so a canceled request stops queuing immediately.
type RateLimitedEngine struct {
	inner   domain.Engine
	limiter *rate.Limiter
}

// NewRateLimitedEngine allows requestsPerMinute calls per minute with a burst
// of one. inner must not be nil; a non-positive rate returns inner unchanged.
func NewRateLimitedEngine(inner domain.Engine, requestsPerMinute int) domain.Engine {
	if inner == nil {
		panic("ratelimit: inner engine must not be nil")
	}
	if requestsPerMinute <= 0 {
		return inner
	}
	return &RateLimitedEngine{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Complete implements domain.Engine.
func (r *RateLimitedEngine) Complete(ctx context.Context, req domain.CompletionRequest) (domain.EngineResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}
	return r.inner.Complete(ctx, req)
}

var _ domain.Engine = (*RateLimitedEngine)(nil)
