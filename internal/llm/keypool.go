package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"backlogagent/internal/domain"
)

// KeyPool manages a pool of API keys with round-robin rotation and cooldown support.
// A key that hits a rate limit is skipped by Next until its cooldown expires.
// KeyPool is safe for concurrent use.
type KeyPool struct {
	keys        []string
	mu          sync.Mutex
	nextIdx     int
	cooldowns   []time.Time // parallel to keys; zero means available
	cooldownDur time.Duration
	nowFunc     func() time.Time
}

// NewKeyPool creates a KeyPool from the given keys with the specified cooldown duration.
func NewKeyPool(keys []string, cooldownDur time.Duration) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("keypool: at least one key is required")
	}
	return &KeyPool{
		keys:        keys,
		cooldowns:   make([]time.Time, len(keys)),
		cooldownDur: cooldownDur,
		nowFunc:     time.Now,
	}, nil
}

// Next returns the index of the next available key, skipping keys in cooldown.
func (kp *KeyPool) Next() (int, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := kp.nowFunc()
	n := len(kp.keys)
	for i := 0; i < n; i++ {
		idx := (kp.nextIdx + i) % n
		if kp.cooldowns[idx].IsZero() || now.After(kp.cooldowns[idx]) {
			kp.nextIdx = (idx + 1) % n
			return idx, nil
		}
	}
	return -1, fmt.Errorf("keypool: all %d keys are in cooldown", n)
}

// MarkCooldown puts the key at idx into cooldown. Out-of-range indices are ignored.
func (kp *KeyPool) MarkCooldown(idx int) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if idx < 0 || idx >= len(kp.keys) {
		return
	}
	kp.cooldowns[idx] = kp.nowFunc().Add(kp.cooldownDur)
}

// Len returns the total number of keys in the pool.
func (kp *KeyPool) Len() int { return len(kp.keys) }

// Available returns the number of keys not currently in cooldown.
func (kp *KeyPool) Available() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	now := kp.nowFunc()
	count := 0
	for _, cd := range kp.cooldowns {
		if cd.IsZero() || now.After(cd) {
			count++
		}
	}
	return count
}

// isRateLimitError reports whether err looks like a 429 / rate-limit response.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// KeyPoolEngine holds one engine per API key and rotates between them. On a
// rate-limit error the key is put in cooldown and the request is retried once
// on the next available key.
type KeyPoolEngine struct {
	pool    *KeyPool
	engines []domain.Engine
}

// NewKeyPoolEngine pairs a pool with one engine per key.
func NewKeyPoolEngine(pool *KeyPool, engines []domain.Engine) (*KeyPoolEngine, error) {
	if pool == nil {
		return nil, fmt.Errorf("keypool engine: pool must not be nil")
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("keypool engine: at least one engine is required")
	}
	if pool.Len() != len(engines) {
		return nil, fmt.Errorf("keypool engine: pool size (%d) must match engine count (%d)", pool.Len(), len(engines))
	}
	return &KeyPoolEngine{pool: pool, engines: engines}, nil
}

// Complete implements domain.Engine.
func (k *KeyPoolEngine) Complete(ctx context.Context, req domain.CompletionRequest) (domain.EngineResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := k.pool.Next()
	if err != nil {
		return nil, err
	}
	resp, callErr := k.engines[idx].Complete(ctx, req)
	if callErr == nil || !isRateLimitError(callErr) {
		return resp, callErr
	}

	k.pool.MarkCooldown(idx)
	idx2, err := k.pool.Next()
	if err != nil {
		return nil, fmt.Errorf("all keys in cooldown after rate limit: %w", callErr)
	}
	return k.engines[idx2].Complete(ctx, req)
}

var _ domain.Engine = (*KeyPoolEngine)(nil)
