package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"backlogagent/internal/domain"
	"backlogagent/internal/retry"
)

// defaultCooldownDuration is the time a rate-limited key stays in cooldown.
const defaultCooldownDuration = 60 * time.Second

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1/"
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"
	ollamaBaseURL     = "http://localhost:11434/v1/"
)

// SecretGetter returns a secret by name (e.g. "openai_api_key").
type SecretGetter func(name string) (string, error)

// NewEngine returns the configured engine, decorated with key rotation, rate
// limiting and retry as configured. Provider may be "local", "anthropic",
// "openai", "openrouter", "gemini" or "ollama"; empty means "local". A non-empty
// agent.APIKey takes precedence over getSecret.
func NewEngine(agent domain.AgentConfig, getSecret SecretGetter, retryCfg *domain.RetryConfig) (domain.Engine, error) {
	base, err := newBaseEngine(agent, getSecret)
	if err != nil {
		return nil, err
	}
	limited := NewRateLimitedEngine(base, agent.RequestsPerMinute)
	return wrapWithRetry(limited, retryCfg), nil
}

// NewFallbackEngines builds one engine per fallback entry, inheriting the
// primary's timeouts and limits. Entries that cannot be built are skipped and
// reported in skipped.
func NewFallbackEngines(agent domain.AgentConfig, getSecret SecretGetter, retryCfg *domain.RetryConfig) (engines []domain.Engine, skipped []error) {
	for _, fb := range agent.Fallbacks {
		cfg := agent
		cfg.Provider = fb.Provider
		cfg.Model = fb.Model
		cfg.APIKey = ""
		cfg.BaseURL = ""
		cfg.Fallbacks = nil
		e, err := NewEngine(cfg, getSecret, retryCfg)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("fallback %s/%s: %w", fb.Provider, fb.Model, err))
			continue
		}
		engines = append(engines, e)
	}
	return engines, skipped
}

func newBaseEngine(agent domain.AgentConfig, getSecret SecretGetter) (domain.Engine, error) {
	httpClient := engineHTTPClient(agent.TimeoutSeconds)
	provider := strings.ToLower(strings.TrimSpace(agent.Provider))
	if provider == "" {
		provider = "local"
	}
	switch provider {
	case "local":
		return NewLocalEngine(""), nil
	case "anthropic":
		return resolveKeyedEngine(provider, "anthropic_api_key", agent.APIKey, getSecret, func(key string) (domain.Engine, error) {
			return NewAnthropicEngine(AnthropicConfig{
				APIKey: key, Model: agent.Model, BaseURL: agent.BaseURL, MaxTokens: agent.MaxTokens, HTTPClient: httpClient,
			})
		})
	case "openai", "openrouter", "gemini":
		// Gemini and OpenRouter both speak Chat Completions.
		secret, baseURL := "openai_api_key", agent.BaseURL
		switch provider {
		case "openrouter":
			secret = "openrouter_api_key"
			if baseURL == "" {
				baseURL = openRouterBaseURL
			}
		case "gemini":
			secret = "gemini_api_key"
			if baseURL == "" {
				baseURL = geminiBaseURL
			}
		}
		return resolveKeyedEngine(provider, secret, agent.APIKey, getSecret, func(key string) (domain.Engine, error) {
			return NewOpenAIEngine(OpenAIConfig{
				APIKey: key, Model: agent.Model, BaseURL: baseURL, MaxTokens: agent.MaxTokens, HTTPClient: httpClient,
			})
		})
	case "ollama":
		baseURL := agent.BaseURL
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		return NewOpenAIEngine(OpenAIConfig{
			Model: agent.Model, BaseURL: baseURL, MaxTokens: agent.MaxTokens, HTTPClient: httpClient, KeyOptional: true,
		})
	default:
		return nil, fmt.Errorf("unknown engine provider %q (use: local, anthropic, openai, openrouter, gemini, ollama)", agent.Provider)
	}
}

func engineHTTPClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		return nil
	}
	return &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}
}

// splitKeys splits a raw secret value by commas, trims whitespace, and filters empty entries.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// newKeyPoolFunc is the KeyPool constructor. Package-level var for test injection.
var newKeyPoolFunc = NewKeyPool

// resolveKeyedEngine finds the API key (explicit, else from getSecret) and
// returns one engine, or a KeyPoolEngine when the value holds several
// comma-separated keys.
func resolveKeyedEngine(provider, secretName, explicit string, getSecret SecretGetter, makeEngine func(key string) (domain.Engine, error)) (domain.Engine, error) {
	raw := explicit
	if strings.TrimSpace(raw) == "" && getSecret != nil {
		v, err := getSecret(secretName)
		if err != nil {
			return nil, err
		}
		raw = v
	}
	keys := splitKeys(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s engine: API key not set (export %s)", provider, strings.ToUpper(secretName))
	}
	if len(keys) == 1 {
		return makeEngine(keys[0])
	}
	pool, err := newKeyPoolFunc(keys, defaultCooldownDuration)
	if err != nil {
		return nil, fmt.Errorf("%s key pool: %w", provider, err)
	}
	engines := make([]domain.Engine, len(keys))
	for i, k := range keys {
		e, err := makeEngine(k)
		if err != nil {
			return nil, err
		}
		engines[i] = e
	}
	return NewKeyPoolEngine(pool, engines)
}

// wrapWithRetry decorates an engine with retry logic when configured.
func wrapWithRetry(engine domain.Engine, rc *domain.RetryConfig) domain.Engine {
	if rc == nil || rc.MaxRetries <= 0 {
		return engine
	}
	cfg := retry.FromDomain(*rc)
	if cfg.Validate() != nil {
		def := retry.DefaultConfig()
		def.MaxRetries = rc.MaxRetries
		cfg = def
	}
	return retry.NewRetryableEngine(engine, cfg)
}
