package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"backlogagent/internal/domain"
)

var knownProviders = map[string]bool{
	"local": true, "anthropic": true, "openai": true, "openrouter": true, "gemini": true, "ollama": true,
}

// Validate reports every problem in cfg, joined. A nil result means the
// configuration is complete enough to start the agent.
func Validate(cfg *domain.Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	var errs []error
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", cfg.Gateway.Port))
	}
	if !knownProviders[strings.ToLower(cfg.Agent.Provider)] {
		errs = append(errs, fmt.Errorf("agent.provider %q unknown", cfg.Agent.Provider))
	}
	if cfg.Agent.MaxRounds < 1 {
		errs = append(errs, errors.New("agent.maxRounds must be >= 1"))
	}
	for i, fb := range cfg.Agent.Fallbacks {
		if !knownProviders[strings.ToLower(fb.Provider)] {
			errs = append(errs, fmt.Errorf("agent.fallbacks[%d].provider %q unknown", i, fb.Provider))
		}
	}
	if u, err := url.Parse(cfg.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("remote.baseUrl %q is not an absolute URL", cfg.Remote.BaseURL))
	}
	if !strings.HasPrefix(cfg.Remote.Path, "/") {
		errs = append(errs, fmt.Errorf("remote.path %q must start with /", cfg.Remote.Path))
	}
	if cfg.Remote.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("remote.timeoutSeconds must be > 0"))
	}
	if strings.TrimSpace(cfg.Backlog.Owner) == "" || strings.TrimSpace(cfg.Backlog.Repo) == "" {
		errs = append(errs, errors.New("backlog.owner and backlog.repo are required"))
	}
	seen := map[string]bool{}
	for i, t := range cfg.Tools {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tools[%d].name is required", i))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = true
	}
	switch cfg.Infra.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("infra.logFormat %q must be text or json", cfg.Infra.LogFormat))
	}
	if _, err := ParseLevel(cfg.Infra.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
