package cli

import (
	"fmt"
	"log/slog"
	"time"

	"backlogagent/internal/brain"
	"backlogagent/internal/domain"
	"backlogagent/internal/llm"
	"backlogagent/internal/rpc"
	"backlogagent/internal/tooling"
)

// App is the assembled agent: registry, transport, invoker and loop.
type App struct {
	Config    *domain.Config
	Registry  *tooling.ToolRegistry
	Transport *rpc.HTTPTransport
	Invoker   *tooling.Invoker
	Brain     *brain.Brain
}

// NewApp wires every component from cfg. Fallback engines that cannot be
// built are logged and skipped; a broken primary engine is an error.
func NewApp(cfg *domain.Config, logger *slog.Logger, getSecret llm.SecretGetter) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := tooling.NewBacklogRegistry(cfg.Backlog, cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("app: tools: %w", err)
	}
	transport, err := rpc.NewHTTPTransport(rpc.Options{
		BaseURL:         cfg.Remote.BaseURL,
		Path:            cfg.Remote.Path,
		Timeout:         time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
		MaxConnsPerHost: cfg.Remote.MaxConnsPerHost,
	})
	if err != nil {
		return nil, fmt.Errorf("app: transport: %w", err)
	}
	invoker := tooling.NewInvoker(registry, transport, tooling.WithInvokerLogger(logger))

	engine, err := llm.NewEngine(cfg.Agent, getSecret, &cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("app: engine: %w", err)
	}
	fallbacks, skipped := llm.NewFallbackEngines(cfg.Agent, getSecret, &cfg.Retry)
	for _, s := range skipped {
		logger.Warn("fallback engine skipped", "error", s)
	}

	b := brain.NewBrain(engine, invoker, registry.Definitions(),
		brain.WithLogger(logger),
		brain.WithFallbacks(fallbacks...),
		brain.WithMaxRounds(cfg.Agent.MaxRounds),
		brain.WithSystemPrompt(cfg.Agent.SystemPrompt),
	)
	logger.Info("agent ready",
		"provider", cfg.Agent.Provider,
		"tools", registry.Len(),
		"remote", transport.Endpoint(),
		"max_rounds", b.MaxRounds(),
		"fallbacks", len(fallbacks),
	)
	return &App{Config: cfg, Registry: registry, Transport: transport, Invoker: invoker, Brain: b}, nil
}
