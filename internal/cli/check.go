package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"backlogagent/internal/config"
	"backlogagent/internal/domain"
)

// engineSecret names the environment variable each provider reads its key from.
var engineSecret = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

// RunCheck loads and validates the configuration at cfgPath and reports each
// section. With fix, a missing file is replaced by the default configuration.
// Returns the process exit code. It never contacts the network.
func RunCheck(cfgPath string, fix bool, stdout, stderr io.Writer) int {
	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}

	cfg, err := configLoad(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			note("Config", err.Error())
			return 1
		}
		note("Config", fmt.Sprintf("No config at %s.", cfgPath))
		if !fix {
			note("Config", "Run with --fix to create a default config.")
			fmt.Fprintln(stdout, "  Check complete.")
			return 0
		}
		if writeErr := configWriteDefault(cfgPath); writeErr != nil {
			fmt.Fprintf(stderr, "  failed to write default config: %v\n", writeErr)
			return 1
		}
		note("Config", fmt.Sprintf("Wrote default config to %s. Set backlog.owner and backlog.repo before serving.", cfgPath))
		fmt.Fprintln(stdout, "  Check complete.")
		return 0
	}
	note("Config", fmt.Sprintf("Loaded %s.", cfgPath))
	reportSections(cfg, note)

	if err := config.Validate(cfg); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			note("Invalid", line)
		}
		return 1
	}
	fmt.Fprintln(stdout, "  Check complete.")
	return 0
}

func reportSections(cfg *domain.Config, note func(section, message string)) {
	auth := "disabled"
	if cfg.Gateway.AuthToken != "" {
		auth = "bearer"
	}
	note("Gateway", fmt.Sprintf("port=%d auth=%s", cfg.Gateway.Port, auth))
	if auth == "disabled" {
		note("Gateway", "Auth is disabled. Set BACKLOG_AGENT_AUTH_TOKEN for production.")
	}

	provider := strings.ToLower(cfg.Agent.Provider)
	note("Agent", fmt.Sprintf("provider=%s model=%s maxRounds=%d fallbacks=%d", provider, cfg.Agent.Model, cfg.Agent.MaxRounds, len(cfg.Agent.Fallbacks)))
	if env, ok := engineSecret[provider]; ok {
		if strings.TrimSpace(getenv(env)) == "" {
			note("Agent", env+" is not set in the environment; the encrypted store is consulted at startup.")
		} else {
			note("Agent", env+" is set.")
		}
	}

	note("Remote", fmt.Sprintf("%s%s timeout=%ds", strings.TrimRight(cfg.Remote.BaseURL, "/"), cfg.Remote.Path, cfg.Remote.TimeoutSeconds))
	note("Backlog", fmt.Sprintf("%s/%s, %d extra tool(s)", cfg.Backlog.Owner, cfg.Backlog.Repo, len(cfg.Tools)))
}
