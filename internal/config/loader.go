package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"backlogagent/internal/domain"
)

// Defaults applied by Load and WriteDefault.
const (
	DefaultGatewayPort    = 8080
	DefaultToolServerPort = 8090
	DefaultRemotePath     = "/mcp"
	DefaultRemoteBaseURL  = "http://localhost:8090"
	DefaultCallTimeout    = 30
	DefaultMaxRounds      = 8
)

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

// Default returns a complete configuration for a local, offline setup.
func Default() *domain.Config {
	return &domain.Config{
		Gateway: domain.GatewayConfig{Port: DefaultGatewayPort},
		Agent: domain.AgentConfig{
			Provider:       "local",
			MaxTokens:      1024,
			MaxRounds:      DefaultMaxRounds,
			TimeoutSeconds: 60,
		},
		Remote: domain.RemoteConfig{
			BaseURL:         DefaultRemoteBaseURL,
			Path:            DefaultRemotePath,
			TimeoutSeconds:  DefaultCallTimeout,
			MaxConnsPerHost: 8,
		},
		ToolServer: domain.ToolServerConfig{Port: DefaultToolServerPort, Provider: "github"},
		Retry: domain.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 500,
			MaxBackoff:     30000,
			Multiplier:     2,
		},
		Infra: domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
	}
}

// WriteDefault writes the default configuration to path. The format follows
// the extension (.yaml/.yml or JSON). Parent directories are not created.
func WriteDefault(path string) error {
	data, err := encode(path, Default())
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path as JSON or YAML (by extension), fills defaults for unset
// fields and overlays the environment. It does not validate; call Validate.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	var c domain.Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &c)
	} else {
		err = json.Unmarshal(data, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	ApplyDefaults(&c)
	ApplyEnv(&c, os.Getenv)
	return &c, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(c *domain.Config) {
	if c == nil {
		return
	}
	d := Default()
	if c.Gateway.Port == 0 {
		c.Gateway.Port = d.Gateway.Port
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = d.Agent.Provider
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = d.Agent.MaxTokens
	}
	if c.Agent.MaxRounds == 0 {
		c.Agent.MaxRounds = d.Agent.MaxRounds
	}
	if c.Agent.TimeoutSeconds == 0 {
		c.Agent.TimeoutSeconds = d.Agent.TimeoutSeconds
	}
	if c.Remote.Path == "" {
		c.Remote.Path = d.Remote.Path
	}
	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = d.Remote.TimeoutSeconds
	}
	if c.Remote.MaxConnsPerHost == 0 {
		c.Remote.MaxConnsPerHost = d.Remote.MaxConnsPerHost
	}
	if c.ToolServer.Port == 0 {
		c.ToolServer.Port = d.ToolServer.Port
	}
	if c.ToolServer.Provider == "" {
		c.ToolServer.Provider = d.ToolServer.Provider
	}
	if c.Infra.LogFormat == "" {
		c.Infra.LogFormat = d.Infra.LogFormat
	}
	if c.Infra.LogLevel == "" {
		c.Infra.LogLevel = d.Infra.LogLevel
	}
}

// ApplyEnv overlays BACKLOG_AGENT_* variables and provider credentials.
// getenv is os.Getenv in production.
func ApplyEnv(c *domain.Config, getenv func(string) string) {
	if c == nil || getenv == nil {
		return
	}
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}

	setInt("BACKLOG_AGENT_PORT", &c.Gateway.Port)
	setString("BACKLOG_AGENT_AUTH_TOKEN", &c.Gateway.AuthToken)
	setString("BACKLOG_AGENT_PROVIDER", &c.Agent.Provider)
	setString("BACKLOG_AGENT_MODEL", &c.Agent.Model)
	setInt("BACKLOG_AGENT_MAX_ROUNDS", &c.Agent.MaxRounds)
	setString("BACKLOG_AGENT_REMOTE_URL", &c.Remote.BaseURL)
	setString("BACKLOG_AGENT_REMOTE_PATH", &c.Remote.Path)
	setInt("BACKLOG_AGENT_CALL_TIMEOUT", &c.Remote.TimeoutSeconds)
	setString("BACKLOG_AGENT_OWNER", &c.Backlog.Owner)
	setString("BACKLOG_AGENT_REPO", &c.Backlog.Repo)
	setString("BACKLOG_AGENT_LOG_FORMAT", &c.Infra.LogFormat)
	setString("BACKLOG_AGENT_LOG_LEVEL", &c.Infra.LogLevel)

	switch strings.ToLower(c.ToolServer.Provider) {
	case "gitlab":
		setString("GITLAB_TOKEN", &c.ToolServer.Token)
	default:
		setString("GITHUB_TOKEN", &c.ToolServer.Token)
	}
}

// Save writes cfg to path as JSON or YAML (by extension), creating parent directories.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}

func encode(path string, cfg *domain.Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return marshalIndent(cfg, "", "  ")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
