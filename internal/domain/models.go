package domain

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	Agent      AgentConfig      `json:"agent" yaml:"agent"`
	Remote     RemoteConfig     `json:"remote" yaml:"remote"`
	Backlog    BacklogConfig    `json:"backlog" yaml:"backlog"`
	Tools      []ToolConfig     `json:"tools,omitempty" yaml:"tools,omitempty"` // Extra remote tools beyond the built-in createIssue
	ToolServer ToolServerConfig `json:"toolServer" yaml:"toolServer"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	Infra      InfraConfig      `json:"infra" yaml:"infra"`
}

// RetryConfig controls retry behaviour for reasoning-engine calls. Tool calls are never retried.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries" yaml:"maxRetries"`         // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff" yaml:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff" yaml:"maxBackoff"`         // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier" yaml:"multiplier"`         // Backoff multiplier (e.g. 2 for exponential doubling)
}

type GatewayConfig struct {
	Port      int    `json:"port" yaml:"port"`
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty"` // When set, gateway requires Authorization: Bearer <authToken>
}

type AgentConfig struct {
	Provider          string           `json:"provider" yaml:"provider"` // "anthropic" | "openai" | "local"
	Model             string           `json:"model" yaml:"model"`
	APIKey            string           `json:"-" yaml:"-"` // resolved from the environment only
	BaseURL           string           `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	MaxTokens         int              `json:"maxTokens" yaml:"maxTokens"`
	MaxRounds         int              `json:"maxRounds" yaml:"maxRounds"`
	TimeoutSeconds    int              `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	RequestsPerMinute int              `json:"requestsPerMinute,omitempty" yaml:"requestsPerMinute,omitempty"` // 0 disables engine rate limiting
	SystemPrompt      string           `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`           // empty uses the built-in backlog prompt
	Fallbacks         []FallbackConfig `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

// FallbackConfig describes an alternative reasoning engine tried when the primary fails.
type FallbackConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// RemoteConfig points the bridge at the remote tool executor.
type RemoteConfig struct {
	BaseURL         string `json:"baseUrl" yaml:"baseUrl"`
	Path            string `json:"path" yaml:"path"` // default "/mcp"
	TimeoutSeconds  int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxConnsPerHost int    `json:"maxConnsPerHost" yaml:"maxConnsPerHost"`
}

// BacklogConfig holds the repository the createIssue tool targets.
type BacklogConfig struct {
	Owner string `json:"owner" yaml:"owner"`
	Repo  string `json:"repo" yaml:"repo"`
}

// ToolConfig declares a remote tool in configuration.
type ToolConfig struct {
	Name        string            `json:"name" yaml:"name"`
	RemoteName  string            `json:"remoteName" yaml:"remoteName"`
	Description string            `json:"description" yaml:"description"`
	Params      []ParamSpec       `json:"params" yaml:"params"`
	Bind        map[string]string `json:"bind,omitempty" yaml:"bind,omitempty"` // fixed arguments merged into every call
}

// ToolServerConfig configures the reference remote executor (cmd/toolserver).
type ToolServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	Provider string `json:"provider" yaml:"provider"` // "github" | "gitlab"
	BaseURL  string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Token    string `json:"-" yaml:"-"`
}

type InfraConfig struct {
	LogFormat string `json:"logFormat" yaml:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
}

// =============================================================================
// Tools
// =============================================================================

// ParamSpec is one entry of a tool's ordered input schema.
type ParamSpec struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"` // JSON Schema type: string, integer, number, boolean, array, object
	Required bool   `json:"required" yaml:"required"`
	Hint     string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// ToolSpec describes a tool to the reasoning engine. Immutable once registered.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"params"`
}

// ToolDefinition is a ToolSpec rendered for an engine's function-calling API.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCallRequest is the engine's decision to call a tool. Consumed once by the invoker.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolOutcome is either a success payload or a Failure, never both.
type ToolOutcome struct {
	CallID  string          `json:"callId"`
	Tool    string          `json:"tool"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Failure *Failure        `json:"failure,omitempty"`
}

// OK reports whether the outcome is a success.
func (o ToolOutcome) OK() bool { return o.Failure == nil }

// Success builds a successful outcome.
func Success(call ToolCallRequest, payload json.RawMessage) ToolOutcome {
	return ToolOutcome{CallID: call.ID, Tool: call.Name, Payload: payload}
}

// Failed builds a failed outcome.
func Failed(call ToolCallRequest, f *Failure) ToolOutcome {
	return ToolOutcome{CallID: call.ID, Tool: call.Name, Failure: f}
}

// =============================================================================
// Messaging Protocol
// =============================================================================

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one turn of a Conversation. Blocks are ordered as produced.
type Message struct {
	Role      MessageRole    `json:"role"`
	Timestamp time.Time      `json:"timestamp"`
	Blocks    []ContentBlock `json:"content"`
}

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

type ContentBlock interface {
	Type() BlockType
}

type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) Type() BlockType { return BlockText }

type ToolUseBlock struct {
	ToolUseID string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

func (ToolUseBlock) Type() BlockType { return BlockToolUse }

type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) Type() BlockType { return BlockToolResult }

// MarshalJSON tags every block with its "type" so transcripts stay decodable.
func (m Message) MarshalJSON() ([]byte, error) {
	content := make([]map[string]any, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		fields := map[string]any{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		fields["type"] = b.Type()
		content = append(content, fields)
	}
	return json.Marshal(struct {
		Role      MessageRole      `json:"role"`
		Timestamp time.Time        `json:"timestamp"`
		Content   []map[string]any `json:"content"`
	}{m.Role, m.Timestamp, content})
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if t, ok := b.(TextBlock); ok {
			out += t.Text
		}
	}
	return out
}

// Conversation is the ordered transcript of a single end-user request.
type Conversation struct {
	Messages []Message `json:"messages"`
}

// Append adds a message stamped with the current time.
func (c *Conversation) Append(role MessageRole, blocks ...ContentBlock) {
	c.Messages = append(c.Messages, Message{Role: role, Timestamp: time.Now().UTC(), Blocks: blocks})
}

// =============================================================================
// Reasoning engine
// =============================================================================

// CompletionRequest is everything an engine sees for one round.
type CompletionRequest struct {
	System   string
	Tools    []ToolDefinition
	Messages []Message
}

// EngineResponse is a closed variant: FinalAnswer or ToolRequests.
type EngineResponse interface {
	engineResponse()
}

// FinalAnswer ends the loop with text returned to the caller verbatim.
type FinalAnswer struct {
	Text string
}

// ToolRequests asks for one or more tool calls. Text is any accompanying reasoning.
type ToolRequests struct {
	Text  string
	Calls []ToolCallRequest
}

func (FinalAnswer) engineResponse()  {}
func (ToolRequests) engineResponse() {}
