package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"backlogagent/internal/domain"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 1024
)

// AnthropicConfig configures AnthropicEngine.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // optional; proxies and tests
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicEngine calls the Anthropic Messages API with native tool use.
type AnthropicEngine struct {
	msgs      *anthropicsdk.MessageService
	model     anthropicsdk.Model
	maxTokens int64
}

// NewAnthropicEngine returns an Anthropic-backed engine. SDK-level retries are
// disabled; retry.RetryableEngine owns that policy.
func NewAnthropicEngine(cfg AnthropicConfig) (*AnthropicEngine, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := anthropicsdk.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicEngine{
		msgs:      &client.Messages,
		model:     anthropicsdk.Model(model),
		maxTokens: int64(maxTokens),
	}, nil
}

// Complete implements domain.Engine.
func (e *AnthropicEngine) Complete(ctx context.Context, req domain.CompletionRequest) (domain.EngineResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tools, err := anthropicTools(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic tools: %w", err)
	}
	params := anthropicsdk.MessageNewParams{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Messages:  anthropicMessages(req.Messages),
	}
	if sys := strings.TrimSpace(req.System); sys != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: sys}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := e.msgs.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api: %w", err)
	}
	return decodeAnthropic(msg), nil
}

func anthropicTools(defs []domain.ToolDefinition) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropicsdk.ToolInputSchemaParam
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", def.Name, err)
			}
		}
		if schema.Type == "" {
			schema.Type = "object"
		}
		tool := anthropicsdk.ToolParam{Name: def.Name, InputSchema: schema}
		if def.Description != "" {
			tool.Description = anthropicsdk.String(def.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

// anthropicMessages maps the conversation onto Anthropic roles. Tool results
// travel in user messages, as the Messages API requires.
func anthropicMessages(msgs []domain.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropicsdk.ContentBlockParamUnion
		for _, b := range m.Blocks {
			switch blk := b.(type) {
			case domain.TextBlock:
				if blk.Text != "" {
					blocks = append(blocks, anthropicsdk.NewTextBlock(blk.Text))
				}
			case domain.ToolUseBlock:
				input := blk.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(blk.ToolUseID, input, blk.Name))
			case domain.ToolResultBlock:
				blocks = append(blocks, anthropicsdk.NewToolResultBlock(blk.ToolUseID, blk.Content, blk.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropicsdk.MessageParamRoleUser
		if m.Role == domain.RoleAssistant {
			role = anthropicsdk.MessageParamRoleAssistant
		}
		out = append(out, anthropicsdk.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func decodeAnthropic(msg *anthropicsdk.Message) domain.EngineResponse {
	var text strings.Builder
	var calls []domain.ToolCallRequest
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			calls = append(calls, domain.ToolCallRequest{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: decodeArguments(block.Input),
			})
		}
	}
	if len(calls) > 0 {
		return domain.ToolRequests{Text: text.String(), Calls: calls}
	}
	return domain.FinalAnswer{Text: text.String()}
}

// decodeArguments turns raw tool arguments into a map. Unparseable input is
// kept under "raw" so schema validation rejects it visibly.
func decodeArguments(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}

var _ domain.Engine = (*AnthropicEngine)(nil)
