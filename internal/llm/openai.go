package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"backlogagent/internal/domain"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures OpenAIEngine. BaseURL also points it at any
// OpenAI-compatible endpoint (OpenRouter, Gemini, Ollama).
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
	// KeyOptional allows an empty key for local endpoints such as Ollama.
	KeyOptional bool
}

// OpenAIEngine calls the Chat Completions API with function calling.
type OpenAIEngine struct {
	completions *openai.ChatCompletionService
	model       string
	maxTokens   int64
}

// NewOpenAIEngine returns an OpenAI-backed engine.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && !cfg.KeyOptional {
		return nil, errors.New("openai: api key required")
	}
	if apiKey == "" {
		apiKey = "unused"
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
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIEngine{
		completions: &client.Chat.Completions,
		model:       model,
		maxTokens:   int64(maxTokens),
	}, nil
}

// Complete implements domain.Engine.
func (e *OpenAIEngine) Complete(ctx context.Context, req domain.CompletionRequest) (domain.EngineResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tools, err := openAITools(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("openai tools: %w", err)
	}
	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(e.model),
		MaxCompletionTokens: openai.Int(e.maxTokens),
		Messages:            openAIMessages(req.System, req.Messages),
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	completion, err := e.completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai api: response has no choices")
	}
	msg := completion.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return domain.FinalAnswer{Text: msg.Content}, nil
	}
	calls := make([]domain.ToolCallRequest, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, domain.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments([]byte(tc.Function.Arguments)),
		})
	}
	return domain.ToolRequests{Text: msg.Content, Calls: calls}, nil
}

func openAITools(defs []domain.ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		params := shared.FunctionParameters{}
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &params); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", def.Name, err)
			}
		}
		if _, ok := params["type"]; !ok {
			params["type"] = "object"
		}
		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       def.Name,
				Parameters: params,
			},
		}
		if def.Description != "" {
			tool.Function.Description = openai.Opt(def.Description)
		}
		out = append(out, tool)
	}
	return out, nil
}

func openAIMessages(system string, msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if s := strings.TrimSpace(system); s != "" {
		out = append(out, openai.SystemMessage(s))
	}
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			out = append(out, openai.UserMessage(m.Text()))
		case domain.RoleAssistant:
			out = append(out, openAIAssistant(m))
		case domain.RoleTool:
			for _, b := range m.Blocks {
				if r, ok := b.(domain.ToolResultBlock); ok {
					out = append(out, openai.ToolMessage(r.Content, r.ToolUseID))
				}
			}
		}
	}
	return out
}

func openAIAssistant(m domain.Message) openai.ChatCompletionMessageParamUnion {
	p := openai.ChatCompletionAssistantMessageParam{}
	if text := m.Text(); text != "" {
		p.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	for _, b := range m.Blocks {
		use, ok := b.(domain.ToolUseBlock)
		if !ok {
			continue
		}
		args, err := json.Marshal(use.Input)
		if err != nil || use.Input == nil {
			args = []byte("{}")
		}
		p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: use.ToolUseID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      use.Name,
				Arguments: string(args),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &p}
}

var _ domain.Engine = (*OpenAIEngine)(nil)
