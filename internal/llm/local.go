package llm

import (
	"context"
	"fmt"
	"strings"

	"backlogagent/internal/domain"
)

// LocalEngine is a deterministic offline engine for development and smoke
// tests without API keys. On a fresh prompt it requests the first catalog
// tool that takes title and body; once a tool result is in the conversation
// it answers with that result.
type LocalEngine struct {
	Prefix string // prepended to every final answer
}

// NewLocalEngine returns a local engine with an optional answer prefix.
func NewLocalEngine(prefix string) *LocalEngine {
	return &LocalEngine{Prefix: prefix}
}

// Complete implements domain.Engine.
func (e *LocalEngine) Complete(ctx context.Context, req domain.CompletionRequest) (domain.EngineResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return domain.FinalAnswer{Text: e.Prefix}, nil
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role == domain.RoleTool {
		return domain.FinalAnswer{Text: e.Prefix + summarizeResults(last)}, nil
	}

	prompt := strings.TrimSpace(last.Text())
	tool := issueTool(req.Tools)
	if tool == "" {
		return domain.FinalAnswer{Text: e.Prefix + prompt}, nil
	}
	return domain.ToolRequests{Calls: []domain.ToolCallRequest{{
		ID:   fmt.Sprintf("local_%d", len(req.Messages)),
		Name: tool,
		Arguments: map[string]any{
			"title": localTitle(prompt),
			"body":  "## Context\n" + prompt + "\n\n## Goal\nResolve the request above.\n\n## Acceptance Criteria\n- [ ] The request is addressed",
		},
	}}}, nil
}

func issueTool(defs []domain.ToolDefinition) string {
	for _, d := range defs {
		s := string(d.InputSchema)
		if strings.Contains(s, `"title"`) && strings.Contains(s, `"body"`) {
			return d.Name
		}
	}
	return ""
}

func localTitle(prompt string) string {
	line, _, _ := strings.Cut(prompt, "\n")
	const maxTitle = 72
	if r := []rune(line); len(r) > maxTitle {
		line = strings.TrimSpace(string(r[:maxTitle]))
	}
	return line
}

func summarizeResults(m domain.Message) string {
	var parts []string
	for _, b := range m.Blocks {
		r, ok := b.(domain.ToolResultBlock)
		if !ok {
			continue
		}
		if r.IsError {
			parts = append(parts, "The tool call failed: "+r.Content)
			continue
		}
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, "\n")
}

var _ domain.Engine = (*LocalEngine)(nil)
