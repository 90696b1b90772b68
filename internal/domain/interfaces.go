package domain

import "context"

// Engine is the reasoning-engine collaborator. Implementations decode the
// provider's raw reply into a FinalAnswer or ToolRequests before returning.
type Engine interface {
	Complete(ctx context.Context, req CompletionRequest) (EngineResponse, error)
}

// ToolInvoker executes a single tool call and never returns a Go error:
// every failure is carried in the outcome.
type ToolInvoker interface {
	Invoke(ctx context.Context, call ToolCallRequest) ToolOutcome
}
