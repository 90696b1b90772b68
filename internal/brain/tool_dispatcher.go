package brain

import (
	"context"
	"log/slog"
	"sync"

	"backlogagent/internal/domain"
)

// dispatchRound runs every call of one round and returns the outcomes in the
// order the engine requested them. Sibling calls are independent and run
// concurrently; the round ends only when all of them have resolved.
func dispatchRound(ctx context.Context, invoker domain.ToolInvoker, calls []domain.ToolCallRequest) []domain.ToolOutcome {
	outcomes := make([]domain.ToolOutcome, len(calls))
	if len(calls) == 1 {
		outcomes[0] = invoker.Invoke(ctx, calls[0])
		return outcomes
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call domain.ToolCallRequest) {
			defer wg.Done()
			outcomes[i] = invoker.Invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return outcomes
}

func toolUseBlocks(r domain.ToolRequests) []domain.ContentBlock {
	blocks := make([]domain.ContentBlock, 0, len(r.Calls)+1)
	if r.Text != "" {
		blocks = append(blocks, domain.TextBlock{Text: r.Text})
	}
	for _, c := range r.Calls {
		blocks = append(blocks, domain.ToolUseBlock{ToolUseID: c.ID, Name: c.Name, Input: c.Arguments})
	}
	return blocks
}

// toolResultBlocks renders outcomes for the engine. Failures become error
// results so the engine can apologize, retry with other arguments or ask the
// user; they never end the request on their own.
func toolResultBlocks(outcomes []domain.ToolOutcome, logger *slog.Logger) []domain.ContentBlock {
	blocks := make([]domain.ContentBlock, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK() {
			blocks = append(blocks, domain.ToolResultBlock{ToolUseID: o.CallID, Content: string(o.Payload)})
			continue
		}
		logger.Warn("tool call failed", "tool", o.Tool, "call_id", o.CallID, "kind", o.Failure.Kind)
		blocks = append(blocks, domain.ToolResultBlock{ToolUseID: o.CallID, Content: o.Failure.Error(), IsError: true})
	}
	return blocks
}
