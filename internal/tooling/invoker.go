package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"backlogagent/internal/domain"
	"backlogagent/internal/rpc"
)

// Sender is the transport contract the invoker needs. *rpc.HTTPTransport
// implements it; every error it returns must be a *domain.Failure.
type Sender interface {
	Send(ctx context.Context, env rpc.Envelope) (*rpc.Response, error)
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithInvokerLogger sets the structured logger. Nil is ignored.
func WithInvokerLogger(l *slog.Logger) InvokerOption {
	return func(inv *Invoker) {
		if l != nil {
			inv.logger = l
		}
	}
}

// WithIDGenerator replaces the correlation id source (tests only need this).
func WithIDGenerator(gen func() string) InvokerOption {
	return func(inv *Invoker) {
		if gen != nil {
			inv.newID = gen
		}
	}
}

// Invoker turns a ToolCallRequest into exactly one tools/call (or none, when
// the request is rejected locally). It never retries: tools may have side
// effects and only the caller can tell whether repeating one is safe.
type Invoker struct {
	registry *ToolRegistry
	sender   Sender
	newID    func() string
	logger   *slog.Logger
}

// NewInvoker wires a registry to a transport. Panics if either is nil.
func NewInvoker(registry *ToolRegistry, sender Sender, opts ...InvokerOption) *Invoker {
	if registry == nil {
		panic("invoker: registry must not be nil")
	}
	if sender == nil {
		panic("invoker: sender must not be nil")
	}
	inv := &Invoker{
		registry: registry,
		sender:   sender,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke resolves, validates, sends and normalizes a single tool call.
func (inv *Invoker) Invoke(ctx context.Context, call domain.ToolCallRequest) domain.ToolOutcome {
	entry, err := inv.registry.Resolve(call.Name)
	if err != nil {
		inv.logger.Warn("tool call rejected", "tool", call.Name, "call_id", call.ID, "reason", "unknown tool")
		return domain.Failed(call, domain.NewFailure(domain.FailureUnknownTool, "no tool named %q is registered", call.Name))
	}

	if err := entry.schema.Validate(call.Arguments); err != nil {
		inv.logger.Warn("tool call rejected", "tool", call.Name, "call_id", call.ID, "reason", err.Error())
		return domain.Failed(call, domain.NewFailure(domain.FailureProtocolViolation,
			"argument validation failed for tool %q: %v", call.Name, err))
	}

	env := rpc.NewEnvelope(inv.newID(), rpc.MethodCallTool, rpc.CallParams{
		Name:      entry.RemoteName,
		Arguments: mergeArguments(call.Arguments, entry.Bound),
	})
	inv.logger.Debug("dispatching tool call", "tool", call.Name, "remote", entry.RemoteName, "call_id", call.ID, "rpc_id", env.ID)

	resp, err := inv.sender.Send(ctx, env)
	if err != nil {
		f, ok := domain.AsFailure(err)
		if !ok {
			f = domain.NewFailure(domain.FailureRemoteError, "%v", err)
		}
		inv.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "kind", f.Kind, "error", f.Message)
		return domain.Failed(call, f)
	}
	return inv.normalize(call, resp.Result)
}

// toolResult is the part of a tools/call result the invoker inspects.
type toolResult struct {
	IsError bool `json:"isError"`
}

func (inv *Invoker) normalize(call domain.ToolCallRequest, result json.RawMessage) domain.ToolOutcome {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] != '{' {
		return domain.Failed(call, domain.NewFailure(domain.FailureProtocolViolation,
			"tool %q: result is missing or not an object", call.Name).WithDetail(trimmed))
	}
	var tr toolResult
	if err := json.Unmarshal(trimmed, &tr); err != nil {
		return domain.Failed(call, domain.NewFailure(domain.FailureProtocolViolation,
			"tool %q: result is malformed: %v", call.Name, err).WithDetail(trimmed))
	}
	if tr.IsError {
		inv.logger.Warn("tool reported an error", "tool", call.Name, "call_id", call.ID)
		return domain.Failed(call, domain.NewFailure(domain.FailureRemoteError,
			"tool %q reported an error: %s", call.Name, ResultText(trimmed)).WithDetail(trimmed))
	}
	inv.logger.Info("tool call succeeded", "tool", call.Name, "call_id", call.ID)
	return domain.Success(call, append(json.RawMessage(nil), trimmed...))
}

// mergeArguments copies args and lays bound values over them; bound values
// are configuration and always win over what the engine produced.
func mergeArguments(args, bound map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(bound))
	for k, v := range args {
		out[k] = v
	}
	for k, v := range bound {
		out[k] = v
	}
	return out
}

// ResultText flattens an MCP-style result for display: the text items of a
// "content" array, a "content" string, or the raw JSON as a last resort.
func ResultText(result json.RawMessage) string {
	var withItems struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if json.Unmarshal(result, &withItems) == nil && len(withItems.Content) > 0 {
		var buf bytes.Buffer
		for _, item := range withItems.Content {
			if item.Text == "" {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(item.Text)
		}
		if buf.Len() > 0 {
			return buf.String()
		}
	}
	var withString struct {
		Content string `json:"content"`
	}
	if json.Unmarshal(result, &withString) == nil && withString.Content != "" {
		return withString.Content
	}
	return string(result)
}

var _ domain.ToolInvoker = (*Invoker)(nil)
