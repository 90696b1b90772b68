package brain

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"backlogagent/internal/domain"
)

// DefaultMaxRounds bounds engine calls per request when none is configured.
const DefaultMaxRounds = 8

// ErrEmptyPrompt is returned for blank prompts; the engine is never consulted.
var ErrEmptyPrompt = errors.New("brain: prompt must not be empty")

// Option is a functional option for configuring Brain.
type Option func(*Brain)

// WithLogger sets a structured logger for the Brain. If l is nil it is ignored
// and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithFallbacks adds fallback engines that are tried in order if the
// primary engine fails. Nil entries are silently skipped.
func WithFallbacks(engines ...domain.Engine) Option {
	return func(b *Brain) {
		for _, e := range engines {
			if e != nil {
				b.fallbacks = append(b.fallbacks, e)
			}
		}
	}
}

// WithMaxRounds caps the number of engine calls per request. Values below 1
// are ignored.
func WithMaxRounds(n int) Option {
	return func(b *Brain) {
		if n > 0 {
			b.maxRounds = n
		}
	}
}

// WithSystemPrompt replaces the built-in backlog instructions. Blank is ignored.
func WithSystemPrompt(prompt string) Option {
	return func(b *Brain) {
		if strings.TrimSpace(prompt) != "" {
			b.system = prompt
		}
	}
}

// Brain runs the agent loop: engine round, tool dispatch, outcomes back to
// the engine, until a final answer or the round budget runs out. A Brain is
// safe for concurrent Handle calls; all per-request state lives in the call.
type Brain struct {
	engine    domain.Engine
	fallbacks []domain.Engine // optional; tried in order when engine fails
	invoker   domain.ToolInvoker
	tools     []domain.ToolDefinition
	system    string
	maxRounds int
	logger    *slog.Logger // optional; nil uses slog.Default()
}

// NewBrain returns a Brain that consults engine and dispatches through
// invoker. tools is the catalog shown to the engine every round. Engine and
// invoker must not be nil.
func NewBrain(engine domain.Engine, invoker domain.ToolInvoker, tools []domain.ToolDefinition, opts ...Option) *Brain {
	if engine == nil {
		panic("brain: engine must not be nil")
	}
	if invoker == nil {
		panic("brain: invoker must not be nil")
	}
	b := &Brain{
		engine:    engine,
		invoker:   invoker,
		tools:     append([]domain.ToolDefinition(nil), tools...),
		system:    DefaultSystemPrompt,
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxRounds returns the configured round budget.
func (b *Brain) MaxRounds() int { return b.maxRounds }

// Handle answers a single end-user prompt.
func (b *Brain) Handle(ctx context.Context, prompt string) (string, error) {
	answer, _, err := b.HandleWithTranscript(ctx, prompt)
	return answer, err
}

// HandleWithTranscript is Handle that also returns the conversation as it
// stood when the loop ended, including on failure.
func (b *Brain) HandleWithTranscript(ctx context.Context, prompt string) (string, *domain.Conversation, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", nil, ErrEmptyPrompt
	}

	conv := &domain.Conversation{}
	conv.Append(domain.RoleUser, domain.TextBlock{Text: prompt})

	for round := 1; round <= b.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return "", conv, interrupted(err)
		}

		resp, err := b.completeWithFailover(ctx, domain.CompletionRequest{
			System:   b.system,
			Tools:    b.tools,
			Messages: conv.Messages,
		})
		if err != nil {
			return "", conv, err
		}

		switch r := resp.(type) {
		case domain.FinalAnswer:
			conv.Append(domain.RoleAssistant, domain.TextBlock{Text: r.Text})
			b.log().Info("final answer", "round", round)
			return r.Text, conv, nil

		case domain.ToolRequests:
			if len(r.Calls) == 0 {
				conv.Append(domain.RoleAssistant, domain.TextBlock{Text: r.Text})
				return r.Text, conv, nil
			}
			conv.Append(domain.RoleAssistant, toolUseBlocks(r)...)
			b.log().Info("engine requested tools", "round", round, "calls", len(r.Calls))

			outcomes := dispatchRound(ctx, b.invoker, r.Calls)
			conv.Append(domain.RoleTool, toolResultBlocks(outcomes, b.log())...)

		default:
			return "", conv, domain.NewFailure(domain.FailureProtocolViolation, "engine returned unsupported response %T", resp)
		}
	}

	b.log().Warn("round budget exhausted", "max_rounds", b.maxRounds)
	return "", conv, domain.NewFailure(domain.FailureBudgetExceeded,
		"no final answer after %d rounds", b.maxRounds)
}

// log returns the Brain's logger, falling back to the default slog logger.
func (b *Brain) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// completeWithFailover tries the primary engine, then each fallback in order.
// Returns the first successful response, or a FailureEngineError wrapping
// every engine's error if all fail.
func (b *Brain) completeWithFailover(ctx context.Context, req domain.CompletionRequest) (domain.EngineResponse, error) {
	resp, err := b.engine.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, interrupted(ctxErr)
	}
	if len(b.fallbacks) == 0 {
		return nil, domain.NewFailure(domain.FailureEngineError, "engine failed: %v", err).WithCause(err)
	}

	errs := []error{err}
	for i, fb := range b.fallbacks {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, interrupted(ctxErr)
		}
		b.log().Warn("engine failed, trying fallback", "fallback_index", i, "error", err)

		resp, fbErr := fb.Complete(ctx, req)
		if fbErr == nil {
			return resp, nil
		}
		errs = append(errs, fbErr)
		err = fbErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, interrupted(ctxErr)
	}
	joined := errors.Join(errs...)
	return nil, domain.NewFailure(domain.FailureEngineError, "all %d engines failed: %v", len(errs), joined).WithCause(joined)
}

// interrupted reports a canceled or expired request context as a timeout.
func interrupted(err error) *domain.Failure {
	return domain.NewFailure(domain.FailureTimeout, "request interrupted: %v", err).WithCause(err)
}
