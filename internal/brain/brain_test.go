package brain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"backlogagent/internal/domain"
)

// scriptedEngine replays responses in order and records every request.
type scriptedEngine struct {
	mu        sync.Mutex
	responses []domain.EngineResponse
	err       error
	requests  []domain.CompletionRequest
}

func (e *scriptedEngine) Complete(_ context.Context, req domain.CompletionRequest) (domain.EngineResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		return nil, e.err
	}
	if len(e.responses) == 0 {
		return domain.FinalAnswer{Text: "done"}, nil
	}
	r := e.responses[0]
	e.responses = e.responses[1:]
	return r, nil
}

func (e *scriptedEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// loopingEngine asks for another tool call forever.
type loopingEngine struct {
	mu sync.Mutex
	n  int
}

func (e *loopingEngine) Complete(context.Context, domain.CompletionRequest) (domain.EngineResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.n++
	return domain.ToolRequests{Calls: []domain.ToolCallRequest{{
		ID: "call", Name: "createIssue", Arguments: map[string]any{"title": "t", "body": "b"},
	}}}, nil
}

// stubInvoker returns outcome(call) and records every call it receives.
type stubInvoker struct {
	mu      sync.Mutex
	calls   []domain.ToolCallRequest
	outcome func(domain.ToolCallRequest) domain.ToolOutcome
}

func (s *stubInvoker) Invoke(_ context.Context, call domain.ToolCallRequest) domain.ToolOutcome {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	if s.outcome == nil {
		return domain.Success(call, []byte(`{"content":"ok"}`))
	}
	return s.outcome(call)
}

func (s *stubInvoker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createIssueRequest(id string) domain.ToolRequests {
	return domain.ToolRequests{Calls: []domain.ToolCallRequest{{
		ID: id, Name: "createIssue", Arguments: map[string]any{"title": "Fix Login", "body": "Login is broken on Chrome"},
	}}}
}

func TestBrain_Handle_WhenEngineAnswersDirectly_ShouldReturnTextVerbatim(t *testing.T) {
	engine := &scriptedEngine{responses: []domain.EngineResponse{domain.FinalAnswer{Text: "  Hello,\nworld  "}}}
	inv := &stubInvoker{}
	b := NewBrain(engine, inv, nil, WithLogger(quietLogger()))

	got, err := b.Handle(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got != "  Hello,\nworld  " {
		t.Errorf("Expected verbatim answer, got %q", got)
	}
	if inv.count() != 0 {
		t.Errorf("Expected no tool calls, got %d", inv.count())
	}
}

func TestBrain_Handle_ShouldSendSystemPromptAndCatalogEveryRound(t *testing.T) {
	engine := &scriptedEngine{responses: []domain.EngineResponse{createIssueRequest("c1"), domain.FinalAnswer{Text: "Created #42"}}}
	tools := []domain.ToolDefinition{{Name: "createIssue", Description: "d", InputSchema: []byte(`{"type":"object"}`)}}
	b := NewBrain(engine, &stubInvoker{}, tools, WithLogger(quietLogger()))

	if _, err := b.Handle(context.Background(), "create a task"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if engine.calls() != 2 {
		t.Fatalf("Expected 2 engine calls, got %d", engine.calls())
	}
	for i, req := range engine.requests {
		if req.System != DefaultSystemPrompt {
			t.Errorf("round %d: expected default system prompt", i+1)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "createIssue" {
			t.Errorf("round %d: expected catalog, got %+v", i+1, req.Tools)
		}
	}
}

func TestBrain_Handle_WhenToolSucceeds_ShouldFeedResultBackBeforeNextRound(t *testing.T) {
	engine := &scriptedEngine{responses: []domain.EngineResponse{createIssueRequest("c1"), domain.FinalAnswer{Text: "Issue #42 created"}}}
	inv := &stubInvoker{outcome: func(c domain.ToolCallRequest) domain.ToolOutcome {
		return domain.Success(c, []byte(`{"content":"Issue #42 created"}`))
	}}
	b := NewBrain(engine, inv, nil, WithLogger(quietLogger()))

	got, conv, err := b.HandleWithTranscript(context.Background(), "create a task for the login bug")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got != "Issue #42 created" {
		t.Errorf("unexpected answer %q", got)
	}

	second := engine.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("Expected user, assistant, tool messages in round 2, got %d", len(second))
	}
	if second[1].Role != domain.RoleAssistant || second[2].Role != domain.RoleTool {
		t.Errorf("unexpected roles %s, %s", second[1].Role, second[2].Role)
	}
	result, ok := second[2].Blocks[0].(domain.ToolResultBlock)
	if !ok || result.ToolUseID != "c1" || result.IsError || !strings.Contains(result.Content, "Issue #42 created") {
		t.Errorf("unexpected tool result %+v", second[2].Blocks[0])
	}
	if len(conv.Messages) != 4 {
		t.Errorf("Expected 4 messages in the transcript, got %d", len(conv.Messages))
	}
}

func TestBrain_Handle_WhenToolFails_ShouldFeedFailureToEngineAndContinue(t *testing.T) {
	engine := &scriptedEngine{responses: []domain.EngineResponse{
		createIssueRequest("c1"),
		domain.FinalAnswer{Text: "Sorry, the issue tracker is unavailable."},
	}}
	inv := &stubInvoker{outcome: func(c domain.ToolCallRequest) domain.ToolOutcome {
		return domain.Failed(c, domain.NewFailure(domain.FailureRemoteError, "tools/call: remote returned HTTP 502"))
	}}
	b := NewBrain(engine, inv, nil, WithLogger(quietLogger()))

	got, err := b.Handle(context.Background(), "create a task")
	if err != nil {
		t.Fatalf("Expected the loop to continue after a tool failure, got %v", err)
	}
	if got != "Sorry, the issue tracker is unavailable." {
		t.Errorf("unexpected answer %q", got)
	}
	result := engine.requests[1].Messages[2].Blocks[0].(domain.ToolResultBlock)
	if !result.IsError || !strings.Contains(result.Content, "remote_error") {
		t.Errorf("Expected error tool result, got %+v", result)
	}
}

func TestBrain_Handle_WhenSiblingCallsFinishOutOfOrder_ShouldAppendInRequestOrder(t *testing.T) {
	engine := &scriptedEngine{responses: []domain.EngineResponse{
		domain.ToolRequests{Calls: []domain.ToolCallRequest{
			{ID: "first", Name: "createIssue"},
			{ID: "second", Name: "createIssue"},
		}},
		domain.FinalAnswer{Text: "two issues"},
	}}
	firstMayFinish := make(chan struct{})
	inv := &stubInvoker{outcome: func(c domain.ToolCallRequest) domain.ToolOutcome {
		if c.ID == "first" {
			<-firstMayFinish
		} else {
			close(firstMayFinish)
		}
		return domain.Success(c, []byte(`{"id":"`+c.ID+`"}`))
	}}
	b := NewBrain(engine, inv, nil, WithLogger(quietLogger()))

	if _, err := b.Handle(context.Background(), "two tasks"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	blocks := engine.requests[1].Messages[2].Blocks
	if len(blocks) != 2 {
		t.Fatalf("Expected 2 tool results, got %d", len(blocks))
	}
	if blocks[0].(domain.ToolResultBlock).ToolUseID != "first" || blocks[1].(domain.ToolResultBlock).ToolUseID != "second" {
		t.Errorf("Expected request order first, second; got %+v", blocks)
	}
	if inv.count() != 2 {
		t.Errorf("Expected both calls dispatched, got %d", inv.count())
	}
}

func TestBrain_Handle_WhenEngineNeverStops_ShouldReturnBudgetExceededAfterNRounds(t *testing.T) {
	engine := &loopingEngine{}
	inv := &stubInvoker{}
	b := NewBrain(engine, inv, nil, WithMaxRounds(3), WithLogger(quietLogger()))

	_, err := b.Handle(context.Background(), "loop")
	if !domain.IsKind(err, domain.FailureBudgetExceeded) {
		t.Fatalf("Expected budget_exceeded, got %v", err)
	}
	if engine.n != 3 {
		t.Errorf("Expected exactly 3 engine calls, got %d", engine.n)
	}
	if inv.count() != 3 {
		t.Errorf("Expected every requested call to be attempted, got %d", inv.count())
	}
}

func TestBrain_Handle_WhenPromptBlank_ShouldRejectWithoutCallingEngine(t *testing.T) {
	engine := &scriptedEngine{}
	b := NewBrain(engine, &stubInvoker{}, nil, WithLogger(quietLogger()))

	for _, prompt := range []string{"", "   ", "\n\t"} {
		_, err := b.Handle(context.Background(), prompt)
		if !errors.Is(err, ErrEmptyPrompt) {
			t.Errorf("prompt %q: expected ErrEmptyPrompt, got %v", prompt, err)
		}
	}
	if engine.calls() != 0 {
		t.Errorf("Expected no engine calls, got %d", engine.calls())
	}
}

func TestBrain_Handle_WhenPrimaryFails_ShouldUseFallback(t *testing.T) {
	primary := &scriptedEngine{err: errors.New("primary down")}
	fallback := &scriptedEngine{responses: []domain.EngineResponse{domain.FinalAnswer{Text: "from fallback"}}}
	var logs bytes.Buffer
	b := NewBrain(primary, &stubInvoker{}, nil,
		WithFallbacks(nil, fallback),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	got, err := b.Handle(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got != "from fallback" {
		t.Errorf("unexpected answer %q", got)
	}
	if !strings.Contains(logs.String(), "trying fallback") {
		t.Errorf("Expected fallback to be logged, got %q", logs.String())
	}
}

func TestBrain_Handle_WhenAllEnginesFail_ShouldReturnJoinedError(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	b := NewBrain(&scriptedEngine{err: errA}, &stubInvoker{}, nil,
		WithFallbacks(&scriptedEngine{err: errB}), WithLogger(quietLogger()))

	_, err := b.Handle(context.Background(), "hi")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Expected both errors joined, got %v", err)
	}
}

func TestBrain_Handle_WhenContextCanceled_ShouldStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := &scriptedEngine{}
	b := NewBrain(engine, &stubInvoker{}, nil, WithLogger(quietLogger()))

	_, err := b.Handle(ctx, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if engine.calls() != 0 {
		t.Errorf("Expected no engine calls, got %d", engine.calls())
	}
}

func TestBrain_Handle_WhenEngineFails_ShouldReturnEngineErrorFailure(t *testing.T) {
	down := errors.New("503 from provider")
	b := NewBrain(&scriptedEngine{err: down}, &stubInvoker{}, nil, WithLogger(quietLogger()))

	_, err := b.Handle(context.Background(), "hi")
	f, ok := domain.AsFailure(err)
	if !ok || f.Kind != domain.FailureEngineError {
		t.Fatalf("want engine_error failure, got %v", err)
	}
	if !errors.Is(err, down) {
		t.Errorf("cause lost: %v", err)
	}
}

func TestBrain_Handle_WhenAllEnginesFail_ShouldReturnEngineErrorFailure(t *testing.T) {
	b := NewBrain(&scriptedEngine{err: errors.New("a down")}, &stubInvoker{}, nil,
		WithFallbacks(&scriptedEngine{err: errors.New("b down")}), WithLogger(quietLogger()))

	_, err := b.Handle(context.Background(), "hi")
	if !domain.IsKind(err, domain.FailureEngineError) {
		t.Errorf("want engine_error failure, got %v", err)
	}
}

func TestBrain_Handle_WhenContextCanceled_ShouldReturnTimeoutFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBrain(&scriptedEngine{}, &stubInvoker{}, nil, WithLogger(quietLogger()))

	_, err := b.Handle(ctx, "hi")
	if !domain.IsKind(err, domain.FailureTimeout) {
		t.Errorf("want timeout failure, got %v", err)
	}
}

func TestBrain_Handle_WhenCanceledDuringEngineCall_ShouldNotTryFallbacks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &cancelingEngine{cancel: cancel}
	fallback := &scriptedEngine{}
	b := NewBrain(primary, &stubInvoker{}, nil, WithFallbacks(fallback), WithLogger(quietLogger()))

	_, err := b.Handle(ctx, "hi")
	if !domain.IsKind(err, domain.FailureTimeout) || !errors.Is(err, context.Canceled) {
		t.Errorf("want timeout failure wrapping context.Canceled, got %v", err)
	}
	if fallback.calls() != 0 {
		t.Errorf("fallback should not run after cancellation, got %d calls", fallback.calls())
	}
}

// cancelingEngine cancels the request context and fails, as a provider
// client does when the caller goes away mid-request.
type cancelingEngine struct{ cancel context.CancelFunc }

func (e *cancelingEngine) Complete(ctx context.Context, _ domain.CompletionRequest) (domain.EngineResponse, error) {
	e.cancel()
	return nil, ctx.Err()
}

func TestBrain_Handle_WhenToolRequestsHaveNoCalls_ShouldTreatTextAsAnswer(t *testing.T) {
	engine := &scriptedEngine{responses: []domain.EngineResponse{domain.ToolRequests{Text: "nothing to do"}}}
	b := NewBrain(engine, &stubInvoker{}, nil, WithLogger(quietLogger()))

	got, err := b.Handle(context.Background(), "hi")
	if err != nil || got != "nothing to do" {
		t.Errorf("unexpected result %q, %v", got, err)
	}
}

func TestNewBrain_Options(t *testing.T) {
	b := NewBrain(&scriptedEngine{}, &stubInvoker{}, nil, WithMaxRounds(0), WithSystemPrompt("  "))
	if b.MaxRounds() != DefaultMaxRounds || b.system != DefaultSystemPrompt {
		t.Error("Expected invalid options to be ignored")
	}
	b = NewBrain(&scriptedEngine{}, &stubInvoker{}, nil, WithMaxRounds(2), WithSystemPrompt("custom"))
	if b.MaxRounds() != 2 || b.system != "custom" {
		t.Error("Expected options to apply")
	}
}

func TestNewBrain_WhenNilCollaborators_ShouldPanic(t *testing.T) {
	for label, fn := range map[string]func(){
		"engine":  func() { NewBrain(nil, &stubInvoker{}, nil) },
		"invoker": func() { NewBrain(&scriptedEngine{}, nil, nil) },
	} {
		t.Run(label, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Expected panic")
				}
			}()
			fn()
		})
	}
}
