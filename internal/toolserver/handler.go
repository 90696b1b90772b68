package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"backlogagent/internal/domain"
	"backlogagent/internal/rpc"
	"backlogagent/internal/tooling"
)

// Remote tool names served by the handler.
const (
	ToolCreateIssue = tooling.CreateIssueRemote
	ToolListIssues  = "list_issues"
)

const maxRequestBody = 1 << 20

// tool is one served tool: its advertised spec, the schema compiled once at
// startup that arguments are validated against, and the implementation.
type tool struct {
	spec   domain.ToolSpec
	schema *tooling.CompiledSchema
	run    func(ctx context.Context, args map[string]any) (*callResult, error)
}

// callResult is the MCP-style result of tools/call.
type callResult struct {
	Content           []contentItem `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(text string, structured any) *callResult {
	return &callResult{Content: []contentItem{{Type: "text", Text: text}}, StructuredContent: structured}
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// Handler serves JSON-RPC 2.0 tools/list and tools/call over HTTP POST.
// Every well-formed request is answered with HTTP 200; protocol errors travel
// as JSON-RPC error objects and tool failures as results with isError set.
type Handler struct {
	order  []*tool
	byName map[string]*tool
	logger *slog.Logger
}

// NewHandler serves the issue tools backed by tracker. tracker must not be nil.
func NewHandler(tracker IssueTracker, opts ...Option) (*Handler, error) {
	if tracker == nil {
		panic("toolserver: tracker must not be nil")
	}
	h := &Handler{byName: map[string]*tool{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	for _, t := range issueTools(tracker) {
		schema, err := tooling.CompileSchema(t.spec)
		if err != nil {
			return nil, fmt.Errorf("toolserver: schema for %s: %w", t.spec.Name, err)
		}
		t.schema = schema
		h.order = append(h.order, t)
		h.byName[t.spec.Name] = t
	}
	return h, nil
}

func issueTools(tracker IssueTracker) []*tool {
	repoParams := []domain.ParamSpec{
		{Name: "owner", Type: "string", Required: true, Hint: "Repository owner or group"},
		{Name: "repo", Type: "string", Required: true, Hint: "Repository name"},
	}
	return []*tool{
		{
			spec: domain.ToolSpec{
				Name:        ToolCreateIssue,
				Description: "Create an issue in a repository",
				Params: append(append([]domain.ParamSpec{}, repoParams...),
					domain.ParamSpec{Name: "title", Type: "string", Required: true},
					domain.ParamSpec{Name: "body", Type: "string", Required: true},
				),
			},
			run: func(ctx context.Context, args map[string]any) (*callResult, error) {
				issue, err := tracker.CreateIssue(ctx, str(args, "owner"), str(args, "repo"), str(args, "title"), str(args, "body"))
				if err != nil {
					return nil, err
				}
				return textResult(fmt.Sprintf("Created issue #%d: %s\n%s", issue.Number, issue.Title, issue.URL), issue), nil
			},
		},
		{
			spec: domain.ToolSpec{
				Name:        ToolListIssues,
				Description: "List open issues of a repository",
				Params:      repoParams,
			},
			run: func(ctx context.Context, args map[string]any) (*callResult, error) {
				issues, err := tracker.ListIssues(ctx, str(args, "owner"), str(args, "repo"))
				if err != nil {
					return nil, err
				}
				lines := make([]string, 0, len(issues))
				for _, is := range issues {
					lines = append(lines, fmt.Sprintf("#%d %s", is.Number, is.Title))
				}
				if len(lines) == 0 {
					lines = append(lines, "No open issues.")
				}
				return textResult(strings.Join(lines, "\n"), map[string]any{"issues": issues}), nil
			},
		},
	}
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  any              `json:"result,omitempty"`
	Error   *rpc.ErrorObject `json:"error,omitempty"`
}

type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string { return e.msg }

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		h.write(w, nil, nil, &rpcError{rpc.CodeParseError, "parse error"})
		return
	}
	if req.JSONRPC != rpc.Version || req.Method == "" {
		h.write(w, req.ID, nil, &rpcError{rpc.CodeInvalidRequest, "invalid request"})
		return
	}

	var result any
	switch req.Method {
	case rpc.MethodListTools:
		result = h.listTools()
	case rpc.MethodCallTool:
		result, err = h.callTool(r.Context(), req.Params)
	default:
		err = &rpcError{rpc.CodeMethodNotFound, "method not found: " + req.Method}
	}
	h.write(w, req.ID, result, err)
}

func (h *Handler) listTools() map[string]any {
	tools := make([]rpc.RemoteTool, 0, len(h.order))
	for _, t := range h.order {
		tools = append(tools, rpc.RemoteTool{Name: t.spec.Name, Description: t.spec.Description, InputSchema: t.schema.Source()})
	}
	return map[string]any{"tools": tools}
}

func (h *Handler) callTool(ctx context.Context, rawParams json.RawMessage) (*callResult, error) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, &rpcError{rpc.CodeInvalidParams, "params must be an object with name and arguments"}
	}
	t, ok := h.byName[params.Name]
	if !ok {
		return nil, &rpcError{rpc.CodeInvalidParams, "unknown tool: " + params.Name}
	}
	decoded := map[string]any{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &decoded); err != nil {
			return nil, &rpcError{rpc.CodeInvalidParams, "arguments must be an object"}
		}
	}
	if err := t.schema.Validate(decoded); err != nil {
		return nil, &rpcError{rpc.CodeInvalidParams, fmt.Sprintf("invalid arguments for %s: %v", t.spec.Name, err)}
	}

	res, err := t.run(ctx, decoded)
	if err != nil {
		h.logger.Warn("tool failed", "tool", t.spec.Name, "error", err)
		return &callResult{Content: []contentItem{{Type: "text", Text: err.Error()}}, IsError: true}, nil
	}
	h.logger.Info("tool succeeded", "tool", t.spec.Name)
	return res, nil
}

func (h *Handler) write(w http.ResponseWriter, id json.RawMessage, result any, err error) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := response{JSONRPC: rpc.Version, ID: id}
	if err != nil {
		var re *rpcError
		if !errors.As(err, &re) {
			re = &rpcError{rpc.CodeInternalError, err.Error()}
		}
		resp.Error = &rpc.ErrorObject{Code: re.code, Message: re.msg}
	} else {
		resp.Result = result
	}
	w.Header().Set("Content-Type", "application/json")
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		h.logger.Error("write response", "error", encErr)
	}
}
