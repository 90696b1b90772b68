package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"backlogagent/internal/rpc"
)

// fakeTracker records created issues and numbers them from 1.
type fakeTracker struct {
	mu      sync.Mutex
	created []Issue
	owners  []string
	err     error
}

func (f *fakeTracker) CreateIssue(_ context.Context, owner, repo, title, body string) (*Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	is := Issue{Number: len(f.created) + 1, Title: title, Body: body, State: "open", URL: "https://example.test/" + owner + "/" + repo}
	f.created = append(f.created, is)
	f.owners = append(f.owners, owner+"/"+repo)
	return &is, nil
}

func (f *fakeTracker) ListIssues(context.Context, string, string) ([]Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Issue(nil), f.created...), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, tracker IssueTracker) *Handler {
	t.Helper()
	h, err := NewHandler(tracker, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

// rpcReply is the decoded body of a JSON-RPC reply.
type rpcReply struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *rpc.ErrorObject `json:"error"`
}

func post(t *testing.T, h http.Handler, body string) rpcReply {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("want HTTP 200, got %d", rec.Code)
	}
	var out rpcReply
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode reply: %v (%s)", err, rec.Body.String())
	}
	if out.JSONRPC != "2.0" {
		t.Errorf("reply jsonrpc: %q", out.JSONRPC)
	}
	return out
}

func TestNewHandler_WhenTrackerNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	_, _ = NewHandler(nil)
}

func TestHandler_ToolsList_ShouldAdvertiseToolsWithSchemas(t *testing.T) {
	out := post(t, newTestHandler(t, &fakeTracker{}), `{"jsonrpc":"2.0","id":"a1","method":"tools/list","params":{}}`)
	if string(out.ID) != `"a1"` || out.Error != nil {
		t.Fatalf("unexpected reply %+v", out)
	}
	var res struct {
		Tools []rpc.RemoteTool `json:"tools"`
	}
	if err := json.Unmarshal(out.Result, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Tools) != 2 || res.Tools[0].Name != ToolCreateIssue || res.Tools[1].Name != ToolListIssues {
		t.Fatalf("unexpected tools %+v", res.Tools)
	}
	var schema map[string]any
	if err := json.Unmarshal(res.Tools[0].InputSchema, &schema); err != nil {
		t.Fatal(err)
	}
	if req, _ := schema["required"].([]any); len(req) != 4 {
		t.Errorf("create_issue should require owner, repo, title, body; got %v", schema["required"])
	}
}

func TestHandler_ToolsCall_WhenCreateIssue_ShouldReturnContentAndStructuredIssue(t *testing.T) {
	tracker := &fakeTracker{}
	out := post(t, newTestHandler(t, tracker), `{"jsonrpc":"2.0","id":"c1","method":"tools/call",
		"params":{"name":"create_issue","arguments":{"owner":"acme","repo":"roadmap","title":"Fix login","body":"## Context"}}}`)
	if out.Error != nil {
		t.Fatalf("unexpected error %+v", out.Error)
	}
	var res callResult
	if err := json.Unmarshal(out.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.IsError || len(res.Content) != 1 || !strings.Contains(res.Content[0].Text, "Created issue #1: Fix login") {
		t.Errorf("unexpected result %+v", res)
	}
	if len(tracker.owners) != 1 || tracker.owners[0] != "acme/roadmap" {
		t.Errorf("tracker got %v", tracker.owners)
	}
}

func TestHandler_ToolsCall_WhenListIssues_ShouldListTitles(t *testing.T) {
	tracker := &fakeTracker{created: []Issue{{Number: 3, Title: "Flaky CI"}}}
	out := post(t, newTestHandler(t, tracker), `{"jsonrpc":"2.0","id":"l1","method":"tools/call","params":{"name":"list_issues","arguments":{"owner":"a","repo":"b"}}}`)
	var res callResult
	_ = json.Unmarshal(out.Result, &res)
	if len(res.Content) != 1 || res.Content[0].Text != "#3 Flaky CI" {
		t.Errorf("unexpected result %+v", res)
	}

	empty := post(t, newTestHandler(t, &fakeTracker{}), `{"jsonrpc":"2.0","id":"l2","method":"tools/call","params":{"name":"list_issues","arguments":{"owner":"a","repo":"b"}}}`)
	_ = json.Unmarshal(empty.Result, &res)
	if res.Content[0].Text != "No open issues." {
		t.Errorf("unexpected empty listing %+v", res)
	}
}

func TestHandler_ToolsCall_WhenTrackerFails_ShouldReturnIsError(t *testing.T) {
	out := post(t, newTestHandler(t, &fakeTracker{err: errors.New("github create issue: 404 Not Found")}),
		`{"jsonrpc":"2.0","id":"c2","method":"tools/call","params":{"name":"create_issue","arguments":{"owner":"a","repo":"b","title":"t","body":"b"}}}`)
	if out.Error != nil {
		t.Fatalf("tool failures must not be protocol errors: %+v", out.Error)
	}
	var res callResult
	_ = json.Unmarshal(out.Result, &res)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "404") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandler_ShouldReturnJSONRPCErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantID   string
	}{
		{"parse", `{nope`, rpc.CodeParseError, "null"},
		{"version", `{"jsonrpc":"1.0","id":"v","method":"tools/list"}`, rpc.CodeInvalidRequest, `"v"`},
		{"method", `{"jsonrpc":"2.0","id":"m","method":"tools/delete"}`, rpc.CodeMethodNotFound, `"m"`},
		{"unknown tool", `{"jsonrpc":"2.0","id":"u","method":"tools/call","params":{"name":"drop_db","arguments":{}}}`, rpc.CodeInvalidParams, `"u"`},
		{"bad params", `{"jsonrpc":"2.0","id":"p","method":"tools/call","params":[1]}`, rpc.CodeInvalidParams, `"p"`},
		{"missing arg", `{"jsonrpc":"2.0","id":"r","method":"tools/call","params":{"name":"create_issue","arguments":{"owner":"a","repo":"b","title":"t"}}}`, rpc.CodeInvalidParams, `"r"`},
		{"extra arg", `{"jsonrpc":"2.0","id":"x","method":"tools/call","params":{"name":"list_issues","arguments":{"owner":"a","repo":"b","x":1}}}`, rpc.CodeInvalidParams, `"x"`},
		{"null args", `{"jsonrpc":"2.0","id":"n","method":"tools/call","params":{"name":"list_issues"}}`, rpc.CodeInvalidParams, `"n"`},
		{"wrong type", `{"jsonrpc":"2.0","id":"w","method":"tools/call","params":{"name":"list_issues","arguments":{"owner":"a","repo":7}}}`, rpc.CodeInvalidParams, `"w"`},
		{"array args", `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"list_issues","arguments":["a","b"]}}`, rpc.CodeInvalidParams, `"a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := post(t, newTestHandler(t, &fakeTracker{}), tt.body)
			if out.Error == nil || out.Error.Code != tt.wantCode {
				t.Fatalf("want error code %d, got %+v", tt.wantCode, out.Error)
			}
			if string(out.ID) != tt.wantID {
				t.Errorf("want id %s, got %s", tt.wantID, out.ID)
			}
			if len(out.Result) != 0 {
				t.Errorf("error replies must not carry a result: %s", out.Result)
			}
		})
	}
}

func TestNewHandler_ShouldCompileEachToolSchemaOnce(t *testing.T) {
	h := newTestHandler(t, &fakeTracker{})
	for _, tl := range h.order {
		if tl.schema == nil {
			t.Fatalf("%s: schema not compiled", tl.spec.Name)
		}
		if h.byName[tl.spec.Name].schema != tl.schema {
			t.Errorf("%s: lookup and listing must share one compiled schema", tl.spec.Name)
		}
	}
	listed := h.listTools()["tools"].([]rpc.RemoteTool)
	if string(listed[0].InputSchema) != string(h.order[0].schema.Source()) {
		t.Errorf("advertised schema differs from the validating one:\n%s\n%s", listed[0].InputSchema, h.order[0].schema.Source())
	}
}

func TestHandler_ToolsCall_WhenArgumentNull_ShouldNameMissingArgument(t *testing.T) {
	tracker := &fakeTracker{}
	out := post(t, newTestHandler(t, tracker), `{"jsonrpc":"2.0","id":"b","method":"tools/call",
		"params":{"name":"create_issue","arguments":{"owner":"a","repo":"b","title":"t","body":null}}}`)
	if out.Error == nil || out.Error.Code != rpc.CodeInvalidParams || !strings.Contains(out.Error.Message, "body") {
		t.Fatalf("want invalid params naming body, got %+v", out.Error)
	}
	if len(tracker.created) != 0 {
		t.Error("tracker must not be called with invalid arguments")
	}
}

func TestHandler_WhenMethodNotPost_ShouldReturn405(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler(t, &fakeTracker{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("want 405 with Allow: POST, got %d", rec.Code)
	}
}

func TestNewTracker_ShouldSelectProvider(t *testing.T) {
	if tr, err := NewTracker("", "t", ""); err != nil {
		t.Errorf("github default: %v", err)
	} else if _, ok := tr.(*GitHubTracker); !ok {
		t.Errorf("want *GitHubTracker, got %T", tr)
	}
	if tr, err := NewTracker("GitLab", "t", ""); err != nil {
		t.Errorf("gitlab: %v", err)
	} else if _, ok := tr.(*GitLabTracker); !ok {
		t.Errorf("want *GitLabTracker, got %T", tr)
	}
	if _, err := NewTracker("bitbucket", "t", ""); err == nil {
		t.Error("expected error for unknown provider")
	}
}
