package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"backlogagent/internal/domain"
)

// DefaultPath is the HTTP path used when none is configured.
const DefaultPath = "/mcp"

// DefaultTimeout bounds a single call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a non-2xx body is kept as failure detail.
const maxErrorBody = 64 << 10

// Options configures an HTTPTransport.
type Options struct {
	BaseURL         string
	Path            string
	Timeout         time.Duration
	MaxConnsPerHost int
	Client          *http.Client // optional; built from MaxConnsPerHost when nil
}

// HTTPTransport sends JSON-RPC envelopes as HTTP POSTs. It keeps no state per
// call; the http.Client connection pool is the only shared mutable resource
// and synchronizes itself.
type HTTPTransport struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	newID    func() string
}

// NewHTTPTransport builds a transport for baseURL+path.
func NewHTTPTransport(opts Options) (*HTTPTransport, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rpc: base URL must not be empty")
	}
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.Client
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.MaxConnsPerHost > 0 {
			tr.MaxConnsPerHost = opts.MaxConnsPerHost
			tr.MaxIdleConnsPerHost = opts.MaxConnsPerHost
		}
		client = &http.Client{Transport: tr}
	}
	return &HTTPTransport{
		endpoint: base + path,
		timeout:  timeout,
		client:   client,
		newID:    uuid.NewString,
	}, nil
}

// Endpoint returns the full URL calls are posted to.
func (t *HTTPTransport) Endpoint() string { return t.endpoint }

// Send posts env and returns the id-verified response. Every error it returns
// is a *domain.Failure.
func (t *HTTPTransport) Send(ctx context.Context, env Envelope) (*Response, error) {
	if env.ID == "" {
		return nil, domain.NewFailure(domain.FailureProtocolViolation, "envelope has no correlation id")
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := json.Marshal(env)
	if err != nil {
		return nil, domain.NewFailure(domain.FailureProtocolViolation, "encode %s request: %v", env.Method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewFailure(domain.FailureRemoteError, "build %s request: %v", env.Method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyDoError(ctx, env.Method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, domain.NewFailure(domain.FailureRemoteError, "%s: remote returned HTTP %d", env.Method, resp.StatusCode).
			WithDetail(detailFromBody(raw))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyDoError(ctx, env.Method, err)
	}
	return decodeResponse(env, raw, resp.StatusCode)
}

// Call sends method/params under a fresh correlation id.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (*Response, error) {
	return t.Send(ctx, NewEnvelope(t.newID(), method, params))
}

// ListTools asks the remote executor for its tool catalog.
func (t *HTTPTransport) ListTools(ctx context.Context) ([]RemoteTool, error) {
	resp, err := t.Call(ctx, MethodListTools, nil)
	if err != nil {
		return nil, err
	}
	var out listToolsResult
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, domain.NewFailure(domain.FailureProtocolViolation, "tools/list result: %v", err).WithDetail(resp.Result)
	}
	return out.Tools, nil
}

// decodeResponse validates the envelope fields and the echoed id.
func decodeResponse(env Envelope, raw []byte, status int) (*Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, domain.NewFailure(domain.FailureProtocolViolation, "%s: response is not a JSON object: %v", env.Method, err).
			WithDetail(detailFromBody(raw))
	}
	if wire.JSONRPC != Version {
		return nil, domain.NewFailure(domain.FailureProtocolViolation, "%s: unexpected jsonrpc version %q", env.Method, wire.JSONRPC).
			WithDetail(raw)
	}
	var id string
	if len(wire.ID) == 0 || json.Unmarshal(wire.ID, &id) != nil {
		return nil, domain.NewFailure(domain.FailureProtocolViolation, "%s: response id missing or not a string", env.Method).
			WithDetail(raw)
	}
	if id != env.ID {
		return nil, domain.NewFailure(domain.FailureProtocolViolation, "%s: response id %q does not match request id %q", env.Method, id, env.ID).
			WithDetail(raw)
	}
	if len(wire.Error) > 0 && !isNull(wire.Error) {
		var obj ErrorObject
		msg := "remote reported an error"
		if json.Unmarshal(wire.Error, &obj) == nil && obj.Message != "" {
			msg = fmt.Sprintf("remote error %d: %s", obj.Code, obj.Message)
		}
		return nil, domain.NewFailure(domain.FailureRemoteError, "%s: %s", env.Method, msg).WithDetail(wire.Error)
	}
	if len(wire.Result) == 0 {
		return nil, domain.NewFailure(domain.FailureProtocolViolation, "%s: response has neither result nor error", env.Method).
			WithDetail(raw)
	}
	return &Response{JSONRPC: wire.JSONRPC, ID: id, Result: wire.Result, Status: status}, nil
}

// classifyDoError maps a client.Do or body read error onto the taxonomy.
func classifyDoError(ctx context.Context, method string, err error) *domain.Failure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewFailure(domain.FailureTimeout, "%s: deadline exceeded", method)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewFailure(domain.FailureTimeout, "%s: %v", method, err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewFailure(domain.FailureTimeout, "%s: call canceled", method)
	}
	return domain.NewFailure(domain.FailureRemoteError, "%s: %v", method, err)
}

// detailFromBody keeps JSON bodies as-is and wraps anything else as a JSON string.
func detailFromBody(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return trimmed
	}
	quoted, err := json.Marshal(string(trimmed))
	if err != nil {
		return nil
	}
	return quoted
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
