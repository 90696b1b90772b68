// Package rpc is the JSON-RPC 2.0 transport used to reach the remote tool
// executor. One HTTP POST carries one envelope; responses are matched to
// requests by the id in the body, never by arrival order.
package rpc

import "encoding/json"

// Version is the only protocol version tag accepted in either direction.
const Version = "2.0"

const (
	MethodCallTool  = "tools/call"
	MethodListTools = "tools/list"
)

// JSON-RPC canonical error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Envelope is a request body. ID must be unique among calls in flight.
type Envelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// NewEnvelope builds a 2.0 envelope. Nil params are sent as an empty object.
func NewEnvelope(id, method string, params any) Envelope {
	if params == nil {
		params = map[string]any{}
	}
	return Envelope{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// CallParams is the params object of a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Response is a decoded, id-verified response body. Result holds the raw
// "result" member exactly as received (including a literal null).
type Response struct {
	JSONRPC string
	ID      string
	Result  json.RawMessage
	Status  int
}

// ErrorObject is the JSON-RPC error member.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// wireResponse mirrors the body on the wire. Pointers and RawMessage let the
// decoder tell "absent" from "null".
type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// RemoteTool is one entry of a tools/list result.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type listToolsResult struct {
	Tools []RemoteTool `json:"tools"`
}
