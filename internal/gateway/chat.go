package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"backlogagent/internal/brain"
	"backlogagent/internal/domain"
)

// maxChatBody caps the request body of /api/agent/chat.
const maxChatBody = 1 << 20

// ChatRequest is the body of POST /api/agent/chat.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// ChatResponse is the success body of POST /api/agent/chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is the failure body of every gateway endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Kind: "bad_request"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "prompt must not be empty", Kind: "bad_request"})
		return
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}
	answer, err := s.agent.Handle(ctx, req.Prompt)
	if err != nil {
		status, body := errorStatus(err)
		s.logger.Warn("chat request failed", "status", status, "kind", body.Kind, "error", err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: answer})
}

// errorStatus maps an agent error onto an HTTP status and a structured body.
func errorStatus(err error) (int, ErrorResponse) {
	if errors.Is(err, brain.ErrEmptyPrompt) {
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "bad_request"}
	}
	if f, ok := domain.AsFailure(err); ok {
		status := http.StatusBadGateway
		switch f.Kind {
		case domain.FailureTimeout:
			status = http.StatusGatewayTimeout
		case domain.FailureBudgetExceeded:
			// Upstreams answered; the request needed more rounds than allowed.
			status = http.StatusUnprocessableEntity
		}
		return status, ErrorResponse{Error: f.Message, Kind: string(f.Kind)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out", Kind: string(domain.FailureTimeout)}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: "internal"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
