package tooling

import (
	"errors"
	"strings"

	"backlogagent/internal/domain"
)

const (
	// CreateIssueTool is the name the engine sees.
	CreateIssueTool = "createIssue"
	// CreateIssueRemote is the name the remote executor knows the tool by.
	CreateIssueRemote = "create_issue"
)

// CreateIssueSpec describes the backlog tool. owner and repo are not part of
// it: they come from configuration and are bound at registration.
func CreateIssueSpec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        CreateIssueTool,
		Description: "Create a new issue in the configured GitHub repository. Use it whenever the user asks to create a task, ticket, bug or issue.",
		Params: []domain.ParamSpec{
			{Name: "title", Type: "string", Required: true, Hint: "Short, imperative issue title"},
			{Name: "body", Type: "string", Required: true, Hint: "Markdown body with Context, Goal and Acceptance Criteria sections"},
		},
	}
}

// NewBacklogRegistry builds the process-wide registry: the built-in backlog
// tool bound to owner/repo, then any declared tools, in order. The returned
// registry is frozen.
func NewBacklogRegistry(backlog domain.BacklogConfig, declared []domain.ToolConfig) (*ToolRegistry, error) {
	owner := strings.TrimSpace(backlog.Owner)
	repo := strings.TrimSpace(backlog.Repo)
	if owner == "" || repo == "" {
		return nil, errors.New("tooling: backlog owner and repo must be configured")
	}

	r := NewToolRegistry()
	if err := r.Register(CreateIssueSpec(), CreateIssueRemote, map[string]any{
		"owner": owner,
		"repo":  repo,
	}); err != nil {
		return nil, err
	}
	if err := RegisterDeclared(r, declared); err != nil {
		return nil, err
	}
	r.Freeze()
	return r, nil
}
