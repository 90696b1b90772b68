// Package toolserver is a reference remote tool executor: a JSON-RPC 2.0
// endpoint serving tools/list and tools/call, with issue tools backed by a
// hosted tracker (GitHub or GitLab).
package toolserver

import (
	"context"
	"fmt"
	"strings"
)

// Issue is a tracker issue as returned to callers.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
	State  string `json:"state"`
	URL    string `json:"url"`
}

// IssueTracker creates and lists issues in a hosted repository.
type IssueTracker interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string) (*Issue, error)
	ListIssues(ctx context.Context, owner, repo string) ([]Issue, error)
}

// NewTracker returns the tracker for provider ("github" or "gitlab").
// baseURL is optional and targets GitHub Enterprise or self-hosted GitLab.
func NewTracker(provider, token, baseURL string) (IssueTracker, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "github":
		return NewGitHubTracker(token, baseURL)
	case "gitlab":
		return NewGitLabTracker(token, baseURL)
	default:
		return nil, fmt.Errorf("toolserver: unknown provider %q (use: github, gitlab)", provider)
	}
}
