package toolserver

import (
	"context"
	"fmt"

	gitlab "github.com/xanzy/go-gitlab"
)

// GitLabTracker implements IssueTracker using the GitLab API. owner/repo map
// to the project path "owner/repo".
type GitLabTracker struct {
	client *gitlab.Client
}

// NewGitLabTracker creates a tracker for gitlab.com or, with baseURL, a
// self-hosted instance.
func NewGitLabTracker(token, baseURL string) (*GitLabTracker, error) {
	opts := []gitlab.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("gitlab client init: %w", err)
	}
	return &GitLabTracker{client: client}, nil
}

func projectPath(owner, repo string) string {
	return owner + "/" + repo
}

// CreateIssue opens a new issue in the project.
func (g *GitLabTracker) CreateIssue(ctx context.Context, owner, repo, title, body string) (*Issue, error) {
	issue, _, err := g.client.Issues.CreateIssue(projectPath(owner, repo), &gitlab.CreateIssueOptions{
		Title:       &title,
		Description: &body,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab create issue: %w", err)
	}
	return &Issue{
		Number: issue.IID,
		Title:  issue.Title,
		Body:   issue.Description,
		State:  issue.State,
		URL:    issue.WebURL,
	}, nil
}

// ListIssues returns opened issues of the project.
func (g *GitLabTracker) ListIssues(ctx context.Context, owner, repo string) ([]Issue, error) {
	state := "opened"
	issues, _, err := g.client.Issues.ListProjectIssues(projectPath(owner, repo), &gitlab.ListProjectIssuesOptions{
		State: &state,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab list issues: %w", err)
	}
	result := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		result = append(result, Issue{
			Number: issue.IID,
			Title:  issue.Title,
			State:  issue.State,
			URL:    issue.WebURL,
		})
	}
	return result, nil
}

var _ IssueTracker = (*GitLabTracker)(nil)
