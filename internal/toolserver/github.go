package toolserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
)

// GitHubTracker implements IssueTracker using the GitHub REST API.
type GitHubTracker struct {
	client *github.Client
}

// NewGitHubTracker creates a tracker authenticated with token. A non-empty
// baseURL replaces https://api.github.com/.
func NewGitHubTracker(token, baseURL string) (*GitHubTracker, error) {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHubTracker{client: client}, nil
}

// CreateIssue opens a new issue.
func (g *GitHubTracker) CreateIssue(ctx context.Context, owner, repo, title, body string) (*Issue, error) {
	issue, _, err := g.client.Issues.Create(ctx, owner, repo, &github.IssueRequest{
		Title: &title,
		Body:  &body,
	})
	if err != nil {
		return nil, fmt.Errorf("github create issue: %w", err)
	}
	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		State:  issue.GetState(),
		URL:    issue.GetHTMLURL(),
	}, nil
}

// ListIssues returns open issues, skipping pull requests.
func (g *GitHubTracker) ListIssues(ctx context.Context, owner, repo string) ([]Issue, error) {
	issues, _, err := g.client.Issues.ListByRepo(ctx, owner, repo, &github.IssueListByRepoOptions{
		State: "open",
	})
	if err != nil {
		return nil, fmt.Errorf("github list issues: %w", err)
	}
	result := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		// GitHub returns PRs in the issues endpoint
		if issue.PullRequestLinks != nil {
			continue
		}
		result = append(result, Issue{
			Number: issue.GetNumber(),
			Title:  issue.GetTitle(),
			State:  issue.GetState(),
			URL:    issue.GetHTMLURL(),
		})
	}
	return result, nil
}

var _ IssueTracker = (*GitHubTracker)(nil)
