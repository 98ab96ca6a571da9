// Package github implements the Remote port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/calebhart/reviewd/internal/domain/model"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Remote = (*Client)(nil)

// searchBatchLimit caps how many repo: qualifiers go into one search query.
const searchBatchLimit = 10

// Client implements the driven.Remote port using the go-github library.
type Client struct {
	gh       *gh.Client
	username string
}

// NewClient creates a remote client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token, username string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{
		gh:       client,
		username: username,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and
// base URL, for injecting an httptest server in tests.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, username string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{
		gh:       client,
		username: username,
	}, nil
}

// ListRepositories returns every repository the authenticated user can see,
// following pagination until exhausted.
func (c *Client) ListRepositories(ctx context.Context) ([]driven.RemoteRepo, error) {
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Sort:        "full_name",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var all []driven.RemoteRepo

	for {
		repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing repositories (page %d)", opts.Page))
		}

		logRateLimit(resp, "repositories", opts.Page, len(repos))

		for _, r := range repos {
			all = append(all, driven.RemoteRepo{
				FullName:    r.GetFullName(),
				CloneURL:    r.GetCloneURL(),
				PushAllowed: r.GetPermissions().GetPush(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListBranches returns all branch names of the repository.
func (c *Client) ListBranches(ctx context.Context, repoFullName string) ([]string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.BranchListOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	var names []string

	for {
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing branches for %s (page %d)", repoFullName, opts.Page))
		}

		for _, b := range branches {
			names = append(names, b.GetName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// ListLabels returns all label names defined on the repository.
func (c *Client) ListLabels(ctx context.Context, repoFullName string) ([]string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var names []string

	for {
		labels, resp, err := c.gh.Issues.ListLabels(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing labels for %s (page %d)", repoFullName, opts.Page))
		}

		for _, l := range labels {
			names = append(names, l.GetName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// SearchPullRequests lists open pull requests across up to ten repositories
// in one issue-search query. A non-nil updatedSince narrows the listing to
// PRs updated at or after that instant.
func (c *Client) SearchPullRequests(ctx context.Context, repoFullNames []string, updatedSince *time.Time) ([]driven.PRRef, error) {
	if len(repoFullNames) == 0 {
		return nil, nil
	}
	if len(repoFullNames) > searchBatchLimit {
		return nil, fmt.Errorf("search batch of %d repositories exceeds limit of %d", len(repoFullNames), searchBatchLimit)
	}

	var q strings.Builder
	q.WriteString("is:pr is:open")
	for _, name := range repoFullNames {
		fmt.Fprintf(&q, " repo:%s", name)
	}
	if updatedSince != nil {
		fmt.Fprintf(&q, " updated:>=%s", updatedSince.UTC().Format(time.RFC3339))
	}

	opts := &gh.SearchOptions{
		Sort:        "updated",
		Order:       "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var refs []driven.PRRef

	for {
		result, resp, err := c.gh.Search.Issues(ctx, q.String(), opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("searching pull requests (page %d)", opts.Page))
		}

		logRateLimit(resp, "search", opts.Page, len(result.Issues))

		for _, issue := range result.Issues {
			fullName := repoFromIssueURL(issue.GetRepositoryURL())
			if fullName == "" {
				slog.Warn("search hit with unparseable repository url", "url", issue.GetRepositoryURL())
				continue
			}
			refs = append(refs, driven.PRRef{
				RepoFullName: fullName,
				Number:       issue.GetNumber(),
				UpdatedAt:    issue.GetUpdatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return refs, nil
}

// FetchPullRequest returns the authoritative detail view of one PR.
func (c *Client) FetchPullRequest(ctx context.Context, repoFullName string, number int) (*driven.RemotePullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("fetching PR %s#%d", repoFullName, number))
	}

	logRateLimit(resp, repoFullName+"/pr", 0, 1)

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}

	state := model.PRStateOpen
	if pr.GetState() == "closed" {
		state = model.PRStateClosed
	}

	return &driven.RemotePullRequest{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		Author:    pr.GetUser().GetLogin(),
		State:     state,
		Merged:    pr.GetMerged() || !pr.GetMergedAt().IsZero(),
		Mergeable: mapMergeable(pr.Mergeable),
		HeadRef:   pr.GetHead().GetRef(),
		BaseRef:   pr.GetBase().GetRef(),
		HeadSHA:   pr.GetHead().GetSHA(),
		Labels:    labels,
		UpdatedAt: pr.GetUpdatedAt().Time,
	}, nil
}

// FetchCommits returns the PR's commit listing in remote order.
func (c *Client) FetchCommits(ctx context.Context, repoFullName string, number int) ([]driven.RemoteCommit, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var commits []driven.RemoteCommit

	for {
		page, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing commits for %s#%d (page %d)", repoFullName, number, opts.Page))
		}

		for _, rc := range page {
			parent := ""
			if parents := rc.GetCommit().Parents; len(parents) > 0 {
				parent = parents[0].GetSHA()
			}
			commits = append(commits, driven.RemoteCommit{
				SHA:       rc.GetSHA(),
				ParentSHA: parent,
				Message:   rc.GetCommit().GetMessage(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return commits, nil
}

// FetchCommitFiles returns per-file diff stats for one commit.
func (c *Client) FetchCommitFiles(ctx context.Context, repoFullName, sha string) ([]driven.RemoteFile, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var files []driven.RemoteFile

	for {
		commit, resp, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("fetching commit %s@%s (page %d)", repoFullName, sha, opts.Page))
		}

		for _, f := range commit.Files {
			files = append(files, driven.RemoteFile{
				Path:      f.GetFilename(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return files, nil
}

// FetchReviews returns all submitted reviews of a PR.
func (c *Client) FetchReviews(ctx context.Context, repoFullName string, number int) ([]driven.RemoteReview, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var reviews []driven.RemoteReview

	for {
		page, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing reviews for %s#%d (page %d)", repoFullName, number, opts.Page))
		}

		for _, r := range page {
			reviews = append(reviews, driven.RemoteReview{
				ID:          r.GetID(),
				Reviewer:    r.GetUser().GetLogin(),
				State:       mapReviewState(r.GetState()),
				Body:        r.GetBody(),
				CommitSHA:   r.GetCommitID(),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return reviews, nil
}

// FetchReviewComments returns all inline (file-anchored) comments of a PR.
func (c *Client) FetchReviewComments(ctx context.Context, repoFullName string, number int) ([]driven.RemoteComment, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.PullRequestListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var comments []driven.RemoteComment

	for {
		page, resp, err := c.gh.PullRequests.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing review comments for %s#%d (page %d)", repoFullName, number, opts.Page))
		}

		for _, rc := range page {
			comments = append(comments, driven.RemoteComment{
				ID:        rc.GetID(),
				Author:    rc.GetUser().GetLogin(),
				Body:      rc.GetBody(),
				Path:      rc.GetPath(),
				Line:      rc.GetLine(),
				CommitSHA: rc.GetCommitID(),
				CreatedAt: rc.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return comments, nil
}

// FetchIssueComments returns all PR-level discussion comments.
func (c *Client) FetchIssueComments(ctx context.Context, repoFullName string, number int) ([]driven.RemoteComment, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var comments []driven.RemoteComment

	for {
		page, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing issue comments for %s#%d (page %d)", repoFullName, number, opts.Page))
		}

		for _, ic := range page {
			comments = append(comments, driven.RemoteComment{
				ID:        ic.GetID(),
				Author:    ic.GetUser().GetLogin(),
				Body:      ic.GetBody(),
				CreatedAt: ic.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return comments, nil
}

// FetchChecks returns check runs and commit statuses combined for one ref.
// Only the newest commit of a PR is ever queried.
func (c *Client) FetchChecks(ctx context.Context, repoFullName, ref string) ([]driven.RemoteCheck, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	var checks []driven.RemoteCheck

	opts := &gh.ListCheckRunsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		result, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing check runs for %s@%s (page %d)", repoFullName, ref, opts.Page))
		}

		logRateLimit(resp, repoFullName+"/check-runs", opts.Page, len(result.CheckRuns))

		for _, cr := range result.CheckRuns {
			checks = append(checks, driven.RemoteCheck{
				Name:       cr.GetName(),
				Status:     cr.GetStatus(),
				Conclusion: cr.GetConclusion(),
				DetailsURL: cr.GetDetailsURL(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	combined, _, err := c.gh.Repositories.GetCombinedStatus(ctx, owner, repo, ref, nil)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("fetching combined status for %s@%s", repoFullName, ref))
	}

	for _, st := range combined.Statuses {
		checks = append(checks, driven.RemoteCheck{
			Name:       st.GetContext(),
			Status:     "completed",
			Conclusion: st.GetState(),
			DetailsURL: st.GetTargetURL(),
		})
	}

	return checks, nil
}

// mapReviewState lowercases GitHub's review state into the domain enum.
func mapReviewState(state string) model.ReviewState {
	switch strings.ToLower(state) {
	case "approved":
		return model.ReviewStateApproved
	case "changes_requested":
		return model.ReviewStateChangesRequested
	case "dismissed":
		return model.ReviewStateDismissed
	default:
		return model.ReviewStateCommented
	}
}

// mapMergeable converts GitHub's tri-state mergeable field. nil means the
// remote has not computed it yet.
func mapMergeable(mergeable *bool) model.MergeableStatus {
	if mergeable == nil {
		return model.MergeableUnknown
	}
	if *mergeable {
		return model.MergeableMergeable
	}
	return model.MergeableConflicted
}

// repoFromIssueURL extracts "owner/repo" from an API repository URL.
func repoFromIssueURL(apiURL string) string {
	const marker = "/repos/"
	idx := strings.Index(apiURL, marker)
	if idx < 0 {
		return ""
	}
	fullName := apiURL[idx+len(marker):]
	if strings.Count(fullName, "/") != 1 {
		return ""
	}
	return fullName
}

// logRateLimit logs the API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
