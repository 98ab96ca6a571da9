// Package driven defines the driven ports the sync engine depends on:
// the remote code-hosting API, the local store session, and the git mirror.
package driven

import (
	"context"
	"time"

	"github.com/calebhart/reviewd/internal/domain/model"
)

// RemoteRepo is a repository as listed by the remote service.
type RemoteRepo struct {
	FullName    string
	CloneURL    string
	PushAllowed bool
}

// PRRef identifies one pull request returned by a search listing.
type PRRef struct {
	RepoFullName string
	Number       int
	UpdatedAt    time.Time
}

// RemotePullRequest is the authoritative detail view of one pull request.
type RemotePullRequest struct {
	Number    int
	Title     string
	Body      string
	Author    string
	State     model.PRState
	Merged    bool
	Mergeable model.MergeableStatus
	HeadRef   string
	BaseRef   string
	HeadSHA   string
	Labels    []string
	UpdatedAt time.Time
}

// RemoteCommit is one entry of a pull request's commit listing.
type RemoteCommit struct {
	SHA       string
	ParentSHA string
	Message   string
}

// RemoteFile is a per-commit diff stat entry.
type RemoteFile struct {
	Path      string
	Additions int
	Deletions int
}

// RemoteReview is a submitted review, optionally carrying a verdict.
type RemoteReview struct {
	ID          int64
	Reviewer    string
	State       model.ReviewState
	Body        string
	CommitSHA   string
	SubmittedAt time.Time
}

// RemoteComment is an inline or PR-level comment.
type RemoteComment struct {
	ID        int64
	Author    string
	Body      string
	Path      string // empty for PR-level comments
	Line      int
	CommitSHA string
	CreatedAt time.Time
}

// RemoteCheck is a CI check run or commit status entry.
type RemoteCheck struct {
	Name       string
	Status     string
	Conclusion string
	DetailsURL string
}

// DraftComment is an inline comment attached to a review being uploaded.
type DraftComment struct {
	Path string
	Line int
	Body string
}

// Remote is the narrow HTTP port to the code-hosting service. Every list
// method follows pagination until exhausted and returns the concatenation
// of all pages in order. Implementations classify failures into
// OfflineError / RestrictedError / generic wrapped errors; callers never
// inspect HTTP status codes.
type Remote interface {
	// Read methods

	ListRepositories(ctx context.Context) ([]RemoteRepo, error)
	ListBranches(ctx context.Context, repoFullName string) ([]string, error)
	ListLabels(ctx context.Context, repoFullName string) ([]string, error)
	// SearchPullRequests lists open PRs across up to ten repositories in one
	// search query. A non-nil updatedSince narrows the listing to PRs
	// updated at or after that instant (incremental sync window).
	SearchPullRequests(ctx context.Context, repoFullNames []string, updatedSince *time.Time) ([]PRRef, error)
	FetchPullRequest(ctx context.Context, repoFullName string, number int) (*RemotePullRequest, error)
	FetchCommits(ctx context.Context, repoFullName string, number int) ([]RemoteCommit, error)
	FetchCommitFiles(ctx context.Context, repoFullName, sha string) ([]RemoteFile, error)
	FetchReviews(ctx context.Context, repoFullName string, number int) ([]RemoteReview, error)
	FetchReviewComments(ctx context.Context, repoFullName string, number int) ([]RemoteComment, error)
	FetchIssueComments(ctx context.Context, repoFullName string, number int) ([]RemoteComment, error)
	// FetchChecks returns check runs and commit statuses combined for one ref.
	FetchChecks(ctx context.Context, repoFullName, ref string) ([]RemoteCheck, error)

	// Write methods

	// CreateReview submits one review. event is "APPROVE",
	// "REQUEST_CHANGES", or "COMMENT".
	CreateReview(ctx context.Context, repoFullName string, number int, commitSHA, event, body string, comments []DraftComment) error
	ReplaceLabels(ctx context.Context, repoFullName string, number int, labels []string) error
	// EditPullRequest patches title/body/state; nil fields are left unchanged.
	EditPullRequest(ctx context.Context, repoFullName string, number int, title, body *string, state *model.PRState) error
	MergePullRequest(ctx context.Context, repoFullName string, number int, method string) error
	// UpdateBranch asks the remote to rebase/update the PR branch onto base.
	UpdateBranch(ctx context.Context, repoFullName string, number int) error
}
