package driven

import (
	"context"
	"time"

	"github.com/calebhart/reviewd/internal/domain/model"
)

// Store scopes all local-store access to sessions. Update acquires the
// process-wide write lock, runs fn inside one transaction, commits when fn
// returns nil and rolls back otherwise; at most one write transaction is
// active process-wide. View takes the same lock for consistent reads so no
// caller observes a partially written entity graph.
type Store interface {
	Update(ctx context.Context, fn func(Session) error) error
	View(ctx context.Context, fn func(Session) error) error
	// Vacuum compacts the store. Runs outside any session.
	Vacuum(ctx context.Context) error
}

// Session is the narrow transactional interface tasks use to read and
// mutate entities. Getters return (nil, nil) when the entity does not
// exist; "not found" is never an error. Create helpers insert and return
// the row with its assigned ID.
type Session interface {
	// Repositories
	RepoByName(fullName string) (*model.Repository, error)
	Repos() ([]model.Repository, error)
	SubscribedRepos() ([]model.Repository, error)
	CreateRepo(repo model.Repository) (*model.Repository, error)
	UpdateRepo(repo *model.Repository) error
	DeleteRepo(repo *model.Repository) error

	// Pull requests
	PR(repoFullName string, number int) (*model.PullRequest, error)
	PRsForRepo(repoID int64) ([]model.PullRequest, error)
	OutdatedPRs() ([]model.PullRequest, error)
	PRsWithPendingWork() ([]model.PullRequest, error)
	// ClosedPRsOlderThan returns closed/merged PRs last seen before cutoff.
	ClosedPRsOlderThan(cutoff time.Time) ([]model.PullRequest, error)
	CreatePR(pr model.PullRequest) (*model.PullRequest, error)
	UpdatePR(pr *model.PullRequest) error
	// DeletePRCascade removes the PR and all dependents in dependency order:
	// checks, files, messages, approvals, commits, pending merges, then the PR.
	DeletePRCascade(pr *model.PullRequest) error

	// Commits and children
	CommitsForPR(prID int64) ([]model.Commit, error)
	CommitBySHA(prID int64, sha string) (*model.Commit, error)
	CreateCommit(c model.Commit) (*model.Commit, error)
	DeleteCommitCascade(c *model.Commit) error
	FilesForCommit(commitID int64) ([]model.File, error)
	FileByPath(commitID int64, path string) (*model.File, error)
	CreateFile(f model.File) (*model.File, error)
	UpdateFile(f *model.File) error
	ChecksForCommit(commitID int64) ([]model.Check, error)
	CreateCheck(c model.Check) (*model.Check, error)
	UpdateCheck(c *model.Check) error
	DeleteCheck(c *model.Check) error

	// Messages
	MessagesForPR(prID int64) ([]model.Message, error)
	MessageByRemoteID(prID, remoteID int64) (*model.Message, error)
	DraftMessagesForPR(prID int64) ([]model.Message, error)
	CreateMessage(m model.Message) (*model.Message, error)
	UpdateMessage(m *model.Message) error
	DeleteMessage(m *model.Message) error

	// Approvals
	ApprovalsForPR(prID int64) ([]model.Approval, error)
	Approval(prID int64, reviewer, commitSHA string) (*model.Approval, error)
	DraftApprovalsForPR(prID int64) ([]model.Approval, error)
	CreateApproval(a model.Approval) (*model.Approval, error)
	UpdateApproval(a *model.Approval) error
	DeleteApproval(a *model.Approval) error

	// Pending merges
	PendingMergeForPR(prID int64) (*model.PendingMerge, error)
	CreatePendingMerge(pm model.PendingMerge) (*model.PendingMerge, error)
	DeletePendingMerge(pm *model.PendingMerge) error
}
