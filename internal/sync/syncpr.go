package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calebhart/reviewd/internal/domain/event"
	"github.com/calebhart/reviewd/internal/domain/model"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// SyncPullRequestTask pulls the full detail view of one pull request and
// reconciles the local mirror against it. All network reads happen before
// the single write transaction, so a failure anywhere leaves either the
// previous state or the complete new state, never a mix.
type SyncPullRequestTask struct {
	taskState
	repoFullName string
	number       int
}

func NewSyncPullRequestTask(repoFullName string, number int) *SyncPullRequestTask {
	return &SyncPullRequestTask{
		taskState:    newTaskState(),
		repoFullName: repoFullName,
		number:       number,
	}
}

func (t *SyncPullRequestTask) Key() string {
	return prTaskKey("pr-sync", t.repoFullName, t.number)
}

func (t *SyncPullRequestTask) Run(ctx context.Context, e *Engine) error {
	_, err := syncPullRequest(ctx, e, t, t.repoFullName, t.number)
	return err
}

// remoteSnapshot bundles every network read for one pull request.
type remoteSnapshot struct {
	pr      *driven.RemotePullRequest
	commits []driven.RemoteCommit
	files   map[string][]driven.RemoteFile // keyed by commit SHA
	reviews []driven.RemoteReview
	inline  []driven.RemoteComment
	issue   []driven.RemoteComment
	checks  []driven.RemoteCheck // for the newest commit only
}

// syncPullRequest fetches the remote detail view, reconciles it into the
// store in one transaction, and fetches any missing commit objects into
// the git mirror. On any failure the PR is marked outdated so the hourly
// sweep retries it. Result events are recorded on t.
func syncPullRequest(ctx context.Context, e *Engine, t Task, repoFullName string, number int) (*model.PullRequest, error) {
	snap, err := fetchSnapshot(ctx, e.remote, repoFullName, number)
	if err != nil {
		markOutdated(ctx, e, repoFullName, number)
		return nil, err
	}

	var (
		pr       *model.PullRequest
		cloneURL string
	)
	err = e.store.Update(ctx, func(s driven.Session) error {
		pr, cloneURL, err = applySnapshot(s, t, e.username, repoFullName, number, snap)
		return err
	})
	if err != nil {
		markOutdated(ctx, e, repoFullName, number)
		return nil, err
	}

	if err := fetchMissingObjects(ctx, e, cloneURL, snap.commits); err != nil {
		markOutdated(ctx, e, repoFullName, number)
		return nil, fmt.Errorf("mirroring commits for %s: %w", pr.Key(), err)
	}

	return pr, nil
}

// fetchSnapshot performs the read sequence: PR detail, commit listing,
// per-commit file stats, reviews, inline comments, discussion comments,
// and checks for the newest commit.
func fetchSnapshot(ctx context.Context, remote driven.Remote, repoFullName string, number int) (*remoteSnapshot, error) {
	snap := &remoteSnapshot{files: make(map[string][]driven.RemoteFile)}

	var err error
	if snap.pr, err = remote.FetchPullRequest(ctx, repoFullName, number); err != nil {
		return nil, err
	}
	if snap.commits, err = remote.FetchCommits(ctx, repoFullName, number); err != nil {
		return nil, err
	}
	if len(snap.commits) == 0 {
		return nil, fmt.Errorf("pull request %s has no commits", model.PRKey(repoFullName, number))
	}

	for _, rc := range snap.commits {
		files, err := remote.FetchCommitFiles(ctx, repoFullName, rc.SHA)
		if err != nil {
			return nil, err
		}
		snap.files[rc.SHA] = files
	}

	if snap.reviews, err = remote.FetchReviews(ctx, repoFullName, number); err != nil {
		return nil, err
	}
	if snap.inline, err = remote.FetchReviewComments(ctx, repoFullName, number); err != nil {
		return nil, err
	}
	if snap.issue, err = remote.FetchIssueComments(ctx, repoFullName, number); err != nil {
		return nil, err
	}

	newest := snap.commits[len(snap.commits)-1].SHA
	if snap.checks, err = remote.FetchChecks(ctx, repoFullName, newest); err != nil {
		return nil, err
	}

	return snap, nil
}

// applySnapshot reconciles one snapshot inside a write transaction and
// returns the stored PR plus the repository clone URL for mirroring.
func applySnapshot(s driven.Session, t Task, username, repoFullName string, number int, snap *remoteSnapshot) (*model.PullRequest, string, error) {
	repo, err := s.RepoByName(repoFullName)
	if err != nil {
		return nil, "", err
	}
	if repo == nil {
		return nil, "", fmt.Errorf("repository %s is not tracked", repoFullName)
	}

	pr, err := s.PR(repoFullName, number)
	if err != nil {
		return nil, "", err
	}

	created := pr == nil
	if created {
		pr = &model.PullRequest{
			RepoID:       repo.ID,
			RepoFullName: repoFullName,
			Number:       number,
		}
	}

	stateChanged := !created && (pr.State != snap.pr.State || pr.Merged != snap.pr.Merged)
	labelsChanged := !created && !equalStrings(pr.Labels, snap.pr.Labels)

	pr.Title = snap.pr.Title
	pr.Body = snap.pr.Body
	pr.Author = snap.pr.Author
	pr.State = snap.pr.State
	pr.Merged = snap.pr.Merged
	pr.Mergeable = snap.pr.Mergeable
	pr.HeadRef = snap.pr.HeadRef
	pr.BaseRef = snap.pr.BaseRef
	pr.HeadSHA = snap.pr.HeadSHA
	pr.Labels = snap.pr.Labels
	pr.RemoteUpdatedAt = snap.pr.UpdatedAt
	pr.SeenAt = time.Now()
	pr.Outdated = false

	if created {
		if pr, err = s.CreatePR(*pr); err != nil {
			return nil, "", err
		}
	}

	newest, err := reconcileCommits(s, pr, snap)
	if err != nil {
		return nil, "", err
	}
	if err := reconcileChecks(s, newest, snap.checks); err != nil {
		return nil, "", err
	}

	reviewChanged, heldChanged, err := reconcileReviews(s, pr, username, snap.reviews)
	if err != nil {
		return nil, "", err
	}

	commentsChanged, err := reconcileComments(s, pr, snap)
	if err != nil {
		return nil, "", err
	}
	reviewChanged = reviewChanged || commentsChanged

	if !created {
		if err := s.UpdatePR(pr); err != nil {
			return nil, "", err
		}
	}

	switch {
	case created:
		t.state().emit(event.PullRequestAdded{RepoFullName: repoFullName, Number: number})
	case stateChanged || reviewChanged || heldChanged || labelsChanged:
		t.state().emit(event.PullRequestUpdated{
			RepoFullName:  repoFullName,
			Number:        number,
			StateChanged:  stateChanged,
			ReviewChanged: reviewChanged,
			HeldChanged:   heldChanged,
		})
	}

	return pr, repo.CloneURL, nil
}

// reconcileCommits matches stored commits against the remote listing by
// SHA and position. A history rewrite deletes the stale commit subtree and
// recreates it; file stats are upserted per commit. Returns the newest
// commit.
func reconcileCommits(s driven.Session, pr *model.PullRequest, snap *remoteSnapshot) (*model.Commit, error) {
	stored, err := s.CommitsForPR(pr.ID)
	if err != nil {
		return nil, err
	}

	bySHA := make(map[string]*model.Commit, len(stored))
	for i := range stored {
		bySHA[stored[i].SHA] = &stored[i]
	}

	remoteSHAs := make(map[string]bool, len(snap.commits))
	var newest *model.Commit

	for pos, rc := range snap.commits {
		remoteSHAs[rc.SHA] = true

		c := bySHA[rc.SHA]
		if c != nil && c.Position != pos {
			if err := s.DeleteCommitCascade(c); err != nil {
				return nil, err
			}
			c = nil
		}
		if c == nil {
			if c, err = s.CreateCommit(model.Commit{
				PRID:      pr.ID,
				SHA:       rc.SHA,
				ParentSHA: rc.ParentSHA,
				Message:   rc.Message,
				Position:  pos,
			}); err != nil {
				return nil, err
			}
		}

		if err := reconcileFiles(s, c, snap.files[rc.SHA]); err != nil {
			return nil, err
		}
		newest = c
	}

	for i := range stored {
		if !remoteSHAs[stored[i].SHA] {
			if err := s.DeleteCommitCascade(&stored[i]); err != nil {
				return nil, err
			}
		}
	}

	return newest, nil
}

func reconcileFiles(s driven.Session, c *model.Commit, files []driven.RemoteFile) error {
	for _, rf := range files {
		f, err := s.FileByPath(c.ID, rf.Path)
		if err != nil {
			return err
		}
		if f == nil {
			if _, err := s.CreateFile(model.File{
				CommitID:  c.ID,
				Path:      rf.Path,
				Additions: rf.Additions,
				Deletions: rf.Deletions,
			}); err != nil {
				return err
			}
			continue
		}
		if f.Additions != rf.Additions || f.Deletions != rf.Deletions {
			f.Additions = rf.Additions
			f.Deletions = rf.Deletions
			if err := s.UpdateFile(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileChecks replaces the newest commit's check set wholesale,
// matching by name.
func reconcileChecks(s driven.Session, newest *model.Commit, checks []driven.RemoteCheck) error {
	stored, err := s.ChecksForCommit(newest.ID)
	if err != nil {
		return err
	}

	byName := make(map[string]*model.Check, len(stored))
	for i := range stored {
		byName[stored[i].Name] = &stored[i]
	}

	remoteNames := make(map[string]bool, len(checks))
	for _, rc := range checks {
		remoteNames[rc.Name] = true

		c := byName[rc.Name]
		if c == nil {
			if _, err := s.CreateCheck(model.Check{
				CommitID:   newest.ID,
				Name:       rc.Name,
				Status:     rc.Status,
				Conclusion: rc.Conclusion,
				DetailsURL: rc.DetailsURL,
			}); err != nil {
				return err
			}
			continue
		}
		if c.Status != rc.Status || c.Conclusion != rc.Conclusion || c.DetailsURL != rc.DetailsURL {
			c.Status = rc.Status
			c.Conclusion = rc.Conclusion
			c.DetailsURL = rc.DetailsURL
			if err := s.UpdateCheck(c); err != nil {
				return err
			}
		}
	}

	for i := range stored {
		if !remoteNames[stored[i].Name] {
			if err := s.DeleteCheck(&stored[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

// reconcileReviews upserts approval rows from submitted reviews and applies
// the hold rule: when a changes_requested verdict by someone else arrives
// that was not stored before, and the local user still has an unsent draft
// approval, the PR is put on hold so that stale approval is not uploaded.
// Draft approvals are never overwritten by remote data.
func reconcileReviews(s driven.Session, pr *model.PullRequest, username string, reviews []driven.RemoteReview) (reviewChanged, heldChanged bool, err error) {
	var hasDraftApproval bool
	if !pr.Held {
		drafts, err := s.DraftApprovalsForPR(pr.ID)
		if err != nil {
			return false, false, err
		}
		for _, d := range drafts {
			if d.Reviewer == username && d.State == model.ReviewStateApproved {
				hasDraftApproval = true
				break
			}
		}
	}

	for _, rv := range reviews {
		if rv.State == model.ReviewStateCommented {
			continue // carried as a message, not a verdict
		}

		existing, err := s.Approval(pr.ID, rv.Reviewer, rv.CommitSHA)
		if err != nil {
			return false, false, err
		}

		isNew := existing == nil || (!existing.Draft && existing.State != rv.State)

		if isNew && !pr.Held && hasDraftApproval &&
			rv.State == model.ReviewStateChangesRequested && rv.Reviewer != username {
			pr.Held = true
			heldChanged = true
			slog.Info("pull request held, new objection arrived before draft approval was sent",
				"pr", pr.Key(), "reviewer", rv.Reviewer)
		}

		switch {
		case existing == nil:
			if _, err := s.CreateApproval(model.Approval{
				PRID:      pr.ID,
				Reviewer:  rv.Reviewer,
				CommitSHA: rv.CommitSHA,
				State:     rv.State,
			}); err != nil {
				return false, false, err
			}
			reviewChanged = true

		case existing.Draft:
			// A local draft verdict stays until uploaded or discarded.

		case existing.State != rv.State:
			existing.State = rv.State
			if err := s.UpdateApproval(existing); err != nil {
				return false, false, err
			}
			reviewChanged = true
		}
	}

	return reviewChanged, heldChanged, nil
}

// reconcileComments upserts messages from review bodies, inline comments,
// and discussion comments, matching by remote ID. Local drafts carry no
// remote ID and are never touched.
func reconcileComments(s driven.Session, pr *model.PullRequest, snap *remoteSnapshot) (bool, error) {
	var changed bool

	upsert := func(remoteID int64, kind model.MessageKind, author, body, path string, line int, commitID *int64, createdAt time.Time) error {
		m, err := s.MessageByRemoteID(pr.ID, remoteID)
		if err != nil {
			return err
		}
		if m == nil {
			rid := remoteID
			if _, err := s.CreateMessage(model.Message{
				PRID:      pr.ID,
				CommitID:  commitID,
				RemoteID:  &rid,
				Kind:      kind,
				Author:    author,
				Body:      body,
				Path:      path,
				Line:      line,
				CreatedAt: createdAt,
			}); err != nil {
				return err
			}
			changed = true
			return nil
		}
		if m.Body != body {
			m.Body = body
			if err := s.UpdateMessage(m); err != nil {
				return err
			}
			changed = true
		}
		return nil
	}

	for _, rv := range snap.reviews {
		if rv.Body == "" {
			continue
		}
		if err := upsert(rv.ID, model.MessageKindReview, rv.Reviewer, rv.Body, "", 0, nil, rv.SubmittedAt); err != nil {
			return false, err
		}
	}

	for _, rc := range snap.inline {
		var commitID *int64
		if rc.CommitSHA != "" {
			c, err := s.CommitBySHA(pr.ID, rc.CommitSHA)
			if err != nil {
				return false, err
			}
			if c != nil {
				commitID = &c.ID
				// Comments can reference paths the diff listing omitted.
				if err := ensureFile(s, c.ID, rc.Path); err != nil {
					return false, err
				}
			}
		}
		if err := upsert(rc.ID, model.MessageKindInline, rc.Author, rc.Body, rc.Path, rc.Line, commitID, rc.CreatedAt); err != nil {
			return false, err
		}
	}

	for _, rc := range snap.issue {
		if err := upsert(rc.ID, model.MessageKindIssue, rc.Author, rc.Body, "", 0, nil, rc.CreatedAt); err != nil {
			return false, err
		}
	}

	return changed, nil
}

func ensureFile(s driven.Session, commitID int64, path string) error {
	if path == "" {
		return nil
	}
	f, err := s.FileByPath(commitID, path)
	if err != nil || f != nil {
		return err
	}
	_, err = s.CreateFile(model.File{CommitID: commitID, Path: path})
	return err
}

// fetchMissingObjects pulls absent commit objects from the repository in
// one batched fetch.
func fetchMissingObjects(ctx context.Context, e *Engine, cloneURL string, commits []driven.RemoteCommit) error {
	var missing []string
	for _, rc := range commits {
		ok, err := e.git.HasCommit(ctx, rc.SHA)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, rc.SHA)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return e.git.Fetch(ctx, cloneURL, missing)
}

// markOutdated flags the PR for the periodic re-sync sweep. Best effort:
// a failure here only delays the retry, so it is logged and swallowed.
func markOutdated(ctx context.Context, e *Engine, repoFullName string, number int) {
	err := e.store.Update(ctx, func(s driven.Session) error {
		pr, err := s.PR(repoFullName, number)
		if err != nil || pr == nil || pr.Outdated {
			return err
		}
		pr.Outdated = true
		return s.UpdatePR(pr)
	})
	if err != nil {
		slog.Warn("could not mark pull request outdated",
			"pr", model.PRKey(repoFullName, number), "error", err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
