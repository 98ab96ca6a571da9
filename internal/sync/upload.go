package sync

import (
	"context"
	"log/slog"

	"github.com/calebhart/reviewd/internal/domain/model"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// UploadReviewTask submits the local user's pending draft review for one
// pull request: inline comments grouped per commit, the summary body, and
// the verdict on the newest commit.
//
// It re-syncs the PR first so a verdict that arrived remotely in the
// meantime can put the PR on hold; a held PR uploads nothing. Drafts are
// deleted only after their review POST succeeded, so an interrupted upload
// resumes where it stopped instead of double-posting.
type UploadReviewTask struct {
	taskState
	repoFullName string
	number       int
}

func NewUploadReviewTask(repoFullName string, number int) *UploadReviewTask {
	return &UploadReviewTask{
		taskState:    newTaskState(),
		repoFullName: repoFullName,
		number:       number,
	}
}

func (t *UploadReviewTask) Key() string {
	return prTaskKey("pr-upload", t.repoFullName, t.number)
}

// commitUpload is the review POST planned for one commit.
type commitUpload struct {
	sha      string
	event    string
	body     string
	comments []driven.DraftComment
	msgIDs   []int64 // messages to delete once the POST succeeds
	final    bool    // carries the verdict and summary body
}

func (t *UploadReviewTask) Run(ctx context.Context, e *Engine) error {
	pr, err := syncPullRequest(ctx, e, t, t.repoFullName, t.number)
	if err != nil {
		return err
	}

	if pr.Held {
		slog.Info("upload skipped, pull request is held", "pr", pr.Key())
		return nil
	}

	var (
		uploads  []commitUpload
		approval *model.Approval
	)
	err = e.store.View(ctx, func(s driven.Session) error {
		uploads, approval, err = planUploads(s, pr, e.username)
		return err
	})
	if err != nil {
		return err
	}

	if len(uploads) == 0 {
		return nil
	}

	for _, up := range uploads {
		if err := e.remote.CreateReview(ctx, t.repoFullName, t.number, up.sha, up.event, up.body, up.comments); err != nil {
			return err
		}

		if err := e.store.Update(ctx, func(s driven.Session) error {
			for _, id := range up.msgIDs {
				if err := s.DeleteMessage(&model.Message{ID: id}); err != nil {
					return err
				}
			}
			if up.final && approval != nil {
				return s.DeleteApproval(approval)
			}
			return nil
		}); err != nil {
			return err
		}

		slog.Info("review uploaded", "pr", pr.Key(), "commit", up.sha, "event", up.event, "comments", len(up.comments))
	}

	e.enqueueChild(t, NewSyncPullRequestTask(t.repoFullName, t.number), PriorityHigh)
	return nil
}

// planUploads groups the user's pending draft messages by commit and plans
// one review POST per commit that has content. Only the newest commit's
// review carries the verdict and the summary body; earlier commits go out
// as plain COMMENT reviews.
func planUploads(s driven.Session, pr *model.PullRequest, username string) ([]commitUpload, *model.Approval, error) {
	commits, err := s.CommitsForPR(pr.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(commits) == 0 {
		return nil, nil, nil
	}

	drafts, err := s.DraftMessagesForPR(pr.ID)
	if err != nil {
		return nil, nil, err
	}

	byCommit := make(map[int64][]model.Message)
	var summary *model.Message
	for i := range drafts {
		m := drafts[i]
		if !m.Pending || m.Author != username {
			continue
		}
		if m.Kind == model.MessageKindInline && m.CommitID != nil {
			byCommit[*m.CommitID] = append(byCommit[*m.CommitID], m)
		} else if m.Kind == model.MessageKindReview && summary == nil {
			summary = &drafts[i]
		}
	}

	var verdict *model.Approval
	draftApprovals, err := s.DraftApprovalsForPR(pr.ID)
	if err != nil {
		return nil, nil, err
	}
	for i := range draftApprovals {
		if draftApprovals[i].Reviewer == username {
			verdict = &draftApprovals[i]
			break
		}
	}

	if len(byCommit) == 0 && summary == nil && verdict == nil {
		return nil, nil, nil
	}

	newest := commits[len(commits)-1]

	var uploads []commitUpload
	for _, c := range commits {
		msgs := byCommit[c.ID]
		final := c.ID == newest.ID

		if len(msgs) == 0 && !final {
			continue
		}

		up := commitUpload{sha: c.SHA, event: "COMMENT", final: final}
		for _, m := range msgs {
			up.comments = append(up.comments, driven.DraftComment{
				Path: m.Path,
				Line: m.Line,
				Body: m.Body,
			})
			up.msgIDs = append(up.msgIDs, m.ID)
		}

		if final {
			up.event = verdictEvent(verdict)
			if summary != nil {
				up.body = summary.Body
				up.msgIDs = append(up.msgIDs, summary.ID)
			}
			if len(up.comments) == 0 && up.body == "" && verdict == nil {
				continue
			}
		}

		uploads = append(uploads, up)
	}

	return uploads, verdict, nil
}

func verdictEvent(a *model.Approval) string {
	if a == nil {
		return "COMMENT"
	}
	switch a.State {
	case model.ReviewStateApproved:
		return "APPROVE"
	case model.ReviewStateChangesRequested:
		return "REQUEST_CHANGES"
	default:
		return "COMMENT"
	}
}

// FlushPendingTask re-enqueues upload and mutation tasks for every pull
// request with locally queued work. The engine schedules it on the
// Online to Offline edge so queued edits go out first when connectivity
// returns; it is also safe to run at startup.
type FlushPendingTask struct {
	taskState
}

func NewFlushPendingTask() *FlushPendingTask {
	return &FlushPendingTask{taskState: newTaskState()}
}

func (t *FlushPendingTask) Key() string { return "flush-pending" }

func (t *FlushPendingTask) Run(ctx context.Context, e *Engine) error {
	type pendingWork struct {
		repoFullName string
		number       int
		upload       bool
		labels       bool
		edit         bool
		rebase       bool
		merge        bool
	}

	var work []pendingWork

	err := e.store.View(ctx, func(s driven.Session) error {
		prs, err := s.PRsWithPendingWork()
		if err != nil {
			return err
		}

		for i := range prs {
			pr := &prs[i]
			w := pendingWork{
				repoFullName: pr.RepoFullName,
				number:       pr.Number,
				labels:       pr.PendingLabels != nil,
				edit:         pr.PendingTitle != nil || pr.PendingBody != nil || pr.PendingState != nil,
				rebase:       pr.PendingRebase,
			}

			pm, err := s.PendingMergeForPR(pr.ID)
			if err != nil {
				return err
			}
			w.merge = pm != nil

			drafts, err := s.DraftMessagesForPR(pr.ID)
			if err != nil {
				return err
			}
			for _, m := range drafts {
				if m.Pending {
					w.upload = true
					break
				}
			}
			if !w.upload {
				approvals, err := s.DraftApprovalsForPR(pr.ID)
				if err != nil {
					return err
				}
				for _, a := range approvals {
					if a.Reviewer == e.username {
						w.upload = true
						break
					}
				}
			}

			work = append(work, w)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, w := range work {
		if w.labels {
			e.enqueueChild(t, NewSetLabelsTask(w.repoFullName, w.number), PriorityHigh)
		}
		if w.edit {
			e.enqueueChild(t, NewEditTask(w.repoFullName, w.number), PriorityHigh)
		}
		if w.rebase {
			e.enqueueChild(t, NewRebaseTask(w.repoFullName, w.number), PriorityHigh)
		}
		if w.merge {
			e.enqueueChild(t, NewMergeTask(w.repoFullName, w.number), PriorityHigh)
		}
		if w.upload {
			e.enqueueChild(t, NewUploadReviewTask(w.repoFullName, w.number), PriorityHigh)
		}
	}

	if len(work) > 0 {
		slog.Info("pending work flushed", "prs", len(work))
	}

	return nil
}
