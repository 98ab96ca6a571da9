package sync

import (
	"context"
	"log/slog"

	"github.com/calebhart/reviewd/internal/domain/model"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// Mutation tasks share one shape: the first run captures the queued payload
// into the task and clears the pending flag in the same transaction, then
// makes exactly one remote call and enqueues a fresh detail sync so the
// authoritative result is pulled back rather than reflected from the
// request body. An offline replay re-runs with the captured payload and
// never re-reads the already-cleared flag.

// SetLabelsTask replaces a pull request's label set on the remote.
type SetLabelsTask struct {
	taskState
	repoFullName string
	number       int

	captured bool
	labels   []string
}

func NewSetLabelsTask(repoFullName string, number int) *SetLabelsTask {
	return &SetLabelsTask{
		taskState:    newTaskState(),
		repoFullName: repoFullName,
		number:       number,
	}
}

func (t *SetLabelsTask) Key() string {
	return prTaskKey("pr-labels", t.repoFullName, t.number)
}

func (t *SetLabelsTask) Run(ctx context.Context, e *Engine) error {
	if !t.captured {
		var queued bool
		err := e.store.Update(ctx, func(s driven.Session) error {
			pr, err := s.PR(t.repoFullName, t.number)
			if err != nil || pr == nil || pr.PendingLabels == nil {
				return err
			}
			t.labels = pr.PendingLabels
			pr.PendingLabels = nil
			queued = true
			return s.UpdatePR(pr)
		})
		if err != nil {
			return err
		}
		if !queued {
			return nil
		}
		t.captured = true
	}

	if err := e.remote.ReplaceLabels(ctx, t.repoFullName, t.number, t.labels); err != nil {
		return err
	}

	e.enqueueChild(t, NewSyncPullRequestTask(t.repoFullName, t.number), PriorityNormal)
	return nil
}

// EditTask patches a pull request's title, body, and/or state.
type EditTask struct {
	taskState
	repoFullName string
	number       int

	captured bool
	title    *string
	body     *string
	prState  *model.PRState
}

func NewEditTask(repoFullName string, number int) *EditTask {
	return &EditTask{
		taskState:    newTaskState(),
		repoFullName: repoFullName,
		number:       number,
	}
}

func (t *EditTask) Key() string {
	return prTaskKey("pr-edit", t.repoFullName, t.number)
}

func (t *EditTask) Run(ctx context.Context, e *Engine) error {
	if !t.captured {
		var queued bool
		err := e.store.Update(ctx, func(s driven.Session) error {
			pr, err := s.PR(t.repoFullName, t.number)
			if err != nil || pr == nil {
				return err
			}
			if pr.PendingTitle == nil && pr.PendingBody == nil && pr.PendingState == nil {
				return nil
			}
			t.title = pr.PendingTitle
			t.body = pr.PendingBody
			t.prState = pr.PendingState
			pr.PendingTitle = nil
			pr.PendingBody = nil
			pr.PendingState = nil
			queued = true
			return s.UpdatePR(pr)
		})
		if err != nil {
			return err
		}
		if !queued {
			return nil
		}
		t.captured = true
	}

	if err := e.remote.EditPullRequest(ctx, t.repoFullName, t.number, t.title, t.body, t.prState); err != nil {
		return err
	}

	e.enqueueChild(t, NewSyncPullRequestTask(t.repoFullName, t.number), PriorityNormal)
	return nil
}

// RebaseTask asks the remote to update the PR branch from its base.
type RebaseTask struct {
	taskState
	repoFullName string
	number       int

	captured bool
}

func NewRebaseTask(repoFullName string, number int) *RebaseTask {
	return &RebaseTask{
		taskState:    newTaskState(),
		repoFullName: repoFullName,
		number:       number,
	}
}

func (t *RebaseTask) Key() string {
	return prTaskKey("pr-rebase", t.repoFullName, t.number)
}

func (t *RebaseTask) Run(ctx context.Context, e *Engine) error {
	if !t.captured {
		var queued bool
		err := e.store.Update(ctx, func(s driven.Session) error {
			pr, err := s.PR(t.repoFullName, t.number)
			if err != nil || pr == nil || !pr.PendingRebase {
				return err
			}
			pr.PendingRebase = false
			queued = true
			return s.UpdatePR(pr)
		})
		if err != nil {
			return err
		}
		if !queued {
			return nil
		}
		t.captured = true
	}

	if err := e.remote.UpdateBranch(ctx, t.repoFullName, t.number); err != nil {
		return err
	}

	e.enqueueChild(t, NewSyncPullRequestTask(t.repoFullName, t.number), PriorityNormal)
	return nil
}

// MergeTask merges the pull request with the locally requested method. The
// pending-merge record is deleted in the reading transaction regardless of
// the remote outcome; a declined merge surfaces as a task failure and is
// never retried automatically.
type MergeTask struct {
	taskState
	repoFullName string
	number       int

	captured bool
	method   string
}

func NewMergeTask(repoFullName string, number int) *MergeTask {
	return &MergeTask{
		taskState:    newTaskState(),
		repoFullName: repoFullName,
		number:       number,
	}
}

func (t *MergeTask) Key() string {
	return prTaskKey("pr-merge", t.repoFullName, t.number)
}

func (t *MergeTask) Run(ctx context.Context, e *Engine) error {
	if !t.captured {
		var queued bool
		err := e.store.Update(ctx, func(s driven.Session) error {
			pr, err := s.PR(t.repoFullName, t.number)
			if err != nil || pr == nil {
				return err
			}
			pm, err := s.PendingMergeForPR(pr.ID)
			if err != nil || pm == nil {
				return err
			}
			t.method = pm.Method
			queued = true
			return s.DeletePendingMerge(pm)
		})
		if err != nil {
			return err
		}
		if !queued {
			return nil
		}
		t.captured = true
	}

	if err := e.remote.MergePullRequest(ctx, t.repoFullName, t.number, t.method); err != nil {
		slog.Warn("merge failed", "pr", model.PRKey(t.repoFullName, t.number), "method", t.method, "error", err)
		return err
	}

	e.enqueueChild(t, NewSyncPullRequestTask(t.repoFullName, t.number), PriorityNormal)
	return nil
}
