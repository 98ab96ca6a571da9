package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// SyncOutdatedTask sweeps PRs whose last detail sync failed partway and
// re-enqueues them. Runs on the hourly housekeeping tick.
type SyncOutdatedTask struct {
	taskState
}

func NewSyncOutdatedTask() *SyncOutdatedTask {
	return &SyncOutdatedTask{taskState: newTaskState()}
}

func (t *SyncOutdatedTask) Key() string { return "sync-outdated" }

func (t *SyncOutdatedTask) Run(ctx context.Context, e *Engine) error {
	var keys []struct {
		repoFullName string
		number       int
	}

	err := e.store.View(ctx, func(s driven.Session) error {
		prs, err := s.OutdatedPRs()
		if err != nil {
			return err
		}
		for _, pr := range prs {
			keys = append(keys, struct {
				repoFullName string
				number       int
			}{pr.RepoFullName, pr.Number})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range keys {
		e.enqueueChild(t, NewSyncPullRequestTask(k.repoFullName, k.number), PriorityNormal)
	}

	if len(keys) > 0 {
		slog.Info("outdated pull requests re-enqueued", "count", len(keys))
	}

	return nil
}

// PruneTask deletes closed or merged pull requests not seen for maxAge,
// unpins their commits from the git mirror, and schedules a vacuum when
// anything was removed.
type PruneTask struct {
	taskState
	maxAge time.Duration
}

func NewPruneTask(maxAge time.Duration) *PruneTask {
	return &PruneTask{taskState: newTaskState(), maxAge: maxAge}
}

func (t *PruneTask) Key() string { return "prune" }

func (t *PruneTask) Run(ctx context.Context, e *Engine) error {
	cutoff := time.Now().Add(-t.maxAge)

	var (
		pruned int
		shas   []string
	)
	err := e.store.Update(ctx, func(s driven.Session) error {
		prs, err := s.ClosedPRsOlderThan(cutoff)
		if err != nil {
			return err
		}
		for i := range prs {
			commits, err := s.CommitsForPR(prs[i].ID)
			if err != nil {
				return err
			}
			for _, c := range commits {
				shas = append(shas, c.SHA)
			}
			if err := s.DeletePRCascade(&prs[i]); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Unpinning is best effort: an orphaned pin only wastes mirror space.
	for _, sha := range shas {
		if err := e.git.Remove(ctx, sha); err != nil {
			slog.Warn("could not unpin commit", "sha", sha, "error", err)
		}
	}

	if pruned > 0 {
		slog.Info("closed pull requests pruned", "count", pruned, "cutoff", cutoff)
		e.enqueueChild(t, NewVacuumTask(), PriorityLow)
	}

	return nil
}

// VacuumTask compacts the store after a prune removed rows.
type VacuumTask struct {
	taskState
}

func NewVacuumTask() *VacuumTask {
	return &VacuumTask{taskState: newTaskState()}
}

func (t *VacuumTask) Key() string { return "vacuum" }

func (t *VacuumTask) Run(ctx context.Context, e *Engine) error {
	return e.store.Vacuum(ctx)
}
