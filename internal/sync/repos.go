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

// searchBatchSize is how many repositories share one search query.
// Batching reduces request count at the cost of a coarser incremental
// window: the oldest synced_at in the batch is used for all of them.
const searchBatchSize = 10

// incrementalSkew widens the incremental window to absorb clock skew and
// the remote's eventual consistency.
const incrementalSkew = 5 * time.Minute

// ListRepositoriesTask discovers the repositories the user can access and
// reconciles the local repository set against the listing.
type ListRepositoriesTask struct {
	taskState
}

func NewListRepositoriesTask() *ListRepositoriesTask {
	return &ListRepositoriesTask{taskState: newTaskState()}
}

func (t *ListRepositoriesTask) Key() string { return "repositories/list" }

func (t *ListRepositoriesTask) Run(ctx context.Context, e *Engine) error {
	remoteRepos, err := e.remote.ListRepositories(ctx)
	if err != nil {
		return err
	}

	var refresh []string

	err = e.store.Update(ctx, func(s driven.Session) error {
		seen := make(map[string]bool, len(remoteRepos))

		for _, rr := range remoteRepos {
			seen[rr.FullName] = true

			repo, err := s.RepoByName(rr.FullName)
			if err != nil {
				return err
			}

			if repo == nil {
				if _, err := s.CreateRepo(model.Repository{
					FullName:    rr.FullName,
					CloneURL:    rr.CloneURL,
					PushAllowed: rr.PushAllowed,
				}); err != nil {
					return err
				}
				t.emit(event.RepositoryAdded{FullName: rr.FullName})
				refresh = append(refresh, rr.FullName)
				continue
			}

			if repo.Subscribed {
				refresh = append(refresh, repo.FullName)
			}

			if repo.CloneURL != rr.CloneURL || repo.PushAllowed != rr.PushAllowed {
				repo.CloneURL = rr.CloneURL
				repo.PushAllowed = rr.PushAllowed
				if err := s.UpdateRepo(repo); err != nil {
					return err
				}
			}
		}

		// Repositories that vanished from the listing are deleted together
		// with their mirrored pull requests.
		local, err := s.Repos()
		if err != nil {
			return err
		}
		for i := range local {
			repo := &local[i]
			if seen[repo.FullName] {
				continue
			}
			prs, err := s.PRsForRepo(repo.ID)
			if err != nil {
				return err
			}
			for j := range prs {
				if err := s.DeletePRCascade(&prs[j]); err != nil {
					return err
				}
			}
			if err := s.DeleteRepo(repo); err != nil {
				return err
			}
			slog.Info("repository removed", "repo", repo.FullName)
		}

		return nil
	})
	if err != nil {
		return err
	}

	// Branch and label sets feed the edit pickers. Refreshing them is
	// separate low-priority work, not part of discovery itself.
	for _, name := range refresh {
		e.enqueueChild(t, NewListBranchesTask(name), PriorityLow)
		e.enqueueChild(t, NewListLabelsTask(name), PriorityLow)
	}

	return nil
}

// ListBranchesTask refreshes one repository's branch set.
type ListBranchesTask struct {
	taskState
	repoFullName string
}

func NewListBranchesTask(repoFullName string) *ListBranchesTask {
	return &ListBranchesTask{taskState: newTaskState(), repoFullName: repoFullName}
}

func (t *ListBranchesTask) Key() string { return "repo-branches/" + t.repoFullName }

func (t *ListBranchesTask) Run(ctx context.Context, e *Engine) error {
	branches, err := e.remote.ListBranches(ctx, t.repoFullName)
	if err != nil {
		return err
	}

	return e.store.Update(ctx, func(s driven.Session) error {
		repo, err := s.RepoByName(t.repoFullName)
		if err != nil || repo == nil {
			return err
		}
		repo.Branches = branches
		return s.UpdateRepo(repo)
	})
}

// ListLabelsTask refreshes one repository's label set.
type ListLabelsTask struct {
	taskState
	repoFullName string
}

func NewListLabelsTask(repoFullName string) *ListLabelsTask {
	return &ListLabelsTask{taskState: newTaskState(), repoFullName: repoFullName}
}

func (t *ListLabelsTask) Key() string { return "repo-labels/" + t.repoFullName }

func (t *ListLabelsTask) Run(ctx context.Context, e *Engine) error {
	labels, err := e.remote.ListLabels(ctx, t.repoFullName)
	if err != nil {
		return err
	}

	return e.store.Update(ctx, func(s driven.Session) error {
		repo, err := s.RepoByName(t.repoFullName)
		if err != nil || repo == nil {
			return err
		}
		repo.Labels = labels
		return s.UpdateRepo(repo)
	})
}

// SyncRepositoriesTask lists changed pull requests across all subscribed
// repositories and enqueues per-PR detail syncs. Repositories that were
// never fully synced get a full listing of currently open PRs; the rest
// share an incremental window derived from the oldest synced_at in their
// batch, minus a small safety skew.
type SyncRepositoriesTask struct {
	taskState
}

func NewSyncRepositoriesTask() *SyncRepositoriesTask {
	return &SyncRepositoriesTask{taskState: newTaskState()}
}

func (t *SyncRepositoriesTask) Key() string { return "repositories/sync" }

func (t *SyncRepositoriesTask) Run(ctx context.Context, e *Engine) error {
	var full, incremental []model.Repository

	err := e.store.View(ctx, func(s driven.Session) error {
		repos, err := s.SubscribedRepos()
		if err != nil {
			return err
		}
		for _, r := range repos {
			if r.SyncedAt == nil {
				full = append(full, r)
			} else {
				incremental = append(incremental, r)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, batch := range chunkRepos(full, searchBatchSize) {
		if err := t.syncBatch(ctx, e, batch, nil); err != nil {
			return err
		}
	}

	for _, batch := range chunkRepos(incremental, searchBatchSize) {
		window := oldestSyncedAt(batch).Add(-incrementalSkew)
		if err := t.syncBatch(ctx, e, batch, &window); err != nil {
			return err
		}
	}

	return nil
}

// syncBatch runs one search query for a repository batch, enqueues detail
// syncs for changed PRs, and records the batch's new synced_at.
func (t *SyncRepositoriesTask) syncBatch(ctx context.Context, e *Engine, batch []model.Repository, updatedSince *time.Time) error {
	names := make([]string, len(batch))
	for i, r := range batch {
		names[i] = r.FullName
	}

	started := time.Now()
	refs, err := e.remote.SearchPullRequests(ctx, names, updatedSince)
	if err != nil {
		return err
	}

	var enqueued, unchanged int

	err = e.store.Update(ctx, func(s driven.Session) error {
		for _, ref := range refs {
			pr, err := s.PR(ref.RepoFullName, ref.Number)
			if err != nil {
				return err
			}
			if pr != nil && pr.RemoteUpdatedAt.Equal(ref.UpdatedAt) && !pr.Outdated {
				unchanged++
				continue
			}
			e.enqueueChild(t, NewSyncPullRequestTask(ref.RepoFullName, ref.Number), PriorityNormal)
			enqueued++
		}

		for i := range batch {
			repo, err := s.RepoByName(batch[i].FullName)
			if err != nil {
				return err
			}
			if repo == nil {
				continue
			}
			syncedAt := started
			repo.SyncedAt = &syncedAt
			if err := s.UpdateRepo(repo); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("repository batch synced",
		"repos", len(batch),
		"hits", len(refs),
		"enqueued", enqueued,
		"unchanged", unchanged,
		"full", updatedSince == nil,
	)

	return nil
}

func chunkRepos(repos []model.Repository, size int) [][]model.Repository {
	var chunks [][]model.Repository
	for len(repos) > size {
		chunks = append(chunks, repos[:size])
		repos = repos[size:]
	}
	if len(repos) > 0 {
		chunks = append(chunks, repos)
	}
	return chunks
}

// oldestSyncedAt returns the oldest synced_at of the batch; every batch
// member shares that window even when their update frequencies differ.
func oldestSyncedAt(batch []model.Repository) time.Time {
	oldest := *batch[0].SyncedAt
	for _, r := range batch[1:] {
		if r.SyncedAt.Before(oldest) {
			oldest = *r.SyncedAt
		}
	}
	return oldest
}

// prTaskKey builds the shared key suffix for per-PR tasks.
func prTaskKey(kind, repoFullName string, number int) string {
	return fmt.Sprintf("%s/%s", kind, model.PRKey(repoFullName, number))
}
