package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebhart/reviewd/internal/domain/model"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, RunMigrations(db.Writer))

	return NewStore(db)
}

// seedGraph inserts one repository with one pull request carrying a commit,
// a file, a check, a message, an approval, and a pending merge.
func seedGraph(t *testing.T, st *Store) (repo *model.Repository, pr *model.PullRequest) {
	t.Helper()

	err := st.Update(context.Background(), func(s driven.Session) error {
		var err error
		repo, err = s.CreateRepo(model.Repository{
			FullName:   "acme/widgets",
			CloneURL:   "https://example.com/acme/widgets.git",
			Subscribed: true,
		})
		if err != nil {
			return err
		}

		pr, err = s.CreatePR(model.PullRequest{
			RepoID:          repo.ID,
			RepoFullName:    repo.FullName,
			Number:          42,
			Title:           "Add frobnicator",
			Author:          "alice",
			State:           model.PRStateOpen,
			Mergeable:       model.MergeableMergeable,
			HeadRef:         "feature/frob",
			BaseRef:         "main",
			HeadSHA:         "sha1",
			Labels:          []string{"backend"},
			RemoteUpdatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			SeenAt:          time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		})
		if err != nil {
			return err
		}

		commit, err := s.CreateCommit(model.Commit{PRID: pr.ID, SHA: "sha1", Message: "add module", Position: 0})
		if err != nil {
			return err
		}
		if _, err := s.CreateFile(model.File{CommitID: commit.ID, Path: "frob.go", Additions: 100}); err != nil {
			return err
		}
		if _, err := s.CreateCheck(model.Check{CommitID: commit.ID, Name: "ci/test", Status: "completed", Conclusion: "success"}); err != nil {
			return err
		}

		remoteID := int64(900)
		if _, err := s.CreateMessage(model.Message{
			PRID: pr.ID, RemoteID: &remoteID, Kind: model.MessageKindIssue,
			Author: "bob", Body: "looks interesting",
			CreatedAt: time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC),
		}); err != nil {
			return err
		}
		if _, err := s.CreateApproval(model.Approval{
			PRID: pr.ID, Reviewer: "bob", CommitSHA: "sha1", State: model.ReviewStateApproved,
		}); err != nil {
			return err
		}
		_, err = s.CreatePendingMerge(model.PendingMerge{
			PRID: pr.ID, Method: "squash", RequestedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
		})
		return err
	})
	require.NoError(t, err)
	return repo, pr
}

func TestStore_RepoRoundTrip(t *testing.T) {
	st := newTestStore(t)
	syncedAt := time.Date(2026, 7, 31, 8, 30, 0, 0, time.UTC)

	err := st.Update(context.Background(), func(s driven.Session) error {
		repo, err := s.CreateRepo(model.Repository{
			FullName:    "acme/widgets",
			CloneURL:    "https://example.com/acme/widgets.git",
			Subscribed:  true,
			PushAllowed: true,
			Branches:    []string{"main", "develop"},
			Labels:      []string{"bug", "backend"},
			SyncedAt:    &syncedAt,
		})
		if err != nil {
			return err
		}
		assert.NotZero(t, repo.ID)
		return nil
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		repo, err := s.RepoByName("acme/widgets")
		require.NoError(t, err)
		require.NotNil(t, repo)
		assert.True(t, repo.Subscribed)
		assert.True(t, repo.PushAllowed)
		assert.Equal(t, []string{"main", "develop"}, repo.Branches)
		assert.Equal(t, []string{"bug", "backend"}, repo.Labels)
		require.NotNil(t, repo.SyncedAt)
		assert.True(t, repo.SyncedAt.Equal(syncedAt))

		missing, err := s.RepoByName("acme/nonexistent")
		require.NoError(t, err)
		assert.Nil(t, missing, "missing rows are nil, not an error")
		return nil
	})
	require.NoError(t, err)
}

func TestStore_PRRoundTripWithPendingFields(t *testing.T) {
	st := newTestStore(t)
	_, pr := seedGraph(t, st)

	title := "Add frobnicator (v2)"
	closed := model.PRStateClosed
	err := st.Update(context.Background(), func(s driven.Session) error {
		pr.PendingTitle = &title
		pr.PendingState = &closed
		pr.PendingLabels = []string{"urgent"}
		pr.PendingRebase = true
		pr.Held = true
		return s.UpdatePR(pr)
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		got, err := s.PR("acme/widgets", 42)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.PendingTitle)
		assert.Equal(t, title, *got.PendingTitle)
		assert.Nil(t, got.PendingBody)
		require.NotNil(t, got.PendingState)
		assert.Equal(t, closed, *got.PendingState)
		assert.Equal(t, []string{"urgent"}, got.PendingLabels)
		assert.True(t, got.PendingRebase)
		assert.True(t, got.Held)
		assert.Equal(t, []string{"backend"}, got.Labels)
		assert.True(t, got.RemoteUpdatedAt.Equal(pr.RemoteUpdatedAt))
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RollbackOnError(t *testing.T) {
	st := newTestStore(t)

	boom := errors.New("boom")
	err := st.Update(context.Background(), func(s driven.Session) error {
		if _, err := s.CreateRepo(model.Repository{FullName: "acme/widgets"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = st.View(context.Background(), func(s driven.Session) error {
		repo, err := s.RepoByName("acme/widgets")
		require.NoError(t, err)
		assert.Nil(t, repo, "failed session leaves no trace")
		return nil
	})
	require.NoError(t, err)
}

func TestStore_DeletePRCascade(t *testing.T) {
	st := newTestStore(t)
	_, pr := seedGraph(t, st)

	err := st.Update(context.Background(), func(s driven.Session) error {
		return s.DeletePRCascade(pr)
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		got, err := s.PR("acme/widgets", 42)
		require.NoError(t, err)
		assert.Nil(t, got)

		commits, err := s.CommitsForPR(pr.ID)
		require.NoError(t, err)
		assert.Empty(t, commits)

		messages, err := s.MessagesForPR(pr.ID)
		require.NoError(t, err)
		assert.Empty(t, messages)

		approvals, err := s.ApprovalsForPR(pr.ID)
		require.NoError(t, err)
		assert.Empty(t, approvals)

		pm, err := s.PendingMergeForPR(pr.ID)
		require.NoError(t, err)
		assert.Nil(t, pm)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_DeleteCommitCascade(t *testing.T) {
	st := newTestStore(t)
	_, pr := seedGraph(t, st)

	err := st.Update(context.Background(), func(s driven.Session) error {
		commit, err := s.CommitBySHA(pr.ID, "sha1")
		if err != nil {
			return err
		}
		require.NotNil(t, commit)
		return s.DeleteCommitCascade(commit)
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		commits, err := s.CommitsForPR(pr.ID)
		require.NoError(t, err)
		assert.Empty(t, commits)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_CommitsOrderedByPosition(t *testing.T) {
	st := newTestStore(t)
	_, pr := seedGraph(t, st)

	err := st.Update(context.Background(), func(s driven.Session) error {
		// Inserted out of order on purpose.
		if _, err := s.CreateCommit(model.Commit{PRID: pr.ID, SHA: "sha3", Position: 2}); err != nil {
			return err
		}
		_, err := s.CreateCommit(model.Commit{PRID: pr.ID, SHA: "sha2", ParentSHA: "sha1", Position: 1})
		return err
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		commits, err := s.CommitsForPR(pr.ID)
		require.NoError(t, err)
		require.Len(t, commits, 3)
		assert.Equal(t, []string{"sha1", "sha2", "sha3"},
			[]string{commits[0].SHA, commits[1].SHA, commits[2].SHA})
		return nil
	})
	require.NoError(t, err)
}

func TestStore_MessageLookups(t *testing.T) {
	st := newTestStore(t)
	_, pr := seedGraph(t, st)

	err := st.Update(context.Background(), func(s driven.Session) error {
		_, err := s.CreateMessage(model.Message{
			PRID: pr.ID, Kind: model.MessageKindReview, Author: "testuser",
			Body: "wip notes", Draft: true, Pending: true,
		})
		return err
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		byRemote, err := s.MessageByRemoteID(pr.ID, 900)
		require.NoError(t, err)
		require.NotNil(t, byRemote)
		assert.Equal(t, "looks interesting", byRemote.Body)

		missing, err := s.MessageByRemoteID(pr.ID, 999)
		require.NoError(t, err)
		assert.Nil(t, missing)

		drafts, err := s.DraftMessagesForPR(pr.ID)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "wip notes", drafts[0].Body)
		assert.Nil(t, drafts[0].RemoteID)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ApprovalLookups(t *testing.T) {
	st := newTestStore(t)
	_, pr := seedGraph(t, st)

	err := st.Update(context.Background(), func(s driven.Session) error {
		_, err := s.CreateApproval(model.Approval{
			PRID: pr.ID, Reviewer: "testuser", CommitSHA: "sha1",
			State: model.ReviewStateChangesRequested, Draft: true,
		})
		return err
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		a, err := s.Approval(pr.ID, "bob", "sha1")
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, model.ReviewStateApproved, a.State)
		assert.False(t, a.Draft)

		missing, err := s.Approval(pr.ID, "bob", "sha2")
		require.NoError(t, err)
		assert.Nil(t, missing)

		drafts, err := s.DraftApprovalsForPR(pr.ID)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "testuser", drafts[0].Reviewer)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_PRsWithPendingWork(t *testing.T) {
	st := newTestStore(t)
	repo, _ := seedGraph(t, st) // has a pending merge

	err := st.Update(context.Background(), func(s driven.Session) error {
		// A second PR with nothing queued.
		_, err := s.CreatePR(model.PullRequest{
			RepoID: repo.ID, RepoFullName: repo.FullName, Number: 43,
			Title: "quiet", Author: "alice", State: model.PRStateOpen,
			Mergeable: model.MergeableUnknown,
		})
		return err
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		prs, err := s.PRsWithPendingWork()
		require.NoError(t, err)
		require.Len(t, prs, 1)
		assert.Equal(t, 42, prs[0].Number)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ClosedPRsOlderThan(t *testing.T) {
	st := newTestStore(t)
	_, pr := seedGraph(t, st)

	cutoff := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

	err := st.View(context.Background(), func(s driven.Session) error {
		prs, err := s.ClosedPRsOlderThan(cutoff)
		require.NoError(t, err)
		assert.Empty(t, prs, "open pull requests are never pruned")
		return nil
	})
	require.NoError(t, err)

	err = st.Update(context.Background(), func(s driven.Session) error {
		pr.State = model.PRStateClosed
		pr.Merged = true
		return s.UpdatePR(pr)
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		prs, err := s.ClosedPRsOlderThan(cutoff)
		require.NoError(t, err)
		require.Len(t, prs, 1)
		assert.Equal(t, 42, prs[0].Number)

		early, err := s.ClosedPRsOlderThan(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Empty(t, early, "recently seen pull requests are kept")
		return nil
	})
	require.NoError(t, err)
}

func TestStore_FileUpsertByPath(t *testing.T) {
	st := newTestStore(t)
	_, pr := seedGraph(t, st)

	err := st.Update(context.Background(), func(s driven.Session) error {
		commit, err := s.CommitBySHA(pr.ID, "sha1")
		if err != nil {
			return err
		}
		f, err := s.FileByPath(commit.ID, "frob.go")
		if err != nil {
			return err
		}
		require.NotNil(t, f)
		f.Additions = 120
		f.Deletions = 4
		return s.UpdateFile(f)
	})
	require.NoError(t, err)

	err = st.View(context.Background(), func(s driven.Session) error {
		commit, err := s.CommitBySHA(pr.ID, "sha1")
		require.NoError(t, err)
		files, err := s.FilesForCommit(commit.ID)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, 120, files[0].Additions)
		assert.Equal(t, 4, files[0].Deletions)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_VacuumRunsOutsideSession(t *testing.T) {
	st := newTestStore(t)
	seedGraph(t, st)

	require.NoError(t, st.Vacuum(context.Background()))
}

func TestMigrations_Idempotent(t *testing.T) {
	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(db.Writer))
	require.NoError(t, RunMigrations(db.Writer), "re-running against a current schema is a no-op")
}
