package sync

import (
	"context"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calebhart/reviewd/internal/adapter/driven/sqlite"
	"github.com/calebhart/reviewd/internal/domain/model"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// fakeRemote serves canned data for reads and records write calls.
type fakeRemote struct {
	mu gosync.Mutex

	repos    []driven.RemoteRepo
	branches map[string][]string
	labels   map[string][]string
	refs     []driven.PRRef
	pr       *driven.RemotePullRequest
	commits  []driven.RemoteCommit
	files    map[string][]driven.RemoteFile
	reviews  []driven.RemoteReview
	inline   []driven.RemoteComment
	issue    []driven.RemoteComment
	checks   []driven.RemoteCheck

	// Error injection, consumed once per field when oneShot is set.
	failFetchReviews error
	failMerge        error
	oneShotMergeErr  bool

	createdReviews []createdReview
	replacedLabels [][]string
	editCalls      int
	mergeMethods   []string
	branchUpdates  int
	searchWindows  []*time.Time
}

type createdReview struct {
	commitSHA string
	event     string
	body      string
	comments  []driven.DraftComment
}

var _ driven.Remote = (*fakeRemote)(nil)

func (f *fakeRemote) ListRepositories(ctx context.Context) ([]driven.RemoteRepo, error) {
	return f.repos, nil
}

func (f *fakeRemote) ListBranches(ctx context.Context, repoFullName string) ([]string, error) {
	return f.branches[repoFullName], nil
}

func (f *fakeRemote) ListLabels(ctx context.Context, repoFullName string) ([]string, error) {
	return f.labels[repoFullName], nil
}

func (f *fakeRemote) SearchPullRequests(ctx context.Context, repoFullNames []string, updatedSince *time.Time) ([]driven.PRRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchWindows = append(f.searchWindows, updatedSince)
	return f.refs, nil
}

func (f *fakeRemote) FetchPullRequest(ctx context.Context, repoFullName string, number int) (*driven.RemotePullRequest, error) {
	pr := *f.pr
	return &pr, nil
}

func (f *fakeRemote) FetchCommits(ctx context.Context, repoFullName string, number int) ([]driven.RemoteCommit, error) {
	return f.commits, nil
}

func (f *fakeRemote) FetchCommitFiles(ctx context.Context, repoFullName, sha string) ([]driven.RemoteFile, error) {
	return f.files[sha], nil
}

func (f *fakeRemote) FetchReviews(ctx context.Context, repoFullName string, number int) ([]driven.RemoteReview, error) {
	if f.failFetchReviews != nil {
		return nil, f.failFetchReviews
	}
	return f.reviews, nil
}

func (f *fakeRemote) FetchReviewComments(ctx context.Context, repoFullName string, number int) ([]driven.RemoteComment, error) {
	return f.inline, nil
}

func (f *fakeRemote) FetchIssueComments(ctx context.Context, repoFullName string, number int) ([]driven.RemoteComment, error) {
	return f.issue, nil
}

func (f *fakeRemote) FetchChecks(ctx context.Context, repoFullName, ref string) ([]driven.RemoteCheck, error) {
	return f.checks, nil
}

func (f *fakeRemote) CreateReview(ctx context.Context, repoFullName string, number int, commitSHA, event, body string, comments []driven.DraftComment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdReviews = append(f.createdReviews, createdReview{
		commitSHA: commitSHA,
		event:     event,
		body:      body,
		comments:  comments,
	})
	return nil
}

func (f *fakeRemote) ReplaceLabels(ctx context.Context, repoFullName string, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replacedLabels = append(f.replacedLabels, labels)
	return nil
}

func (f *fakeRemote) EditPullRequest(ctx context.Context, repoFullName string, number int, title, body *string, state *model.PRState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editCalls++
	return nil
}

func (f *fakeRemote) MergePullRequest(ctx context.Context, repoFullName string, number int, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeMethods = append(f.mergeMethods, method)
	if f.failMerge != nil {
		err := f.failMerge
		if f.oneShotMergeErr {
			f.failMerge = nil
		}
		return err
	}
	return nil
}

func (f *fakeRemote) UpdateBranch(ctx context.Context, repoFullName string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branchUpdates++
	return nil
}

// fakeGit tracks fetched and removed commits in memory.
type fakeGit struct {
	mu      gosync.Mutex
	have    map[string]bool
	fetches []fetchCall
	removed []string
}

type fetchCall struct {
	remoteURL string
	shas      []string
}

var _ driven.GitMirror = (*fakeGit)(nil)

func newFakeGit() *fakeGit {
	return &fakeGit{have: make(map[string]bool)}
}

func (g *fakeGit) HasCommit(ctx context.Context, sha string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.have[sha], nil
}

func (g *fakeGit) Fetch(ctx context.Context, remoteURL string, shas []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches = append(g.fetches, fetchCall{remoteURL: remoteURL, shas: shas})
	for _, sha := range shas {
		g.have[sha] = true
	}
	return nil
}

func (g *fakeGit) Remove(ctx context.Context, sha string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, sha)
	return nil
}

// newTestEngine wires an engine against a real SQLite store in a temp dir
// and the in-memory fakes.
func newTestEngine(t *testing.T, remote *fakeRemote, git *fakeGit) *Engine {
	t.Helper()

	db, err := sqlite.NewDB(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.RunMigrations(db.Writer))

	return New(Options{
		Store:    sqlite.NewStore(db),
		Remote:   remote,
		Git:      git,
		Username: "testuser",
		Backoff:  5 * time.Millisecond,
	})
}

// widgetRemote returns a fakeRemote serving one open PR acme/widgets#42
// with two commits and a green check.
func widgetRemote() *fakeRemote {
	return &fakeRemote{
		pr: &driven.RemotePullRequest{
			Number:    42,
			Title:     "Add frobnicator",
			Body:      "Adds the frobnicator module.",
			Author:    "alice",
			State:     model.PRStateOpen,
			Mergeable: model.MergeableMergeable,
			HeadRef:   "feature/frob",
			BaseRef:   "main",
			HeadSHA:   "sha2",
			Labels:    []string{"backend"},
			UpdatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		commits: []driven.RemoteCommit{
			{SHA: "sha1", Message: "add module"},
			{SHA: "sha2", ParentSHA: "sha1", Message: "wire it up"},
		},
		files: map[string][]driven.RemoteFile{
			"sha1": {{Path: "frob.go", Additions: 100, Deletions: 0}},
			"sha2": {{Path: "main.go", Additions: 5, Deletions: 1}},
		},
		checks: []driven.RemoteCheck{
			{Name: "ci/test", Status: "completed", Conclusion: "success"},
		},
	}
}

// seedRepo inserts a subscribed repository row.
func seedRepo(t *testing.T, e *Engine, fullName string) *model.Repository {
	t.Helper()

	var repo *model.Repository
	err := e.store.Update(context.Background(), func(s driven.Session) error {
		var err error
		repo, err = s.CreateRepo(model.Repository{
			FullName:   fullName,
			CloneURL:   "https://example.com/" + fullName + ".git",
			Subscribed: true,
		})
		return err
	})
	require.NoError(t, err)
	return repo
}

// syncWidget runs one detail sync of acme/widgets#42 and returns the task.
func syncWidget(t *testing.T, e *Engine) *SyncPullRequestTask {
	t.Helper()

	task := NewSyncPullRequestTask("acme/widgets", 42)
	require.NoError(t, task.Run(context.Background(), e))
	return task
}

// storedPR reads acme/widgets#42 back from the store.
func storedPR(t *testing.T, e *Engine) *model.PullRequest {
	t.Helper()

	var pr *model.PullRequest
	err := e.store.View(context.Background(), func(s driven.Session) error {
		var err error
		pr, err = s.PR("acme/widgets", 42)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, pr)
	return pr
}
