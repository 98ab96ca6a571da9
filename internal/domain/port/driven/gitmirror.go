package driven

import "context"

// GitMirror is the narrow port to the local git object mirror. The engine
// batches fetches per remote URL rather than per commit, and unpins
// commits when pruning aged closed pull requests.
type GitMirror interface {
	// HasCommit reports whether sha is present in the local mirror.
	HasCommit(ctx context.Context, sha string) (bool, error)
	// Fetch retrieves the given commits from remoteURL in one invocation
	// and pins each under a local ref so they survive garbage collection.
	Fetch(ctx context.Context, remoteURL string, shas []string) error
	// Remove drops the pin ref for sha; a missing pin is not an error.
	Remove(ctx context.Context, sha string) error
}
