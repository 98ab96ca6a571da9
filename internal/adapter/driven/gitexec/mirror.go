// Package gitexec implements the git mirror port by shelling out to the
// git binary against one shared bare repository.
package gitexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// pinPrefix namespaces the refs that keep fetched commits alive across
// git gc runs.
const pinPrefix = "refs/reviewd/"

// Mirror is a bare git repository shared by all tracked repositories.
// Commits from different remotes coexist; SHAs keep them apart.
type Mirror struct {
	dir string
}

var _ driven.GitMirror = (*Mirror)(nil)

// NewMirror initializes the bare repository at dir if it does not exist.
func NewMirror(ctx context.Context, dir string) (*Mirror, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating mirror dir: %w", err)
		}
		if out, err := run(ctx, dir, "init", "--bare", "--quiet"); err != nil {
			return nil, fmt.Errorf("git init: %s", out)
		}
	}
	return &Mirror{dir: dir}, nil
}

// HasCommit reports whether sha exists as a commit object in the mirror.
func (m *Mirror) HasCommit(ctx context.Context, sha string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "cat-file", "-e", sha+"^{commit}")
	cmd.Dir = m.dir
	if err := cmd.Run(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return false, nil
		}
		return false, fmt.Errorf("git cat-file: %w", err)
	}
	return true, nil
}

// Fetch retrieves the given commits from remoteURL in one invocation,
// pinning each under refs/reviewd/<sha>.
func (m *Mirror) Fetch(ctx context.Context, remoteURL string, shas []string) error {
	if len(shas) == 0 {
		return nil
	}

	args := []string{"fetch", "--quiet", "--no-tags", remoteURL}
	for _, sha := range shas {
		args = append(args, sha+":"+pinPrefix+sha)
	}

	if out, err := run(ctx, m.dir, args...); err != nil {
		return fmt.Errorf("git fetch %s: %s", remoteURL, out)
	}
	return nil
}

// Remove drops the pin ref for sha. A missing pin is not an error; the
// object itself is left for git gc.
func (m *Mirror) Remove(ctx context.Context, sha string) error {
	cmd := exec.CommandContext(ctx, "git", "update-ref", "-d", pinPrefix+sha)
	cmd.Dir = m.dir
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "unable to resolve reference") {
			return nil
		}
		return fmt.Errorf("git update-ref: %s", msg)
	}
	return nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

