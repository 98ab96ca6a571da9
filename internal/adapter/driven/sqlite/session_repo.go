package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calebhart/reviewd/internal/domain/model"
)

const repoColumns = `id, full_name, clone_url, subscribed, push_allowed, branches, labels, synced_at`

// RepoByName returns the repository with the given full name, or nil, nil
// if it does not exist.
func (s *session) RepoByName(fullName string) (*model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE full_name = ?`

	repo, err := scanRepo(s.tx.QueryRowContext(s.ctx, query, fullName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", fullName, err)
	}

	return repo, nil
}

// Repos returns all repositories ordered by full name.
func (s *session) Repos() ([]model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories ORDER BY full_name`
	return s.queryRepos(query)
}

// SubscribedRepos returns repositories flagged for periodic sync.
func (s *session) SubscribedRepos() ([]model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE subscribed = 1 ORDER BY full_name`
	return s.queryRepos(query)
}

// CreateRepo inserts a repository and returns it with its assigned ID.
func (s *session) CreateRepo(repo model.Repository) (*model.Repository, error) {
	const query = `
		INSERT INTO repositories (full_name, clone_url, subscribed, push_allowed, branches, labels, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	branches, labels, err := marshalRepoSets(&repo)
	if err != nil {
		return nil, err
	}

	res, err := s.tx.ExecContext(s.ctx, query,
		repo.FullName, repo.CloneURL, boolToInt(repo.Subscribed), boolToInt(repo.PushAllowed),
		branches, labels, timeOrNil(repo.SyncedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create repository %s: %w", repo.FullName, err)
	}

	repo.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("repository insert id: %w", err)
	}

	return &repo, nil
}

// UpdateRepo writes every mutable column of an existing repository.
func (s *session) UpdateRepo(repo *model.Repository) error {
	const query = `
		UPDATE repositories
		SET clone_url = ?, subscribed = ?, push_allowed = ?, branches = ?, labels = ?, synced_at = ?
		WHERE id = ?
	`

	branches, labels, err := marshalRepoSets(repo)
	if err != nil {
		return err
	}

	_, err = s.tx.ExecContext(s.ctx, query,
		repo.CloneURL, boolToInt(repo.Subscribed), boolToInt(repo.PushAllowed),
		branches, labels, timeOrNil(repo.SyncedAt), repo.ID,
	)
	if err != nil {
		return fmt.Errorf("update repository %s: %w", repo.FullName, err)
	}

	return nil
}

// DeleteRepo removes a repository row. Pull requests must be pruned first.
func (s *session) DeleteRepo(repo *model.Repository) error {
	_, err := s.tx.ExecContext(s.ctx, `DELETE FROM repositories WHERE id = ?`, repo.ID)
	if err != nil {
		return fmt.Errorf("delete repository %s: %w", repo.FullName, err)
	}
	return nil
}

func (s *session) queryRepos(query string, args ...any) ([]model.Repository, error) {
	rows, err := s.tx.QueryContext(s.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

func scanRepo(sc scanner) (*model.Repository, error) {
	var repo model.Repository
	var subscribed, pushAllowed int
	var branchesJSON, labelsJSON string
	var syncedAt sql.NullString

	err := sc.Scan(&repo.ID, &repo.FullName, &repo.CloneURL, &subscribed, &pushAllowed,
		&branchesJSON, &labelsJSON, &syncedAt)
	if err != nil {
		return nil, err
	}

	repo.Subscribed = subscribed != 0
	repo.PushAllowed = pushAllowed != 0

	if err := json.Unmarshal([]byte(branchesJSON), &repo.Branches); err != nil {
		return nil, fmt.Errorf("unmarshal branches: %w", err)
	}
	if err := json.Unmarshal([]byte(labelsJSON), &repo.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}

	if syncedAt.Valid {
		t, err := parseTime(syncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse synced_at: %w", err)
		}
		repo.SyncedAt = &t
	}

	return &repo, nil
}

func marshalRepoSets(repo *model.Repository) (string, string, error) {
	branches := repo.Branches
	if branches == nil {
		branches = []string{}
	}
	branchesJSON, err := json.Marshal(branches)
	if err != nil {
		return "", "", fmt.Errorf("marshal branches: %w", err)
	}

	labels := repo.Labels
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return "", "", fmt.Errorf("marshal labels: %w", err)
	}

	return string(branchesJSON), string(labelsJSON), nil
}

// timeOrNil converts an optional timestamp to a driver value.
func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
