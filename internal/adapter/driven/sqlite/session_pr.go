package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calebhart/reviewd/internal/domain/model"
)

const prColumns = `id, repo_id, repo_full_name, number, title, body, author, state, merged,
	mergeable, head_ref, base_ref, head_sha, held, outdated, labels,
	remote_updated_at, seen_at, pending_title, pending_body, pending_state,
	pending_labels, pending_rebase`

// PR returns the pull request identified by (repoFullName, number), or
// nil, nil if it does not exist.
func (s *session) PR(repoFullName string, number int) (*model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE repo_full_name = ? AND number = ?`

	pr, err := scanPR(s.tx.QueryRowContext(s.ctx, query, repoFullName, number))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get PR %s#%d: %w", repoFullName, number, err)
	}

	return pr, nil
}

// PRsForRepo returns all pull requests for a repository ordered by number.
func (s *session) PRsForRepo(repoID int64) ([]model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE repo_id = ? ORDER BY number`
	return s.queryPRs(query, repoID)
}

// OutdatedPRs returns pull requests flagged by a failed sync, for the
// periodic re-sync sweep.
func (s *session) OutdatedPRs() ([]model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE outdated = 1 ORDER BY repo_full_name, number`
	return s.queryPRs(query)
}

// PRsWithPendingWork returns pull requests carrying any queued local
// mutation: a pending edit, label set, rebase, a pending merge record, or
// pending messages/draft approvals awaiting upload.
func (s *session) PRsWithPendingWork() ([]model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests p WHERE
		p.pending_title IS NOT NULL OR p.pending_body IS NOT NULL
		OR p.pending_state IS NOT NULL OR p.pending_labels IS NOT NULL
		OR p.pending_rebase = 1
		OR EXISTS (SELECT 1 FROM pending_merges pm WHERE pm.pr_id = p.id)
		OR EXISTS (SELECT 1 FROM messages m WHERE m.pr_id = p.id AND m.pending = 1)
		OR EXISTS (SELECT 1 FROM approvals a WHERE a.pr_id = p.id AND a.draft = 1)
		ORDER BY p.repo_full_name, p.number`
	return s.queryPRs(query)
}

// ClosedPRsOlderThan returns closed pull requests last seen before cutoff.
func (s *session) ClosedPRsOlderThan(cutoff time.Time) ([]model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE state = 'closed' AND seen_at < ?`
	return s.queryPRs(query, cutoff.UTC())
}

// CreatePR inserts a pull request and returns it with its assigned ID.
func (s *session) CreatePR(pr model.PullRequest) (*model.PullRequest, error) {
	const query = `
		INSERT INTO pull_requests (
			repo_id, repo_full_name, number, title, body, author, state, merged,
			mergeable, head_ref, base_ref, head_sha, held, outdated, labels,
			remote_updated_at, seen_at, pending_title, pending_body, pending_state,
			pending_labels, pending_rebase
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	labelsJSON, pendingLabelsJSON, err := marshalPRLabels(&pr)
	if err != nil {
		return nil, err
	}

	res, err := s.tx.ExecContext(s.ctx, query,
		pr.RepoID, pr.RepoFullName, pr.Number, pr.Title, pr.Body, pr.Author,
		string(pr.State), boolToInt(pr.Merged), string(pr.Mergeable),
		pr.HeadRef, pr.BaseRef, pr.HeadSHA, boolToInt(pr.Held), boolToInt(pr.Outdated),
		labelsJSON, pr.RemoteUpdatedAt.UTC(), pr.SeenAt.UTC(),
		pr.PendingTitle, pr.PendingBody, prStateOrNil(pr.PendingState),
		pendingLabelsJSON, boolToInt(pr.PendingRebase),
	)
	if err != nil {
		return nil, fmt.Errorf("create PR %s#%d: %w", pr.RepoFullName, pr.Number, err)
	}

	pr.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("PR insert id: %w", err)
	}

	return &pr, nil
}

// UpdatePR writes every mutable column of an existing pull request.
func (s *session) UpdatePR(pr *model.PullRequest) error {
	const query = `
		UPDATE pull_requests SET
			title = ?, body = ?, author = ?, state = ?, merged = ?, mergeable = ?,
			head_ref = ?, base_ref = ?, head_sha = ?, held = ?, outdated = ?, labels = ?,
			remote_updated_at = ?, seen_at = ?, pending_title = ?, pending_body = ?,
			pending_state = ?, pending_labels = ?, pending_rebase = ?
		WHERE id = ?
	`

	labelsJSON, pendingLabelsJSON, err := marshalPRLabels(pr)
	if err != nil {
		return err
	}

	_, err = s.tx.ExecContext(s.ctx, query,
		pr.Title, pr.Body, pr.Author, string(pr.State), boolToInt(pr.Merged),
		string(pr.Mergeable), pr.HeadRef, pr.BaseRef, pr.HeadSHA,
		boolToInt(pr.Held), boolToInt(pr.Outdated), labelsJSON,
		pr.RemoteUpdatedAt.UTC(), pr.SeenAt.UTC(),
		pr.PendingTitle, pr.PendingBody, prStateOrNil(pr.PendingState),
		pendingLabelsJSON, boolToInt(pr.PendingRebase), pr.ID,
	)
	if err != nil {
		return fmt.Errorf("update PR %s#%d: %w", pr.RepoFullName, pr.Number, err)
	}

	return nil
}

// DeletePRCascade removes the pull request and all dependents in
// dependency order: checks, files, messages, approvals, commits, pending
// merges, then the row itself.
func (s *session) DeletePRCascade(pr *model.PullRequest) error {
	steps := []string{
		`DELETE FROM checks WHERE commit_id IN (SELECT id FROM commits WHERE pr_id = ?)`,
		`DELETE FROM files WHERE commit_id IN (SELECT id FROM commits WHERE pr_id = ?)`,
		`DELETE FROM messages WHERE pr_id = ?`,
		`DELETE FROM approvals WHERE pr_id = ?`,
		`DELETE FROM commits WHERE pr_id = ?`,
		`DELETE FROM pending_merges WHERE pr_id = ?`,
		`DELETE FROM pull_requests WHERE id = ?`,
	}

	for _, step := range steps {
		if _, err := s.tx.ExecContext(s.ctx, step, pr.ID); err != nil {
			return fmt.Errorf("cascade delete PR %s#%d: %w", pr.RepoFullName, pr.Number, err)
		}
	}

	return nil
}

func (s *session) queryPRs(query string, args ...any) ([]model.PullRequest, error) {
	rows, err := s.tx.QueryContext(s.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, *pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return prs, nil
}

func scanPR(sc scanner) (*model.PullRequest, error) {
	var pr model.PullRequest
	var state, mergeable, labelsJSON string
	var merged, held, outdated, pendingRebase int
	var remoteUpdatedAt, seenAt string
	var pendingState, pendingLabelsJSON sql.NullString

	err := sc.Scan(
		&pr.ID, &pr.RepoID, &pr.RepoFullName, &pr.Number, &pr.Title, &pr.Body,
		&pr.Author, &state, &merged, &mergeable, &pr.HeadRef, &pr.BaseRef,
		&pr.HeadSHA, &held, &outdated, &labelsJSON, &remoteUpdatedAt, &seenAt,
		&pr.PendingTitle, &pr.PendingBody, &pendingState, &pendingLabelsJSON,
		&pendingRebase,
	)
	if err != nil {
		return nil, err
	}

	pr.State = model.PRState(state)
	pr.Mergeable = model.MergeableStatus(mergeable)
	pr.Merged = merged != 0
	pr.Held = held != 0
	pr.Outdated = outdated != 0
	pr.PendingRebase = pendingRebase != 0

	if err := json.Unmarshal([]byte(labelsJSON), &pr.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}

	if pendingState.Valid {
		st := model.PRState(pendingState.String)
		pr.PendingState = &st
	}
	if pendingLabelsJSON.Valid {
		if err := json.Unmarshal([]byte(pendingLabelsJSON.String), &pr.PendingLabels); err != nil {
			return nil, fmt.Errorf("unmarshal pending labels: %w", err)
		}
	}

	pr.RemoteUpdatedAt, err = parseTime(remoteUpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse remote_updated_at: %w", err)
	}

	pr.SeenAt, err = parseTime(seenAt)
	if err != nil {
		return nil, fmt.Errorf("parse seen_at: %w", err)
	}

	return &pr, nil
}

func marshalPRLabels(pr *model.PullRequest) (string, any, error) {
	labels := pr.Labels
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return "", nil, fmt.Errorf("marshal labels: %w", err)
	}

	var pendingLabelsJSON any
	if pr.PendingLabels != nil {
		b, err := json.Marshal(pr.PendingLabels)
		if err != nil {
			return "", nil, fmt.Errorf("marshal pending labels: %w", err)
		}
		pendingLabelsJSON = string(b)
	}

	return string(labelsJSON), pendingLabelsJSON, nil
}

func prStateOrNil(st *model.PRState) any {
	if st == nil {
		return nil
	}
	return string(*st)
}
