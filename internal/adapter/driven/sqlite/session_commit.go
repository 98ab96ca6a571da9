package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/calebhart/reviewd/internal/domain/model"
)

// CommitsForPR returns a pull request's commits in remote order.
func (s *session) CommitsForPR(prID int64) ([]model.Commit, error) {
	const query = `SELECT id, pr_id, sha, parent_sha, message, position FROM commits WHERE pr_id = ? ORDER BY position`

	rows, err := s.tx.QueryContext(s.ctx, query, prID)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	var commits []model.Commit
	for rows.Next() {
		var c model.Commit
		if err := rows.Scan(&c.ID, &c.PRID, &c.SHA, &c.ParentSHA, &c.Message, &c.Position); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}

	return commits, nil
}

// CommitBySHA returns one commit of a PR by sha, or nil, nil if absent.
func (s *session) CommitBySHA(prID int64, sha string) (*model.Commit, error) {
	const query = `SELECT id, pr_id, sha, parent_sha, message, position FROM commits WHERE pr_id = ? AND sha = ?`

	var c model.Commit
	err := s.tx.QueryRowContext(s.ctx, query, prID, sha).
		Scan(&c.ID, &c.PRID, &c.SHA, &c.ParentSHA, &c.Message, &c.Position)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", sha, err)
	}

	return &c, nil
}

// CreateCommit inserts a commit and returns it with its assigned ID.
func (s *session) CreateCommit(c model.Commit) (*model.Commit, error) {
	const query = `INSERT INTO commits (pr_id, sha, parent_sha, message, position) VALUES (?, ?, ?, ?, ?)`

	res, err := s.tx.ExecContext(s.ctx, query, c.PRID, c.SHA, c.ParentSHA, c.Message, c.Position)
	if err != nil {
		return nil, fmt.Errorf("create commit %s: %w", c.SHA, err)
	}

	c.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("commit insert id: %w", err)
	}

	return &c, nil
}

// DeleteCommitCascade removes a commit with its files, checks, and inline
// messages. Used when a force-push drops the commit from the remote listing.
func (s *session) DeleteCommitCascade(c *model.Commit) error {
	steps := []string{
		`DELETE FROM checks WHERE commit_id = ?`,
		`DELETE FROM files WHERE commit_id = ?`,
		`DELETE FROM messages WHERE commit_id = ?`,
		`DELETE FROM commits WHERE id = ?`,
	}

	for _, step := range steps {
		if _, err := s.tx.ExecContext(s.ctx, step, c.ID); err != nil {
			return fmt.Errorf("cascade delete commit %s: %w", c.SHA, err)
		}
	}

	return nil
}

// FilesForCommit returns a commit's file diff stats ordered by path.
func (s *session) FilesForCommit(commitID int64) ([]model.File, error) {
	const query = `SELECT id, commit_id, path, additions, deletions FROM files WHERE commit_id = ? ORDER BY path`

	rows, err := s.tx.QueryContext(s.ctx, query, commitID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		var f model.File
		if err := rows.Scan(&f.ID, &f.CommitID, &f.Path, &f.Additions, &f.Deletions); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}

	return files, nil
}

// FileByPath returns one file record of a commit, or nil, nil if absent.
func (s *session) FileByPath(commitID int64, path string) (*model.File, error) {
	const query = `SELECT id, commit_id, path, additions, deletions FROM files WHERE commit_id = ? AND path = ?`

	var f model.File
	err := s.tx.QueryRowContext(s.ctx, query, commitID, path).
		Scan(&f.ID, &f.CommitID, &f.Path, &f.Additions, &f.Deletions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", path, err)
	}

	return &f, nil
}

// CreateFile inserts a file record and returns it with its assigned ID.
func (s *session) CreateFile(f model.File) (*model.File, error) {
	const query = `INSERT INTO files (commit_id, path, additions, deletions) VALUES (?, ?, ?, ?)`

	res, err := s.tx.ExecContext(s.ctx, query, f.CommitID, f.Path, f.Additions, f.Deletions)
	if err != nil {
		return nil, fmt.Errorf("create file %s: %w", f.Path, err)
	}

	f.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("file insert id: %w", err)
	}

	return &f, nil
}

// UpdateFile writes the diff stats of an existing file record.
func (s *session) UpdateFile(f *model.File) error {
	const query = `UPDATE files SET additions = ?, deletions = ? WHERE id = ?`

	if _, err := s.tx.ExecContext(s.ctx, query, f.Additions, f.Deletions, f.ID); err != nil {
		return fmt.Errorf("update file %s: %w", f.Path, err)
	}

	return nil
}

// ChecksForCommit returns a commit's CI checks ordered by name.
func (s *session) ChecksForCommit(commitID int64) ([]model.Check, error) {
	const query = `SELECT id, commit_id, name, status, conclusion, details_url FROM checks WHERE commit_id = ? ORDER BY name`

	rows, err := s.tx.QueryContext(s.ctx, query, commitID)
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()

	var checks []model.Check
	for rows.Next() {
		var c model.Check
		if err := rows.Scan(&c.ID, &c.CommitID, &c.Name, &c.Status, &c.Conclusion, &c.DetailsURL); err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		checks = append(checks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checks: %w", err)
	}

	return checks, nil
}

// CreateCheck inserts a check and returns it with its assigned ID.
func (s *session) CreateCheck(c model.Check) (*model.Check, error) {
	const query = `INSERT INTO checks (commit_id, name, status, conclusion, details_url) VALUES (?, ?, ?, ?, ?)`

	res, err := s.tx.ExecContext(s.ctx, query, c.CommitID, c.Name, c.Status, c.Conclusion, c.DetailsURL)
	if err != nil {
		return nil, fmt.Errorf("create check %s: %w", c.Name, err)
	}

	c.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("check insert id: %w", err)
	}

	return &c, nil
}

// UpdateCheck writes the status columns of an existing check.
func (s *session) UpdateCheck(c *model.Check) error {
	const query = `UPDATE checks SET status = ?, conclusion = ?, details_url = ? WHERE id = ?`

	if _, err := s.tx.ExecContext(s.ctx, query, c.Status, c.Conclusion, c.DetailsURL, c.ID); err != nil {
		return fmt.Errorf("update check %s: %w", c.Name, err)
	}

	return nil
}

// DeleteCheck removes one check row.
func (s *session) DeleteCheck(c *model.Check) error {
	if _, err := s.tx.ExecContext(s.ctx, `DELETE FROM checks WHERE id = ?`, c.ID); err != nil {
		return fmt.Errorf("delete check %s: %w", c.Name, err)
	}
	return nil
}
