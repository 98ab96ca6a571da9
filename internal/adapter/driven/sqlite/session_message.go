package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/calebhart/reviewd/internal/domain/model"
)

const messageColumns = `id, pr_id, commit_id, remote_id, kind, author, body, path, line, draft, pending, created_at`

// MessagesForPR returns all messages of a pull request in creation order.
func (s *session) MessagesForPR(prID int64) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE pr_id = ? ORDER BY created_at, id`
	return s.queryMessages(query, prID)
}

// MessageByRemoteID returns the local mirror of a remote comment/review
// body, or nil, nil if it has not been seen yet.
func (s *session) MessageByRemoteID(prID, remoteID int64) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE pr_id = ? AND remote_id = ?`

	m, err := scanMessage(s.tx.QueryRowContext(s.ctx, query, prID, remoteID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message remote_id=%d: %w", remoteID, err)
	}

	return m, nil
}

// DraftMessagesForPR returns locally composed, not-yet-uploaded messages.
func (s *session) DraftMessagesForPR(prID int64) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE pr_id = ? AND draft = 1 ORDER BY created_at, id`
	return s.queryMessages(query, prID)
}

// CreateMessage inserts a message and returns it with its assigned ID.
func (s *session) CreateMessage(m model.Message) (*model.Message, error) {
	const query = `
		INSERT INTO messages (pr_id, commit_id, remote_id, kind, author, body, path, line, draft, pending, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.tx.ExecContext(s.ctx, query,
		m.PRID, m.CommitID, m.RemoteID, string(m.Kind), m.Author, m.Body,
		m.Path, m.Line, boolToInt(m.Draft), boolToInt(m.Pending), m.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	m.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message insert id: %w", err)
	}

	return &m, nil
}

// UpdateMessage writes the mutable columns of an existing message.
func (s *session) UpdateMessage(m *model.Message) error {
	const query = `
		UPDATE messages SET commit_id = ?, remote_id = ?, author = ?, body = ?,
			path = ?, line = ?, draft = ?, pending = ?
		WHERE id = ?
	`

	_, err := s.tx.ExecContext(s.ctx, query,
		m.CommitID, m.RemoteID, m.Author, m.Body, m.Path, m.Line,
		boolToInt(m.Draft), boolToInt(m.Pending), m.ID,
	)
	if err != nil {
		return fmt.Errorf("update message %d: %w", m.ID, err)
	}

	return nil
}

// DeleteMessage removes one message row.
func (s *session) DeleteMessage(m *model.Message) error {
	if _, err := s.tx.ExecContext(s.ctx, `DELETE FROM messages WHERE id = ?`, m.ID); err != nil {
		return fmt.Errorf("delete message %d: %w", m.ID, err)
	}
	return nil
}

func (s *session) queryMessages(query string, args ...any) ([]model.Message, error) {
	rows, err := s.tx.QueryContext(s.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func scanMessage(sc scanner) (*model.Message, error) {
	var m model.Message
	var commitID, remoteID sql.NullInt64
	var kind, createdAt string
	var draft, pending int

	err := sc.Scan(&m.ID, &m.PRID, &commitID, &remoteID, &kind, &m.Author,
		&m.Body, &m.Path, &m.Line, &draft, &pending, &createdAt)
	if err != nil {
		return nil, err
	}

	if commitID.Valid {
		m.CommitID = &commitID.Int64
	}
	if remoteID.Valid {
		m.RemoteID = &remoteID.Int64
	}
	m.Kind = model.MessageKind(kind)
	m.Draft = draft != 0
	m.Pending = pending != 0

	m.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &m, nil
}

// ApprovalsForPR returns all approvals recorded for a pull request.
func (s *session) ApprovalsForPR(prID int64) ([]model.Approval, error) {
	const query = `SELECT id, pr_id, reviewer, commit_sha, state, draft FROM approvals WHERE pr_id = ? ORDER BY id`
	return s.queryApprovals(query, prID)
}

// Approval returns the approval for (prID, reviewer, commitSHA), or nil, nil.
func (s *session) Approval(prID int64, reviewer, commitSHA string) (*model.Approval, error) {
	const query = `SELECT id, pr_id, reviewer, commit_sha, state, draft FROM approvals
		WHERE pr_id = ? AND reviewer = ? AND commit_sha = ?`

	a, err := scanApproval(s.tx.QueryRowContext(s.ctx, query, prID, reviewer, commitSHA))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval %s@%s: %w", reviewer, commitSHA, err)
	}

	return a, nil
}

// DraftApprovalsForPR returns not-yet-uploaded local approvals.
func (s *session) DraftApprovalsForPR(prID int64) ([]model.Approval, error) {
	const query = `SELECT id, pr_id, reviewer, commit_sha, state, draft FROM approvals WHERE pr_id = ? AND draft = 1 ORDER BY id`
	return s.queryApprovals(query, prID)
}

// CreateApproval inserts an approval and returns it with its assigned ID.
func (s *session) CreateApproval(a model.Approval) (*model.Approval, error) {
	const query = `INSERT INTO approvals (pr_id, reviewer, commit_sha, state, draft) VALUES (?, ?, ?, ?, ?)`

	res, err := s.tx.ExecContext(s.ctx, query, a.PRID, a.Reviewer, a.CommitSHA, string(a.State), boolToInt(a.Draft))
	if err != nil {
		return nil, fmt.Errorf("create approval %s@%s: %w", a.Reviewer, a.CommitSHA, err)
	}

	a.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("approval insert id: %w", err)
	}

	return &a, nil
}

// UpdateApproval writes the state columns of an existing approval.
func (s *session) UpdateApproval(a *model.Approval) error {
	const query = `UPDATE approvals SET state = ?, draft = ? WHERE id = ?`

	if _, err := s.tx.ExecContext(s.ctx, query, string(a.State), boolToInt(a.Draft), a.ID); err != nil {
		return fmt.Errorf("update approval %d: %w", a.ID, err)
	}

	return nil
}

// DeleteApproval removes one approval row.
func (s *session) DeleteApproval(a *model.Approval) error {
	if _, err := s.tx.ExecContext(s.ctx, `DELETE FROM approvals WHERE id = ?`, a.ID); err != nil {
		return fmt.Errorf("delete approval %d: %w", a.ID, err)
	}
	return nil
}

func (s *session) queryApprovals(query string, args ...any) ([]model.Approval, error) {
	rows, err := s.tx.QueryContext(s.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var approvals []model.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}

	return approvals, nil
}

func scanApproval(sc scanner) (*model.Approval, error) {
	var a model.Approval
	var state string
	var draft int

	if err := sc.Scan(&a.ID, &a.PRID, &a.Reviewer, &a.CommitSHA, &state, &draft); err != nil {
		return nil, err
	}

	a.State = model.ReviewState(state)
	a.Draft = draft != 0

	return &a, nil
}

// PendingMergeForPR returns the queued merge request for a PR, or nil, nil.
func (s *session) PendingMergeForPR(prID int64) (*model.PendingMerge, error) {
	const query = `SELECT id, pr_id, method, requested_at FROM pending_merges WHERE pr_id = ?`

	var pm model.PendingMerge
	var requestedAt string
	err := s.tx.QueryRowContext(s.ctx, query, prID).Scan(&pm.ID, &pm.PRID, &pm.Method, &requestedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending merge for pr %d: %w", prID, err)
	}

	pm.RequestedAt, err = parseTime(requestedAt)
	if err != nil {
		return nil, fmt.Errorf("parse requested_at: %w", err)
	}

	return &pm, nil
}

// CreatePendingMerge inserts a merge request record.
func (s *session) CreatePendingMerge(pm model.PendingMerge) (*model.PendingMerge, error) {
	const query = `INSERT INTO pending_merges (pr_id, method, requested_at) VALUES (?, ?, ?)`

	res, err := s.tx.ExecContext(s.ctx, query, pm.PRID, pm.Method, pm.RequestedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("create pending merge for pr %d: %w", pm.PRID, err)
	}

	pm.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("pending merge insert id: %w", err)
	}

	return &pm, nil
}

// DeletePendingMerge removes the record; the merge task deletes it whether
// the remote call succeeded or not.
func (s *session) DeletePendingMerge(pm *model.PendingMerge) error {
	if _, err := s.tx.ExecContext(s.ctx, `DELETE FROM pending_merges WHERE id = ?`, pm.ID); err != nil {
		return fmt.Errorf("delete pending merge %d: %w", pm.ID, err)
	}
	return nil
}
