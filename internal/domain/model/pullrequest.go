package model

import "time"

// PullRequest is the locally mirrored state of one remote pull request,
// identified by (RepoFullName, Number).
//
// Held and Outdated are engine-owned flags: Held blocks automatic review
// upload after a conflicting remote verdict arrives, Outdated marks a
// partially synced PR for the periodic re-sync sweep. The Pending* fields
// are locally queued mutations awaiting upload; they are cleared in the
// same transaction that reads them for sending, and authoritative state is
// always re-fetched rather than reflected from the request body.
type PullRequest struct {
	ID           int64
	RepoID       int64
	RepoFullName string
	Number       int
	Title        string
	Body         string
	Author       string
	State        PRState
	Merged       bool
	Mergeable    MergeableStatus
	HeadRef      string
	BaseRef      string
	HeadSHA      string
	Held         bool
	Outdated     bool
	Labels       []string

	RemoteUpdatedAt time.Time
	SeenAt          time.Time

	// Locally queued mutations, nil/false when nothing is pending.
	PendingTitle  *string
	PendingBody   *string
	PendingState  *PRState
	PendingLabels []string // nil means no pending label change
	PendingRebase bool
}

// Key returns the composite remote identity "owner/repo#number".
func (pr *PullRequest) Key() string {
	return PRKey(pr.RepoFullName, pr.Number)
}

// HasPendingMutation reports whether any non-review mutation is queued.
func (pr *PullRequest) HasPendingMutation() bool {
	return pr.PendingTitle != nil || pr.PendingBody != nil ||
		pr.PendingState != nil || pr.PendingLabels != nil || pr.PendingRebase
}
