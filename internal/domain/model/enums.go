package model

// PRState represents the remote lifecycle state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
)

// ReviewState represents the verdict carried by a review or approval.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "approved"
	ReviewStateChangesRequested ReviewState = "changes_requested"
	ReviewStateCommented        ReviewState = "commented"
	ReviewStateDismissed        ReviewState = "dismissed"
)

// MergeableStatus is GitHub's tri-state mergeability signal.
type MergeableStatus string

const (
	MergeableUnknown    MergeableStatus = "unknown"
	MergeableMergeable  MergeableStatus = "mergeable"
	MergeableConflicted MergeableStatus = "conflicted"
)

// MessageKind distinguishes where a message lives on the pull request.
type MessageKind string

const (
	MessageKindReview MessageKind = "review" // Review summary body.
	MessageKindIssue  MessageKind = "issue"  // PR-level discussion comment.
	MessageKindInline MessageKind = "inline" // Comment anchored to a file/line.
)
