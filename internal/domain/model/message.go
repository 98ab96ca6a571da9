package model

import "time"

// Message is one review/comment thread entry on a pull request.
//
// Draft marks a locally composed, not-yet-uploaded message; Pending marks
// it queued for the next upload pass. A successfully uploaded message is
// deleted locally -- the remote copy becomes authoritative on the next pull.
type Message struct {
	ID        int64
	PRID      int64
	CommitID  *int64 // set for inline comments
	RemoteID  *int64 // nil for locally composed drafts
	Kind      MessageKind
	Author    string
	Body      string
	Path      string // inline comments only
	Line      int    // inline comments only
	Draft     bool
	Pending   bool
	CreatedAt time.Time
}

// Approval records a reviewer's verdict for one commit of a pull request.
// Draft distinguishes a locally pending, not-yet-uploaded approval from a
// confirmed remote one; remote data never overwrites a draft.
type Approval struct {
	ID        int64
	PRID      int64
	Reviewer  string
	CommitSHA string
	State     ReviewState
	Draft     bool
}

// PendingMerge is an ephemeral record of a locally requested merge. It is
// deleted once the merge task runs, whether the remote call succeeded or not.
type PendingMerge struct {
	ID          int64
	PRID        int64
	Method      string // "merge", "squash", or "rebase"
	RequestedAt time.Time
}
