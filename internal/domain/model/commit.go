package model

// Commit belongs to exactly one pull request and owns File and Check
// children. Position preserves the remote commit ordering.
type Commit struct {
	ID        int64
	PRID      int64
	SHA       string
	ParentSHA string
	Message   string
	Position  int
}

// File is a per-commit diff stat entry. Files may also be created on
// demand when an inline comment references a path the diff listing did
// not include.
type File struct {
	ID        int64
	CommitID  int64
	Path      string
	Additions int
	Deletions int
}

// Check is a CI/status result attached to a commit. Checks are replaced
// wholesale on every sync; there is no incremental check diffing.
type Check struct {
	ID         int64
	CommitID   int64
	Name       string
	Status     string
	Conclusion string
	DetailsURL string
}
