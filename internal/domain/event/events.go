// Package event defines the typed result events the sync engine publishes
// to the interactive layer. The UI uses them to decide which open screens
// need to re-render.
package event

// Event is the marker interface for engine result events.
type Event interface {
	isEvent()
}

// RepositoryAdded signals that a repository was discovered and stored.
type RepositoryAdded struct {
	FullName string
}

// PullRequestAdded signals that a pull request was seen for the first time.
type PullRequestAdded struct {
	RepoFullName string
	Number       int
}

// PullRequestUpdated signals that a stored pull request changed. The flags
// tell the UI which aspects changed so it can skip irrelevant redraws.
type PullRequestUpdated struct {
	RepoFullName  string
	Number        int
	StateChanged  bool
	ReviewChanged bool
	HeldChanged   bool
}

// EngineStatusChanged signals an Online/Offline transition or a surfaced
// task failure; consumed by the status bar.
type EngineStatusChanged struct {
	Offline bool
	Error   string
}

func (RepositoryAdded) isEvent()     {}
func (PullRequestAdded) isEvent()    {}
func (PullRequestUpdated) isEvent()  {}
func (EngineStatusChanged) isEvent() {}
