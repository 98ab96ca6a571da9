// Package model defines the entities the sync engine mirrors locally.
package model

import "time"

// Repository is a remote repository tracked in the local store.
// SyncedAt is nil until the first successful full sync; the engine uses
// that to decide between a full and an incremental pull.
type Repository struct {
	ID          int64
	FullName    string // "owner/repo"
	CloneURL    string
	Subscribed  bool
	PushAllowed bool
	Branches    []string
	Labels      []string
	SyncedAt    *time.Time
}
