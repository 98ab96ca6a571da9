package driven

import (
	"errors"
	"fmt"
	"time"
)

// OfflineError marks a connectivity-class failure: connection refused,
// socket timeout, 503, truncated body, or rate-limit exhaustion without a
// known reset time. The engine treats these as transient, flips to the
// Offline state, and replays the same task after a backoff.
type OfflineError struct {
	Cause   error
	RetryAt time.Time // zero when no reset hint is available
}

func (e *OfflineError) Error() string {
	if e.Cause == nil {
		return "remote unreachable"
	}
	return fmt.Sprintf("remote unreachable: %v", e.Cause)
}

func (e *OfflineError) Unwrap() error { return e.Cause }

// RestrictedError marks an organization-level third-party access block
// (403 with an OAuth app restriction message). Not retried automatically;
// the surfaced message carries a remediation hint.
type RestrictedError struct {
	Org string
}

func (e *RestrictedError) Error() string {
	return fmt.Sprintf("organization %q has restricted third-party application access; use a personal access token authorized for the organization", e.Org)
}

// IsOffline reports whether err is connectivity-class.
func IsOffline(err error) bool {
	var oe *OfflineError
	return errors.As(err, &oe)
}

// IsRestricted reports whether err is an org access restriction.
func IsRestricted(err error) bool {
	var re *RestrictedError
	return errors.As(err, &re)
}
