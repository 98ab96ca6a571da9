package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// timeNow is a seam for tests.
var timeNow = time.Now

// classify maps a go-github call failure into the engine's error taxonomy:
// connectivity-class failures become OfflineError, organization third-party
// access blocks become RestrictedError, and everything else is wrapped with
// the operation description.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	if oe := classifyOffline(err); oe != nil {
		return fmt.Errorf("%s: %w", op, oe)
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch {
		case ghErr.Response.StatusCode == http.StatusServiceUnavailable:
			return fmt.Errorf("%s: %w", op, &driven.OfflineError{Cause: err})
		case ghErr.Response.StatusCode == http.StatusForbidden && isOrgRestriction(ghErr):
			return fmt.Errorf("%s: %w", op, &driven.RestrictedError{Org: orgFromRequest(ghErr.Response)})
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// classifyOffline returns a non-nil OfflineError for connectivity-class
// failures: refused/reset connections, timeouts, truncated bodies, and
// rate-limit exhaustion.
func classifyOffline(err error) *driven.OfflineError {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		return &driven.OfflineError{Cause: err, RetryAt: rle.Rate.Reset.Time}
	}

	var arle *gh.AbuseRateLimitError
	if errors.As(err, &arle) {
		oe := &driven.OfflineError{Cause: err}
		if arle.RetryAfter != nil {
			oe.RetryAt = timeNow().Add(*arle.RetryAfter)
		}
		return oe
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &driven.OfflineError{Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &driven.OfflineError{Cause: err}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return &driven.OfflineError{Cause: err}
	}

	return nil
}

// isOrgRestriction detects the 403 variant GitHub returns when an
// organization has blocked third-party application access.
func isOrgRestriction(ghErr *gh.ErrorResponse) bool {
	msg := strings.ToLower(ghErr.Message)
	return strings.Contains(msg, "oauth app access restrictions") ||
		strings.Contains(msg, "third-party")
}

// orgFromRequest extracts the owner segment of the failed request path.
func orgFromRequest(resp *http.Response) string {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	parts := strings.Split(strings.Trim(resp.Request.URL.Path, "/"), "/")
	for i, p := range parts {
		if (p == "repos" || p == "orgs") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
