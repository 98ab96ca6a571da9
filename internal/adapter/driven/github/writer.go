package github

import (
	"context"
	"errors"
	"fmt"

	gh "github.com/google/go-github/v82/github"

	"github.com/calebhart/reviewd/internal/domain/model"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// CreateReview submits one review with optional inline comments. event is
// "APPROVE", "REQUEST_CHANGES", or "COMMENT".
func (c *Client) CreateReview(ctx context.Context, repoFullName string, number int, commitSHA, event, body string, comments []driven.DraftComment) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	var draftComments []*gh.DraftReviewComment
	for _, dc := range comments {
		draftComments = append(draftComments, &gh.DraftReviewComment{
			Path: gh.Ptr(dc.Path),
			Body: gh.Ptr(dc.Body),
			Line: gh.Ptr(dc.Line),
			Side: gh.Ptr("RIGHT"),
		})
	}

	req := &gh.PullRequestReviewRequest{
		Event:    gh.Ptr(event),
		Comments: draftComments,
	}
	if commitSHA != "" {
		req.CommitID = gh.Ptr(commitSHA)
	}
	// APPROVE with an empty body must omit the field entirely.
	if body != "" || event != "APPROVE" {
		req.Body = gh.Ptr(body)
	}

	_, _, err = c.gh.PullRequests.CreateReview(ctx, owner, repo, number, req)
	if err != nil {
		return classify(err, fmt.Sprintf("submitting review for %s#%d", repoFullName, number))
	}

	return nil
}

// ReplaceLabels sets the PR's label list wholesale.
func (c *Client) ReplaceLabels(ctx context.Context, repoFullName string, number int, labels []string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	if labels == nil {
		labels = []string{}
	}

	_, _, err = c.gh.Issues.ReplaceLabelsForIssue(ctx, owner, repo, number, labels)
	if err != nil {
		return classify(err, fmt.Sprintf("replacing labels on %s#%d", repoFullName, number))
	}

	return nil
}

// EditPullRequest patches title, body, and/or state; nil fields are left
// unchanged on the remote.
func (c *Client) EditPullRequest(ctx context.Context, repoFullName string, number int, title, body *string, state *model.PRState) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	patch := &gh.PullRequest{Title: title, Body: body}
	if state != nil {
		patch.State = gh.Ptr(string(*state))
	}

	_, _, err = c.gh.PullRequests.Edit(ctx, owner, repo, number, patch)
	if err != nil {
		return classify(err, fmt.Sprintf("editing %s#%d", repoFullName, number))
	}

	return nil
}

// MergePullRequest merges the PR with the given method ("merge", "squash",
// or "rebase").
func (c *Client) MergePullRequest(ctx context.Context, repoFullName string, number int, method string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	opts := &gh.PullRequestOptions{MergeMethod: method}
	result, _, err := c.gh.PullRequests.Merge(ctx, owner, repo, number, "", opts)
	if err != nil {
		return classify(err, fmt.Sprintf("merging %s#%d", repoFullName, number))
	}

	if !result.GetMerged() {
		return fmt.Errorf("merging %s#%d: remote declined: %s", repoFullName, number, result.GetMessage())
	}

	return nil
}

// UpdateBranch asks the remote to update the PR branch from its base.
// GitHub answers 202 Accepted, which go-github surfaces as AcceptedError;
// that is success here.
func (c *Client) UpdateBranch(ctx context.Context, repoFullName string, number int) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, _, err = c.gh.PullRequests.UpdateBranch(ctx, owner, repo, number, nil)
	if err != nil {
		var accepted *gh.AcceptedError
		if errors.As(err, &accepted) {
			return nil
		}
		return classify(err, fmt.Sprintf("updating branch for %s#%d", repoFullName, number))
	}

	return nil
}
