// Package collab declares the narrow interfaces the engine consumes from
// its external collaborators: the ticketing system, source control, and
// the AI completion service. Implementations live outside this module;
// every call is synchronous and must respect the caller's context.
//
// Steps may be invoked twice for the same work after a crash between an
// external call and its checkpoint write, so implementations should
// tolerate duplicate invocations (idempotent comments, branches, PRs).
package collab

import "context"

// Issue is the ticket a work item was triggered from.
type Issue struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RepoRef     string `json:"repo_ref"`
}

// Reply is the structured payload parsed from a human comment.
type Reply struct {
	// Answers maps question identifiers to the user's answers.
	Answers map[string]string `json:"answers,omitempty"`
	// Approved reports whether the comment approves the posted plan.
	Approved bool `json:"approved"`
	// Feedback carries free-form reviewer feedback, if any.
	Feedback string `json:"feedback,omitempty"`
}

// Ticketing reads and writes the ticketing system.
type Ticketing interface {
	// FetchIssue retrieves an issue by key.
	FetchIssue(ctx context.Context, key string) (*Issue, error)

	// PostComment posts a comment on the issue.
	PostComment(ctx context.Context, key, text string) error

	// ParseUserReply turns a raw comment into a structured payload.
	// Unparseable replies return an error; they never reach the queue.
	ParseUserReply(ctx context.Context, text string) (*Reply, error)
}

// PullRequest is the result of publishing an implementation branch.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// SourceControl clones, commits, and publishes changes.
type SourceControl interface {
	// Clone checks out the repository and returns a working path.
	Clone(ctx context.Context, repoRef string) (string, error)

	// CreateBranch creates a branch in the working copy.
	CreateBranch(ctx context.Context, path, name string) error

	// CommitFiles stages and commits the given files.
	CommitFiles(ctx context.Context, path, message string, files []string) error

	// Push publishes the branch to the remote.
	Push(ctx context.Context, path, branch string) error

	// CreatePullRequest opens a pull request for the pushed branch.
	CreatePullRequest(ctx context.Context, repoRef, branch, title, body string) (*PullRequest, error)
}

// Completion is the AI completion service: prompt in, text out.
type Completion interface {
	Complete(ctx context.Context, prompt, background string) (string, error)
}
