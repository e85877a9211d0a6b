package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikaelliljedahl/PRFactory-sub003/collab"
	"github.com/mikaelliljedahl/PRFactory-sub003/graph"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// cannotImplementMarker is the structured refusal the completion service
// returns when the approved plan cannot be applied to the repository.
const cannotImplementMarker = "CANNOT_IMPLEMENT"

// changeset is the structured result of applying a plan.
type changeset struct {
	Files   []string `json:"files"`
	Summary string   `json:"summary"`
}

// Implementation builds the implementation graph: branch, apply the
// approved plan, commit, push, open a pull request, and suspend while
// the PR is in review. Requested changes loop back to apply_plan with
// the reviewer's feedback; one round past MaxReworkCycles forces the
// work item to Failed.
func Implementation(d Deps) *graph.Graph {
	return graph.New(ImplementationGraphID,
		graph.Step{Name: "prepare_branch", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			if err := w.SetPhase(state.Implementing); err != nil {
				return graph.Decision{}, err
			}

			var issue collab.Issue
			if err := ex.Get(keyIssue, &issue); err != nil {
				return graph.Decision{}, err
			}
			workdir, err := d.Source.Clone(ctx, issue.RepoRef)
			if err != nil {
				return graph.Decision{}, fmt.Errorf("clone %s: %w", issue.RepoRef, err)
			}

			branch := "prfactory/" + strings.ToLower(w.ExternalKey)
			if err := d.Source.CreateBranch(ctx, workdir, branch); err != nil {
				return graph.Decision{}, fmt.Errorf("create branch %s: %w", branch, err)
			}

			if err := ex.Put(keyWorkdir, workdir); err != nil {
				return graph.Decision{}, err
			}
			return graph.Decision{}, ex.Put(keyBranch, branch)
		}},

		graph.Step{Name: "apply_plan", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			var plan string
			if err := ex.Get(keyPlan, &plan); err != nil {
				return graph.Decision{}, err
			}

			prompt := "Apply this plan to the working copy and respond with JSON " +
				`{"files": [...], "summary": "..."} listing the files you changed.` + "\n\n" + plan
			if ex.Has(keyFeedback) {
				var feedback string
				if err := ex.Get(keyFeedback, &feedback); err != nil {
					return graph.Decision{}, err
				}
				prompt += "\n\nAddress this review feedback:\n" + feedback
			}

			raw, err := d.Completion.Complete(ctx, prompt, "")
			if err != nil {
				return graph.Decision{}, fmt.Errorf("apply plan: %w", err)
			}

			if strings.HasPrefix(strings.TrimSpace(raw), cannotImplementMarker) {
				// A structured refusal, not a transient fault. Park the
				// item for an operator to cancel or fail.
				w.LastError = strings.TrimSpace(raw)
				return graph.Decision{Halt: true}, w.SetPhase(state.ImplementationFailed)
			}

			var cs changeset
			if err := json.Unmarshal([]byte(raw), &cs); err != nil {
				return graph.Decision{}, fmt.Errorf("apply plan: parse changeset: %w", err)
			}
			if len(cs.Files) == 0 {
				return graph.Decision{}, fmt.Errorf("apply plan: changeset lists no files")
			}
			return graph.Decision{}, ex.Put(keyChangeset, cs)
		}},

		graph.Step{Name: "commit_changes", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			var workdir string
			if err := ex.Get(keyWorkdir, &workdir); err != nil {
				return graph.Decision{}, err
			}
			var cs changeset
			if err := ex.Get(keyChangeset, &cs); err != nil {
				return graph.Decision{}, err
			}

			message := fmt.Sprintf("%s: %s", w.ExternalKey, cs.Summary)
			if err := d.Source.CommitFiles(ctx, workdir, message, cs.Files); err != nil {
				return graph.Decision{}, fmt.Errorf("commit changes: %w", err)
			}
			return graph.Decision{}, nil
		}},

		graph.Step{Name: "push_branch", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			var workdir, branch string
			if err := ex.Get(keyWorkdir, &workdir); err != nil {
				return graph.Decision{}, err
			}
			if err := ex.Get(keyBranch, &branch); err != nil {
				return graph.Decision{}, err
			}
			if err := d.Source.Push(ctx, workdir, branch); err != nil {
				return graph.Decision{}, fmt.Errorf("push branch %s: %w", branch, err)
			}
			return graph.Decision{}, nil
		}},

		graph.Step{Name: "create_pr", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			var issue collab.Issue
			if err := ex.Get(keyIssue, &issue); err != nil {
				return graph.Decision{}, err
			}
			var branch string
			if err := ex.Get(keyBranch, &branch); err != nil {
				return graph.Decision{}, err
			}
			var cs changeset
			if err := ex.Get(keyChangeset, &cs); err != nil {
				return graph.Decision{}, err
			}

			title := fmt.Sprintf("%s: %s", w.ExternalKey, issue.Title)
			pr, err := d.Source.CreatePullRequest(ctx, issue.RepoRef, branch, title, cs.Summary)
			if err != nil {
				return graph.Decision{}, fmt.Errorf("create pull request: %w", err)
			}
			if err := d.Ticketing.PostComment(ctx, w.ExternalKey, "Opened pull request "+pr.URL); err != nil {
				return graph.Decision{}, fmt.Errorf("announce pull request: %w", err)
			}

			if err := ex.Put(keyPR, pr); err != nil {
				return graph.Decision{}, err
			}
			return graph.Decision{}, w.SetPhase(state.PRCreated)
		}},

		graph.Step{Name: "enter_review", Run: func(_ context.Context, ex *graph.Execution) (graph.Decision, error) {
			return graph.Decision{Suspend: true}, ex.Item().SetPhase(state.InReview)
		}},

		graph.Step{Name: "review_outcome", Run: func(_ context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			reply, err := parseReply(ex.ResumePayload())
			if err != nil {
				return graph.Decision{}, err
			}

			if reply.Approved {
				return graph.Decision{}, w.SetPhase(state.Completed)
			}

			// Requested changes: rework on the same branch.
			var rework int
			if ex.Has(keyRework) {
				if err := ex.Get(keyRework, &rework); err != nil {
					return graph.Decision{}, err
				}
			}
			rework++
			if err := ex.Put(keyRework, rework); err != nil {
				return graph.Decision{}, err
			}
			if err := ex.Put(keyFeedback, reply.Feedback); err != nil {
				return graph.Decision{}, err
			}

			if rework > d.MaxReworkCycles {
				w.LastError = fmt.Sprintf("changes requested %d times, cap is %d", rework, d.MaxReworkCycles)
				return graph.Decision{Halt: true}, w.SetPhase(state.Failed)
			}

			if err := w.SetPhase(state.Implementing); err != nil {
				return graph.Decision{}, err
			}
			return graph.Decision{NextStep: "apply_plan"}, nil
		}},
	)
}
