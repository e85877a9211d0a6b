package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikaelliljedahl/PRFactory-sub003/graph"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// Planning builds the planning graph: draft an implementation plan from
// the analysis and answers, post it for review, and suspend until the
// reviewer approves or rejects. A rejection loops back to drafting with
// the reviewer's feedback; one rejection past MaxPlanRejections forces
// the work item to Failed.
func Planning(d Deps) *graph.Graph {
	return graph.New(PlanningGraphID,
		graph.Step{Name: "draft_plan", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			if err := w.SetPhase(state.Planning); err != nil {
				return graph.Decision{}, err
			}

			var analysis string
			if ex.Has(keyAnalysis) {
				if err := ex.Get(keyAnalysis, &analysis); err != nil {
					return graph.Decision{}, err
				}
			}
			var answers map[string]string
			if ex.Has(keyAnswers) {
				if err := ex.Get(keyAnswers, &answers); err != nil {
					return graph.Decision{}, err
				}
			}

			var sb strings.Builder
			sb.WriteString("Draft a step-by-step implementation plan for ticket ")
			sb.WriteString(w.ExternalKey)
			sb.WriteString(".\n")
			for q, a := range answers {
				fmt.Fprintf(&sb, "\nQ: %s\nA: %s\n", q, a)
			}
			if ex.Has(keyFeedback) {
				var feedback string
				if err := ex.Get(keyFeedback, &feedback); err != nil {
					return graph.Decision{}, err
				}
				sb.WriteString("\nThe previous plan was rejected with this feedback:\n")
				sb.WriteString(feedback)
			}

			plan, err := d.Completion.Complete(ctx, sb.String(), analysis)
			if err != nil {
				return graph.Decision{}, fmt.Errorf("draft plan: %w", err)
			}
			return graph.Decision{}, ex.Put(keyPlan, plan)
		}},

		graph.Step{Name: "post_plan", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			var plan string
			if err := ex.Get(keyPlan, &plan); err != nil {
				return graph.Decision{}, err
			}
			if err := d.Ticketing.PostComment(ctx, w.ExternalKey, "Proposed plan:\n\n"+plan); err != nil {
				return graph.Decision{}, fmt.Errorf("post plan on %s: %w", w.ExternalKey, err)
			}
			return graph.Decision{}, w.SetPhase(state.PlanPosted)
		}},

		graph.Step{Name: "awaiting_review", Run: func(_ context.Context, ex *graph.Execution) (graph.Decision, error) {
			return graph.Decision{Suspend: true}, ex.Item().SetPhase(state.PlanUnderReview)
		}},

		graph.Step{Name: "review_verdict", Run: func(_ context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			reply, err := parseReply(ex.ResumePayload())
			if err != nil {
				return graph.Decision{}, err
			}

			if reply.Approved {
				return graph.Decision{}, w.SetPhase(state.PlanApproved)
			}

			var rejections int
			if ex.Has(keyRejections) {
				if err := ex.Get(keyRejections, &rejections); err != nil {
					return graph.Decision{}, err
				}
			}
			rejections++
			if err := ex.Put(keyRejections, rejections); err != nil {
				return graph.Decision{}, err
			}
			if err := ex.Put(keyFeedback, reply.Feedback); err != nil {
				return graph.Decision{}, err
			}

			if rejections > d.MaxPlanRejections {
				w.LastError = fmt.Sprintf("plan rejected %d times, cap is %d", rejections, d.MaxPlanRejections)
				return graph.Decision{Halt: true}, w.SetPhase(state.Failed)
			}

			if err := w.SetPhase(state.PlanRejected); err != nil {
				return graph.Decision{}, err
			}
			return graph.Decision{NextStep: "draft_plan"}, nil
		}},
	)
}
