package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikaelliljedahl/PRFactory-sub003/collab"
	"github.com/mikaelliljedahl/PRFactory-sub003/graph"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// Refinement builds the refinement graph: fetch and analyze the ticket,
// generate clarifying questions, post them, and suspend until the
// reporter answers.
func Refinement(d Deps) *graph.Graph {
	return graph.New(RefinementGraphID,
		graph.Step{Name: "clone", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			if err := w.SetPhase(state.Analyzing); err != nil {
				return graph.Decision{}, err
			}

			issue, err := d.Ticketing.FetchIssue(ctx, w.ExternalKey)
			if err != nil {
				return graph.Decision{}, fmt.Errorf("fetch issue %s: %w", w.ExternalKey, err)
			}
			workdir, err := d.Source.Clone(ctx, issue.RepoRef)
			if err != nil {
				return graph.Decision{}, fmt.Errorf("clone %s: %w", issue.RepoRef, err)
			}

			if err := ex.Put(keyIssue, issue); err != nil {
				return graph.Decision{}, err
			}
			return graph.Decision{}, ex.Put(keyWorkdir, workdir)
		}},

		graph.Step{Name: "analyze", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			var issue collab.Issue
			if err := ex.Get(keyIssue, &issue); err != nil {
				return graph.Decision{}, err
			}

			prompt := fmt.Sprintf("Analyze this ticket and summarize the requested change.\n\nTitle: %s\n\n%s", issue.Title, issue.Description)
			analysis, err := d.Completion.Complete(ctx, prompt, issue.RepoRef)
			if err != nil {
				return graph.Decision{}, fmt.Errorf("analyze issue: %w", err)
			}
			return graph.Decision{}, ex.Put(keyAnalysis, analysis)
		}},

		graph.Step{Name: "generate_questions", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			var analysis string
			if err := ex.Get(keyAnalysis, &analysis); err != nil {
				return graph.Decision{}, err
			}

			prompt := "List the clarifying questions that must be answered before planning, one per line.\n\n" + analysis
			raw, err := d.Completion.Complete(ctx, prompt, "")
			if err != nil {
				return graph.Decision{}, fmt.Errorf("generate questions: %w", err)
			}

			var questions []string
			for _, line := range strings.Split(raw, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					questions = append(questions, line)
				}
			}
			if len(questions) == 0 {
				return graph.Decision{}, fmt.Errorf("generate questions: empty question list")
			}
			return graph.Decision{}, ex.Put(keyQuestions, questions)
		}},

		graph.Step{Name: "post_questions", Run: func(ctx context.Context, ex *graph.Execution) (graph.Decision, error) {
			w := ex.Item()
			var questions []string
			if err := ex.Get(keyQuestions, &questions); err != nil {
				return graph.Decision{}, err
			}

			text := "Before planning, please answer:\n\n- " + strings.Join(questions, "\n- ")
			if err := d.Ticketing.PostComment(ctx, w.ExternalKey, text); err != nil {
				return graph.Decision{}, fmt.Errorf("post questions on %s: %w", w.ExternalKey, err)
			}
			return graph.Decision{}, w.SetPhase(state.QuestionsPosted)
		}},

		graph.Step{Name: "awaiting_answers", Run: func(_ context.Context, ex *graph.Execution) (graph.Decision, error) {
			return graph.Decision{Suspend: true}, ex.Item().SetPhase(state.AwaitingAnswers)
		}},

		graph.Step{Name: "ingest_answers", Run: func(_ context.Context, ex *graph.Execution) (graph.Decision, error) {
			reply, err := parseReply(ex.ResumePayload())
			if err != nil {
				return graph.Decision{}, err
			}
			if len(reply.Answers) == 0 {
				return graph.Decision{}, fmt.Errorf("flows: reply carries no answers")
			}
			if err := ex.Put(keyAnswers, reply.Answers); err != nil {
				return graph.Decision{}, err
			}
			return graph.Decision{}, ex.Item().SetPhase(state.AnswersReceived)
		}},
	)
}
