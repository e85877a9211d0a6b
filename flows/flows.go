package flows

import (
	"encoding/json"
	"fmt"

	"github.com/mikaelliljedahl/PRFactory-sub003/collab"
	"github.com/mikaelliljedahl/PRFactory-sub003/graph"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// Graph IDs. Recorded on checkpoints and requests; stable forever.
const (
	RefinementGraphID     = "refinement"
	PlanningGraphID       = "planning"
	ImplementationGraphID = "implementation"
)

// State bag keys shared between steps.
const (
	keyIssue      = "issue"
	keyWorkdir    = "workdir"
	keyAnalysis   = "analysis"
	keyQuestions  = "questions"
	keyAnswers    = "answers"
	keyPlan       = "plan"
	keyRejections = "rejections"
	keyRework     = "rework_cycles"
	keyBranch     = "branch"
	keyChangeset  = "changeset"
	keyFeedback   = "feedback"
	keyPR         = "pr"
)

// Deps are the external collaborators and tenant policy the flows use.
type Deps struct {
	Ticketing  collab.Ticketing
	Source     collab.SourceControl
	Completion collab.Completion

	// MaxPlanRejections caps the plan rejection loop. One more
	// rejection forces the work item to Failed.
	MaxPlanRejections int

	// MaxReworkCycles caps the pull request rework loop. One more
	// requested-changes round forces the work item to Failed.
	MaxReworkCycles int

	// AutoImplement starts the implementation graph automatically after
	// plan approval. When false the item parks in PlanApproved until an
	// operator starts implementation explicitly.
	AutoImplement bool
}

func (d Deps) validate() error {
	if d.Ticketing == nil {
		return fmt.Errorf("flows: nil Ticketing")
	}
	if d.Source == nil {
		return fmt.Errorf("flows: nil SourceControl")
	}
	if d.Completion == nil {
		return fmt.Errorf("flows: nil Completion")
	}
	if d.MaxPlanRejections <= 0 {
		return fmt.Errorf("flows: MaxPlanRejections must be positive, got %d", d.MaxPlanRejections)
	}
	if d.MaxReworkCycles <= 0 {
		return fmt.Errorf("flows: MaxReworkCycles must be positive, got %d", d.MaxReworkCycles)
	}
	return nil
}

// RegisterAll registers the refinement, planning, and implementation
// graphs on the registry.
func RegisterAll(reg *graph.Registry, d Deps) error {
	if err := d.validate(); err != nil {
		return err
	}
	for _, g := range []*graph.Graph{Refinement(d), Planning(d), Implementation(d)} {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// NextGraph maps the phase a completed run left the work item in to the
// graph that should start next. Empty means nothing starts
// automatically: the item is terminal, suspended, or waiting for an
// operator decision.
func NextGraph(p state.Phase, autoImplement bool) string {
	switch p {
	case state.AnswersReceived:
		return PlanningGraphID
	case state.PlanApproved:
		if autoImplement {
			return ImplementationGraphID
		}
	}
	return ""
}

// GraphForPhase returns the graph a startable work item in phase p runs.
// Used when an operator (or the trigger path) enqueues a start request.
func GraphForPhase(p state.Phase) (string, error) {
	switch p {
	case state.Triggered:
		return RefinementGraphID, nil
	case state.AnswersReceived:
		return PlanningGraphID, nil
	case state.PlanRejected:
		return PlanningGraphID, nil
	case state.PlanApproved:
		return ImplementationGraphID, nil
	default:
		return "", fmt.Errorf("flows: phase %q is not startable", p)
	}
}

// ResumeGraphForPhase returns the graph a suspended work item in phase p
// resumes into. Used by the webhook adapter to attach an inbound reply
// to the right graph.
func ResumeGraphForPhase(p state.Phase) (string, error) {
	switch p {
	case state.AwaitingAnswers:
		return RefinementGraphID, nil
	case state.PlanUnderReview:
		return PlanningGraphID, nil
	case state.InReview:
		return ImplementationGraphID, nil
	default:
		return "", fmt.Errorf("flows: phase %q is not suspended", p)
	}
}

// parseReply decodes the structured reply carried by a resume payload.
func parseReply(payload []byte) (*collab.Reply, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("flows: empty resume payload")
	}
	var reply collab.Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("flows: parse resume payload: %w", err)
	}
	return &reply, nil
}
