// Package state defines the finite state machine for work item phases:
// the fixed phase enumeration and the table of legal transitions between
// them. Every mutation of a work item's phase must go through Transition
// so illegal states can never be persisted.
package state

import "fmt"

// Phase is the lifecycle phase of a work item.
type Phase string

// Phase constants for the ticket → analysis → plan → implementation process.
const (
	Triggered            Phase = "triggered"
	Analyzing            Phase = "analyzing"
	QuestionsPosted      Phase = "questions_posted"
	AwaitingAnswers      Phase = "awaiting_answers"
	AnswersReceived      Phase = "answers_received"
	Planning             Phase = "planning"
	PlanPosted           Phase = "plan_posted"
	PlanUnderReview      Phase = "plan_under_review"
	PlanApproved         Phase = "plan_approved"
	PlanRejected         Phase = "plan_rejected"
	Implementing         Phase = "implementing"
	ImplementationFailed Phase = "implementation_failed"
	PRCreated            Phase = "pr_created"
	InReview             Phase = "in_review"
	Completed            Phase = "completed"
	Cancelled            Phase = "cancelled"
	Failed               Phase = "failed"
)

// transitions maps each phase to its legal successors.
// PlanRejected → Planning and InReview → Implementing are the only
// back-edges; they model bounded retry loops capped by the engine
// configuration, not by this table.
var transitions = map[Phase][]Phase{
	Triggered:            {Analyzing, Cancelled, Failed},
	Analyzing:            {QuestionsPosted, Cancelled, Failed},
	QuestionsPosted:      {AwaitingAnswers, Cancelled, Failed},
	AwaitingAnswers:      {AnswersReceived, Cancelled, Failed},
	AnswersReceived:      {Planning, Cancelled, Failed},
	Planning:             {PlanPosted, Cancelled, Failed},
	PlanPosted:           {PlanUnderReview, Cancelled, Failed},
	PlanUnderReview:      {PlanApproved, PlanRejected, Cancelled, Failed},
	PlanApproved:         {Implementing, Cancelled, Failed},
	PlanRejected:         {Planning, Cancelled, Failed},
	Implementing:         {PRCreated, ImplementationFailed, Cancelled, Failed},
	ImplementationFailed: {Cancelled, Failed},
	PRCreated:            {InReview, Cancelled, Failed},
	InReview:             {Completed, Implementing, Cancelled, Failed},
	Completed:            {},
	Cancelled:            {},
	Failed:               {},
}

// InvalidTransitionError reports an attempt to move a work item along an
// edge the transition table does not declare.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("state: invalid transition %q → %q", e.From, e.To)
}

// Transition validates that moving from one phase to another is legal.
// It returns an *InvalidTransitionError if the edge is not declared.
// It never coerces: an illegal request is rejected, not adjusted.
func Transition(from, to Phase) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// CanTransition reports whether the edge from → to is declared legal.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Successors returns a copy of the legal successor set for a phase.
func Successors(p Phase) []Phase {
	succ := transitions[p]
	out := make([]Phase, len(succ))
	copy(out, succ)
	return out
}

// IsValid reports whether p is a known phase.
func IsValid(p Phase) bool {
	_, ok := transitions[p]
	return ok
}

// IsTerminal reports whether p has no successors. Terminal work items are
// soft-archived, never deleted.
func IsTerminal(p Phase) bool {
	succ, ok := transitions[p]
	return ok && len(succ) == 0
}

// IsSuspended reports whether p is a phase in which the work item is
// parked waiting for an external event (a resume payload).
func IsSuspended(p Phase) bool {
	switch p {
	case AwaitingAnswers, PlanUnderReview, InReview:
		return true
	default:
		return false
	}
}

// IsStartable reports whether a work item in phase p is ready for a fresh
// graph run (as opposed to a resume).
func IsStartable(p Phase) bool {
	switch p {
	case Triggered, AnswersReceived, PlanApproved, PlanRejected:
		return true
	default:
		return false
	}
}
