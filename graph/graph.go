package graph

import (
	"context"
	"fmt"
)

// Decision is a step's verdict on how the run proceeds.
type Decision struct {
	// NextStep names the step to execute next, overriding graph order.
	// Empty means the next step in declaration order. The named step
	// must exist in the graph.
	NextStep string

	// Suspend pauses the run after this step. A checkpoint pointing at
	// the following step is persisted and the run waits for an external
	// resume.
	Suspend bool

	// Halt ends the run successfully after this step without executing
	// the remaining steps. Used when a step decides the graph's work is
	// done early (or cannot proceed and has parked the item in a phase
	// that says so).
	Halt bool
}

// StepFunc executes one step of a graph. Steps read and write the
// execution's state bag and may change the work item's phase through
// Execution.Item. Returning an error aborts the run at the step
// boundary; the runner never retries internally.
type StepFunc func(ctx context.Context, ex *Execution) (Decision, error)

// Step is a named unit of work within a graph.
type Step struct {
	Name string
	Run  StepFunc
}

// Graph is an ordered sequence of steps identified by a stable ID.
// The ID is recorded on checkpoints and requests, so it must not change
// once runs exist for it.
type Graph struct {
	ID    string
	Steps []Step
}

// New creates a graph from the given steps.
func New(id string, steps ...Step) *Graph {
	return &Graph{ID: id, Steps: steps}
}

// Validate checks the graph is well-formed: a non-empty ID, at least
// one step, and unique non-empty step names.
func (g *Graph) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("graph: empty graph ID")
	}
	if len(g.Steps) == 0 {
		return fmt.Errorf("graph %q: no steps", g.ID)
	}
	seen := make(map[string]struct{}, len(g.Steps))
	for _, s := range g.Steps {
		if s.Name == "" {
			return fmt.Errorf("graph %q: step with empty name", g.ID)
		}
		if s.Run == nil {
			return fmt.Errorf("graph %q: step %q has no handler", g.ID, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("graph %q: duplicate step %q", g.ID, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// stepIndex returns the position of the named step, or -1.
func (g *Graph) stepIndex(name string) int {
	for i, s := range g.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}
