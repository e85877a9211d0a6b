package graph

import (
	"encoding/json"
	"fmt"

	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

// Execution is the context passed to step functions. It carries the
// work item being processed and the state bag that survives suspension
// through the checkpoint store.
type Execution struct {
	workItem *item.WorkItem
	bag      map[string]json.RawMessage

	resumed bool
	payload []byte
}

// newExecution creates a fresh execution. seed, when non-empty, is a
// serialized state bag carried over from a predecessor graph's final
// checkpoint.
func newExecution(w *item.WorkItem, seed []byte) (*Execution, error) {
	ex := &Execution{
		workItem: w,
		bag:      make(map[string]json.RawMessage),
	}
	if len(seed) > 0 {
		if err := json.Unmarshal(seed, &ex.bag); err != nil {
			return nil, fmt.Errorf("graph: seed state for %s: %w", w.ID, err)
		}
	}
	return ex, nil
}

// restoreExecution rebuilds an execution from checkpointed state and
// attaches the resume payload delivered by the external event.
func restoreExecution(w *item.WorkItem, stateJSON, payload []byte) (*Execution, error) {
	ex := &Execution{
		workItem: w,
		bag:      make(map[string]json.RawMessage),
		resumed:  true,
		payload:  payload,
	}
	if len(stateJSON) > 0 {
		if err := json.Unmarshal(stateJSON, &ex.bag); err != nil {
			return nil, fmt.Errorf("graph: restore state for %s: %w", w.ID, err)
		}
	}
	return ex, nil
}

// Item returns the work item under execution. Steps change phase
// through it; the runner persists the item after each step.
func (ex *Execution) Item() *item.WorkItem { return ex.workItem }

// Resumed reports whether this execution was restored from a checkpoint.
func (ex *Execution) Resumed() bool { return ex.resumed }

// ResumePayload returns the raw payload the resume request carried, or
// nil for fresh runs.
func (ex *Execution) ResumePayload() []byte { return ex.payload }

// Put serializes v into the state bag under key.
func (ex *Execution) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("graph: put %q: %w", key, err)
	}
	ex.bag[key] = data
	return nil
}

// Get deserializes the state bag entry for key into v.
// Missing keys return an error; use Has to probe.
func (ex *Execution) Get(key string, v any) error {
	data, ok := ex.bag[key]
	if !ok {
		return fmt.Errorf("graph: state key %q not found", key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("graph: get %q: %w", key, err)
	}
	return nil
}

// Has reports whether the state bag contains key.
func (ex *Execution) Has(key string) bool {
	_, ok := ex.bag[key]
	return ok
}

// Delete removes a key from the state bag.
func (ex *Execution) Delete(key string) {
	delete(ex.bag, key)
}

// marshalState serializes the state bag for checkpointing. Map keys are
// emitted in sorted order, so equal bags produce equal bytes.
func (ex *Execution) marshalState() ([]byte, error) {
	data, err := json.Marshal(ex.bag)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal state for %s: %w", ex.workItem.ID, err)
	}
	return data, nil
}
