package graph

import (
	"fmt"
	"sync"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
)

// Registry maps graph IDs to graph definitions. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewRegistry creates an empty graph registry.
func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]*Graph)}
}

// Register validates and adds a graph. Re-registering an ID replaces
// the previous definition.
func (r *Registry) Register(g *Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[g.ID] = g
	return nil
}

// MustRegister is Register that panics on error. Intended for
// registering static graph definitions at startup.
func (r *Registry) MustRegister(g *Graph) {
	if err := r.Register(g); err != nil {
		panic(err)
	}
}

// Get returns the graph for the given ID.
func (r *Registry) Get(graphID string) (*Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[graphID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", prfactory.ErrGraphNotFound, graphID)
	}
	return g, nil
}

// IDs returns all registered graph IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	return ids
}
