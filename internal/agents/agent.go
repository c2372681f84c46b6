// Package agents defines the content-generation collaborators that turn
// parent context into backlog items, and the registry the supervisor
// resolves them from.
package agents

import (
	"context"
	"fmt"
	"sort"
)

// Agent names the supervisor resolves, one per hierarchy level.
const (
	NameEpic    = "epic"
	NameFeature = "feature"
	NameStory   = "story"
	NameTask    = "task"
	NameTest    = "test"
)

// Item is one generated work item record. Title is the only field every
// agent must populate; the rest depend on the level being generated.
type Item struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Acceptance    string   `json:"acceptance_criteria,omitempty"`
	Priority      int      `json:"priority,omitempty"`
	Steps         []string `json:"steps,omitempty"`
	Expected      string   `json:"expected,omitempty"`
	EstimateHours float64  `json:"estimate_hours,omitempty"`
}

// Constraints bound a generation call.
type Constraints struct {
	MaxItems int
	Kind     string // agent name being invoked, for prompt selection
}

// Agent produces backlog items from parent context. Implementations are
// opaque to the supervisor, which only inspects the returned collection.
type Agent interface {
	Generate(ctx context.Context, parentContext string, c Constraints) ([]Item, error)
}

// Registry is an immutable named set of agents, built once per supervisor
// and passed by reference. It is never mutated after construction.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry copies the given map into a Registry.
func NewRegistry(agents map[string]Agent) *Registry {
	m := make(map[string]Agent, len(agents))
	for name, a := range agents {
		m[name] = a
	}
	return &Registry{agents: m}
}

// Get returns the named agent.
func (r *Registry) Get(name string) (Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agents: no agent registered for %q", name)
	}
	return a, nil
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
