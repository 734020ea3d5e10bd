// Package agents defines the agent roster and the lifecycle contract
// for agent-backed tools. Concrete agent services are external
// collaborators reached through the Executor interface.
package agents

import (
	"context"
	"encoding/json"
	"sort"
)

// Agent describes one roster entry. RunOnConnection agents are
// privileged: sessions start them eagerly in priority order. The
// rest start lazily on first use.
type Agent struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Operations      []string `json:"operations"`
	Category        string   `json:"category"`
	Priority        int      `json:"priority"`
	RunOnConnection bool     `json:"run_on_connection"`
}

// Executor reaches the agent runtime. Execute dispatches one named
// operation; Running reports whether an agent has been started.
type Executor interface {
	StartAgent(ctx context.Context, id string) error
	StopAgent(ctx context.Context, id string) error
	Execute(ctx context.Context, id, operation string, args json.RawMessage) (json.RawMessage, error)
	Running(id string) bool
}

// Roster holds the known agents keyed by id.
type Roster struct {
	byID  map[string]Agent
	order []Agent
}

func NewRoster(agents []Agent) *Roster {
	byID := make(map[string]Agent, len(agents))
	order := make([]Agent, len(agents))
	copy(order, agents)
	sort.Slice(order, func(i, j int) bool {
		if order[i].Priority != order[j].Priority {
			return order[i].Priority > order[j].Priority
		}
		return order[i].ID < order[j].ID
	})
	for _, agent := range order {
		byID[agent.ID] = agent
	}
	return &Roster{byID: byID, order: order}
}

// Lookup finds an agent by id.
func (r *Roster) Lookup(id string) (Agent, bool) {
	agent, ok := r.byID[id]
	return agent, ok
}

// All returns every agent, highest priority first.
func (r *Roster) All() []Agent {
	out := make([]Agent, len(r.order))
	copy(out, r.order)
	return out
}

// Privileged returns the run-on-connection agents in start order.
func (r *Roster) Privileged() []Agent {
	var out []Agent
	for _, agent := range r.order {
		if agent.RunOnConnection {
			out = append(out, agent)
		}
	}
	return out
}

// DefaultRoster is the stock agent set. Priorities decide the eager
// start order at session open.
func DefaultRoster() *Roster {
	return NewRoster([]Agent{
		{ID: "rust_pro", Name: "Rust Pro", Description: "Systems programming specialist", Operations: []string{"review", "implement", "explain"}, Category: "development", Priority: 100, RunOnConnection: true},
		{ID: "backend_architect", Name: "Backend Architect", Description: "Service and API design", Operations: []string{"design", "review"}, Category: "development", Priority: 99, RunOnConnection: true},
		{ID: "sequential_thinking", Name: "Sequential Thinking", Description: "Step-by-step reasoning scratchpad", Operations: []string{"think", "revise", "branch"}, Category: "reasoning", Priority: 98, RunOnConnection: true},
		{ID: "memory", Name: "Memory", Description: "Session knowledge graph", Operations: []string{"store", "recall", "forget"}, Category: "memory", Priority: 97, RunOnConnection: true},
		{ID: "context_manager", Name: "Context Manager", Description: "Working-set curation", Operations: []string{"summarize", "prune"}, Category: "memory", Priority: 96, RunOnConnection: true},
		{ID: "mem0", Name: "Mem0", Description: "Long-term memory store", Operations: []string{"add", "search"}, Category: "memory", Priority: 80},
		{ID: "search_specialist", Name: "Search Specialist", Description: "Web and docs search", Operations: []string{"search", "summarize"}, Category: "documentation", Priority: 75},
		{ID: "python_pro", Name: "Python Pro", Description: "Python implementation help", Operations: []string{"review", "implement"}, Category: "development", Priority: 70},
		{ID: "debugger", Name: "Debugger", Description: "Failure triage", Operations: []string{"diagnose", "bisect"}, Category: "diagnostics", Priority: 70},
		{ID: "deployment", Name: "Deployment", Description: "Release and rollout", Operations: []string{"plan", "apply"}, Category: "system", Priority: 60},
		{ID: "prompt_engineer", Name: "Prompt Engineer", Description: "Prompt refinement", Operations: []string{"rewrite", "critique"}, Category: "reasoning", Priority: 50},
	})
}
