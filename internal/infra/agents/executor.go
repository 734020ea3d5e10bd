package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/telemetry"
)

// OperationHandler implements one agent operation in process.
type OperationHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// LocalExecutor tracks agent lifecycle and dispatches operations to
// registered in-process handlers. Operations with no handler fail
// with a typed error so callers can tell "not wired" from "broken".
type LocalExecutor struct {
	roster *Roster
	logger *zap.Logger

	mu       sync.RWMutex
	running  map[string]bool
	handlers map[string]OperationHandler
}

type LocalExecutorOptions struct {
	Roster *Roster
	Logger *zap.Logger
}

func NewLocalExecutor(opts LocalExecutorOptions) *LocalExecutor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	roster := opts.Roster
	if roster == nil {
		roster = DefaultRoster()
	}
	return &LocalExecutor{
		roster:   roster,
		logger:   logger.Named("agents"),
		running:  make(map[string]bool),
		handlers: make(map[string]OperationHandler),
	}
}

// Handle registers the in-process implementation of one operation.
func (e *LocalExecutor) Handle(agentID, operation string, handler OperationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[handlerKey(agentID, operation)] = handler
}

func (e *LocalExecutor) StartAgent(ctx context.Context, id string) error {
	agent, ok := e.roster.Lookup(id)
	if !ok {
		return fmt.Errorf("start agent %q: %w", id, domain.ErrAgentNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[id] {
		return nil
	}
	e.running[id] = true
	e.logger.Info("agent started",
		telemetry.AgentField(agent.ID),
		zap.Int("priority", agent.Priority),
		zap.Bool("privileged", agent.RunOnConnection))
	return nil
}

func (e *LocalExecutor) StopAgent(_ context.Context, id string) error {
	if _, ok := e.roster.Lookup(id); !ok {
		return fmt.Errorf("stop agent %q: %w", id, domain.ErrAgentNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running[id] {
		return nil
	}
	delete(e.running, id)
	e.logger.Info("agent stopped", telemetry.AgentField(id))
	return nil
}

func (e *LocalExecutor) Running(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running[id]
}

func (e *LocalExecutor) Execute(ctx context.Context, id, operation string, args json.RawMessage) (json.RawMessage, error) {
	agent, ok := e.roster.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("execute %s.%s: %w", id, operation, domain.ErrAgentNotFound)
	}
	if !contains(agent.Operations, operation) {
		return nil, fmt.Errorf("execute %s.%s: %w", id, operation, domain.ErrInvalidParams)
	}
	if !e.Running(id) {
		if err := e.StartAgent(ctx, id); err != nil {
			return nil, err
		}
	}

	e.mu.RLock()
	handler := e.handlers[handlerKey(id, operation)]
	e.mu.RUnlock()
	if handler == nil {
		return nil, domain.E(domain.CodeUnavailable, "agents.execute",
			fmt.Sprintf("agent %s has no handler for %s", id, operation), nil)
	}
	return handler(ctx, args)
}

func handlerKey(agentID, operation string) string {
	return agentID + "." + operation
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
