package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/agents"
	"opmcpd/internal/infra/discovery"
	"opmcpd/internal/infra/extproc"
	"opmcpd/internal/infra/telemetry"
)

// Registry resolves catalog snapshots into request contexts. Builtin
// and opaque-source handlers are registered up front; external and
// agent tools resolve to live handles at context creation.
type Registry struct {
	discovery *discovery.System
	external  *extproc.Manager
	roster    *agents.Roster
	executor  agents.Executor
	logger    *zap.Logger
	metrics   domain.Metrics
	maxTurns  int

	mu       sync.RWMutex
	handlers map[string]domain.Invoker

	active atomic.Int64
}

type Options struct {
	Discovery *discovery.System
	External  *extproc.Manager
	Roster    *agents.Roster
	Executor  agents.Executor
	Logger    *zap.Logger
	Metrics   domain.Metrics
	MaxTurns  int
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	roster := opts.Roster
	if roster == nil {
		roster = agents.DefaultRoster()
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = domain.DefaultMaxTurns
	}
	return &Registry{
		discovery: opts.Discovery,
		external:  opts.External,
		roster:    roster,
		executor:  opts.Executor,
		logger:    logger.Named("registry"),
		metrics:   metrics,
		maxTurns:  maxTurns,
		handlers:  make(map[string]domain.Invoker),
	}
}

// RegisterHandler wires the in-process implementation behind a
// catalog tool (builtin, bus-backed, or plugin-backed).
func (r *Registry) RegisterHandler(invoker domain.Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[invoker.Definition().Name] = invoker
}

// NewRequestContext resolves the full catalog into a request context.
// Every tool the request may call binds here; nothing resolves later.
func (r *Registry) NewRequestContext(ctx context.Context) (*RequestContext, error) {
	snapshot, err := r.discovery.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog: %w", err)
	}

	r.mu.RLock()
	handlers := make(map[string]domain.Invoker, len(r.handlers))
	for name, invoker := range r.handlers {
		handlers[name] = invoker
	}
	r.mu.RUnlock()

	invokers := make(map[string]domain.Invoker, len(snapshot.Tools))
	for _, def := range snapshot.Tools {
		invokers[def.Name] = r.resolve(def, handlers)
	}

	rc := newRequestContext(invokers, r.maxTurns, r.logger, r.metrics)
	count := r.active.Add(1)
	r.metrics.SetActiveContexts(int(count))
	r.logger.Debug("request context created",
		telemetry.ContextIDField(rc.ID()),
		zap.Int("tools", len(invokers)),
		zap.Uint64("catalog_version", snapshot.Version))
	return rc, nil
}

// Release completes a context and updates the active gauge.
func (r *Registry) Release(rc *RequestContext) {
	if rc == nil {
		return
	}
	rc.Close()
	count := r.active.Add(-1)
	r.metrics.SetActiveContexts(int(count))
}

func (r *Registry) resolve(def domain.ToolDefinition, handlers map[string]domain.Invoker) domain.Invoker {
	switch def.Origin {
	case domain.OriginExternal:
		return r.externalInvoker(def)
	case domain.OriginAgent:
		return r.agentInvoker(def)
	default:
		if handler, ok := handlers[def.Name]; ok {
			return handler
		}
		return unresolvedInvoker(def)
	}
}

func (r *Registry) externalInvoker(def domain.ToolDefinition) domain.Invoker {
	manager := r.external
	return domain.InvokerFunc{
		Def: def,
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			if manager == nil {
				return nil, fmt.Errorf("call %s: %w", def.Name, domain.ErrServerNotFound)
			}
			return manager.CallTool(ctx, def.Name, args)
		},
	}
}

type agentCallArgs struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
}

func (r *Registry) agentInvoker(def domain.ToolDefinition) domain.Invoker {
	executor := r.executor
	return domain.InvokerFunc{
		Def: def,
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			agentID, ok := agents.AgentIDFromTool(def.Name)
			if !ok {
				return nil, fmt.Errorf("call %s: %w", def.Name, domain.ErrAgentNotFound)
			}
			if executor == nil {
				return nil, domain.E(domain.CodeUnavailable, "registry.agent",
					"no agent executor configured", nil)
			}
			var call agentCallArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &call); err != nil {
					return nil, fmt.Errorf("call %s: %w: %s", def.Name, domain.ErrInvalidParams, err)
				}
			}
			if call.Operation == "" {
				return nil, fmt.Errorf("call %s: operation is required: %w", def.Name, domain.ErrInvalidParams)
			}
			return executor.Execute(ctx, agentID, call.Operation, call.Args)
		},
	}
}

func unresolvedInvoker(def domain.ToolDefinition) domain.Invoker {
	return domain.InvokerFunc{
		Def: def,
		Fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, domain.E(domain.CodeUnavailable, "registry.invoke",
				fmt.Sprintf("tool %s has no registered handler", def.Name), nil)
		},
	}
}
