// Package registry builds request-scoped tool registries. Every tool
// a request may call is resolved when its context is created; nothing
// loads or unloads mid-request, and teardown is the only cleanup.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/telemetry"
)

// ContextState tracks a request context through its lifecycle.
type ContextState string

const (
	ContextReady     ContextState = "ready"
	ContextCompleted ContextState = "completed"
	ContextFailed    ContextState = "failed"
)

// RequestContext is one request's fully resolved tool set plus its
// turn budget. Safe for concurrent use; the turn counter is shared
// across concurrent calls within the same context.
type RequestContext struct {
	id        string
	createdAt time.Time
	maxTurns  uint32
	logger    *zap.Logger
	metrics   domain.Metrics

	turns atomic.Uint32

	mu       sync.RWMutex
	state    ContextState
	invokers map[string]domain.Invoker
	sorted   []domain.ToolDefinition
}

func newRequestContext(invokers map[string]domain.Invoker, maxTurns int, logger *zap.Logger, metrics domain.Metrics) *RequestContext {
	if maxTurns <= 0 {
		maxTurns = domain.DefaultMaxTurns
	}
	sorted := make([]domain.ToolDefinition, 0, len(invokers))
	for _, invoker := range invokers {
		sorted = append(sorted, invoker.Definition())
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	id := uuid.NewString()
	return &RequestContext{
		id:        id,
		createdAt: time.Now(),
		maxTurns:  uint32(maxTurns),
		logger:    logger.With(telemetry.ContextIDField(id)),
		metrics:   metrics,
		state:     ContextReady,
		invokers:  invokers,
		sorted:    sorted,
	}
}

func (rc *RequestContext) ID() string           { return rc.id }
func (rc *RequestContext) CreatedAt() time.Time { return rc.createdAt }

// Turns returns how many calls have been consumed.
func (rc *RequestContext) Turns() int { return int(rc.turns.Load()) }

// MaxTurns returns the ceiling.
func (rc *RequestContext) MaxTurns() int { return int(rc.maxTurns) }

// State returns the current lifecycle state.
func (rc *RequestContext) State() ContextState {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.state
}

// ToolCount returns the number of resolved tools.
func (rc *RequestContext) ToolCount() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.sorted)
}

// List pages over the resolved tool set with a stable name sort.
func (rc *RequestContext) List(offset, limit int, category string) domain.Page {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	tools := rc.sorted
	if category != "" {
		tools = nil
		for _, tool := range rc.sorted {
			if tool.Category == category {
				tools = append(tools, tool)
			}
		}
	}
	snap := domain.Snapshot{Tools: tools}
	return snap.Page(offset, limit)
}

// Search filters the resolved tool set by keyword.
func (rc *RequestContext) Search(query string, limit int) []domain.ToolDefinition {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	var out []domain.ToolDefinition
	for _, tool := range rc.sorted {
		if tool.Matches(query) {
			out = append(out, tool)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Schema returns one resolved tool's definition.
func (rc *RequestContext) Schema(name string) (domain.ToolDefinition, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	invoker, ok := rc.invokers[name]
	if !ok {
		return domain.ToolDefinition{}, fmt.Errorf("schema %s: %w", name, domain.ErrToolNotFound)
	}
	return invoker.Definition(), nil
}

// Execute runs one tool call, consuming one turn. The call past the
// ceiling fails with ErrTurnLimitExceeded; earlier results stand and
// the context stays queryable.
func (rc *RequestContext) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	rc.mu.RLock()
	state := rc.state
	invoker, ok := rc.invokers[name]
	rc.mu.RUnlock()

	if state != ContextReady {
		return nil, fmt.Errorf("execute %s: %w", name, domain.ErrContextClosed)
	}

	turn := rc.turns.Add(1)
	if turn > rc.maxTurns {
		rc.logger.Warn("turn ceiling reached",
			telemetry.EventField(telemetry.EventTurnLimit),
			zap.Uint32("max_turns", rc.maxTurns))
		return nil, fmt.Errorf("execute %s: turn %d exceeds ceiling %d: %w",
			name, turn, rc.maxTurns, domain.ErrTurnLimitExceeded)
	}

	if !ok {
		return nil, fmt.Errorf("execute %s: %w", name, domain.ErrToolNotFound)
	}

	started := time.Now()
	result, err := invoker.Invoke(ctx, args)
	rc.metrics.ObserveToolCall(invoker.Definition().Origin, time.Since(started), err)
	if err != nil {
		rc.logger.Debug("tool call failed",
			telemetry.ToolField(name),
			telemetry.DurationField(time.Since(started)),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// Close completes the context and drops every tool reference.
// Idempotent.
func (rc *RequestContext) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.state != ContextReady {
		return
	}
	rc.state = ContextCompleted
	rc.invokers = nil
	rc.sorted = nil
}
