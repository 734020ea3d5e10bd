package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"opmcpd/internal/domain"
)

func TestDefaultRosterPriorityOrder(t *testing.T) {
	roster := DefaultRoster()

	privileged := roster.Privileged()
	require.Len(t, privileged, 5)

	wantOrder := []string{"rust_pro", "backend_architect", "sequential_thinking", "memory", "context_manager"}
	for i, agent := range privileged {
		require.Equal(t, wantOrder[i], agent.ID)
	}
	require.Equal(t, 100, privileged[0].Priority)

	// On-demand agents never appear in the privileged set.
	for _, agent := range privileged {
		require.True(t, agent.RunOnConnection)
	}
}

func TestRosterLookup(t *testing.T) {
	roster := DefaultRoster()

	agent, ok := roster.Lookup("debugger")
	require.True(t, ok)
	require.False(t, agent.RunOnConnection)
	require.Equal(t, 70, agent.Priority)

	_, ok = roster.Lookup("nonexistent")
	require.False(t, ok)
}

func TestLocalExecutorLifecycle(t *testing.T) {
	exec := NewLocalExecutor(LocalExecutorOptions{})
	ctx := context.Background()

	require.False(t, exec.Running("memory"))
	require.NoError(t, exec.StartAgent(ctx, "memory"))
	require.True(t, exec.Running("memory"))

	// Idempotent start.
	require.NoError(t, exec.StartAgent(ctx, "memory"))

	require.NoError(t, exec.StopAgent(ctx, "memory"))
	require.False(t, exec.Running("memory"))

	require.ErrorIs(t, exec.StartAgent(ctx, "ghost"), domain.ErrAgentNotFound)
}

func TestLocalExecutorDispatchesHandlers(t *testing.T) {
	exec := NewLocalExecutor(LocalExecutorOptions{})
	exec.Handle("memory", "store", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"stored":true}`), nil
	})

	result, err := exec.Execute(context.Background(), "memory", "store", json.RawMessage(`{"k":"v"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"stored":true}`, string(result))

	// Lazy start on first execute.
	require.True(t, exec.Running("memory"))

	_, err = exec.Execute(context.Background(), "memory", "defragment", nil)
	require.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = exec.Execute(context.Background(), "memory", "recall", nil)
	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, domain.CodeUnavailable, domainErr.Code)
}

func TestToolSourcePublishesAgentTools(t *testing.T) {
	source := NewToolSource(nil)

	tools, err := source.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 11)

	byName := map[string]domain.ToolDefinition{}
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	def, ok := byName["agent_memory"]
	require.True(t, ok)
	require.Equal(t, domain.OriginAgent, def.Origin)
	require.Contains(t, string(def.InputSchema), `"enum"`)

	id, ok := AgentIDFromTool("agent_sequential_thinking")
	require.True(t, ok)
	require.Equal(t, "sequential_thinking", id)

	_, ok = AgentIDFromTool("not_an_agent")
	require.False(t, ok)
}
