package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/discovery"
)

func echoInvoker(name, category string) domain.Invoker {
	return domain.InvokerFunc{
		Def: domain.ToolDefinition{Name: name, Origin: domain.OriginBuiltin, Category: category},
		Fn: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(fmt.Sprintf(`{"tool":%q}`, name)), nil
		},
	}
}

func newTestRegistry(t *testing.T, maxTurns int, invokers ...domain.Invoker) *Registry {
	t.Helper()

	defs := make([]domain.ToolDefinition, len(invokers))
	for i, invoker := range invokers {
		defs[i] = invoker.Definition()
	}
	system := discovery.NewSystem(discovery.SystemOptions{})
	require.NoError(t, system.Register(discovery.NewBuiltinSource("core", "test tools", defs)))
	_, err := system.Refresh(context.Background())
	require.NoError(t, err)

	registry := New(Options{Discovery: system, MaxTurns: maxTurns})
	for _, invoker := range invokers {
		registry.RegisterHandler(invoker)
	}
	return registry
}

func TestRequestContextResolvesAllToolsAtCreation(t *testing.T) {
	registry := newTestRegistry(t, 0, echoInvoker("alpha", "a"), echoInvoker("beta", "b"))

	rc, err := registry.NewRequestContext(context.Background())
	require.NoError(t, err)
	defer registry.Release(rc)

	require.Equal(t, 2, rc.ToolCount())
	require.Equal(t, domain.DefaultMaxTurns, rc.MaxTurns())
	require.Equal(t, ContextReady, rc.State())

	result, err := rc.Execute(context.Background(), "alpha", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"tool":"alpha"}`, string(result))
}

func TestRequestContextTurnCeiling(t *testing.T) {
	registry := newTestRegistry(t, 75, echoInvoker("echo", ""))

	rc, err := registry.NewRequestContext(context.Background())
	require.NoError(t, err)
	defer registry.Release(rc)

	for i := 0; i < 75; i++ {
		_, err := rc.Execute(context.Background(), "echo", nil)
		require.NoError(t, err, "call %d within ceiling must succeed", i+1)
	}

	// The 76th call fails; the context itself stays queryable.
	_, err = rc.Execute(context.Background(), "echo", nil)
	require.ErrorIs(t, err, domain.ErrTurnLimitExceeded)
	require.Equal(t, ContextReady, rc.State())
	require.Equal(t, 1, rc.List(0, 0, "").Total)
}

func TestRequestContextUnknownTool(t *testing.T) {
	registry := newTestRegistry(t, 10, echoInvoker("echo", ""))

	rc, err := registry.NewRequestContext(context.Background())
	require.NoError(t, err)
	defer registry.Release(rc)

	_, err = rc.Execute(context.Background(), "missing", nil)
	require.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestRequestContextCloseStopsExecution(t *testing.T) {
	registry := newTestRegistry(t, 10, echoInvoker("echo", ""))

	rc, err := registry.NewRequestContext(context.Background())
	require.NoError(t, err)

	registry.Release(rc)
	require.Equal(t, ContextCompleted, rc.State())

	_, err = rc.Execute(context.Background(), "echo", nil)
	require.ErrorIs(t, err, domain.ErrContextClosed)
}

func TestConcurrentContextsAreIsolated(t *testing.T) {
	registry := newTestRegistry(t, 5, echoInvoker("echo", ""))

	first, err := registry.NewRequestContext(context.Background())
	require.NoError(t, err)
	defer registry.Release(first)

	second, err := registry.NewRequestContext(context.Background())
	require.NoError(t, err)
	defer registry.Release(second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = first.Execute(context.Background(), "echo", nil)
		}()
	}
	wg.Wait()

	// Exhausting the first budget leaves the second untouched.
	_, err = first.Execute(context.Background(), "echo", nil)
	require.ErrorIs(t, err, domain.ErrTurnLimitExceeded)

	_, err = second.Execute(context.Background(), "echo", nil)
	require.NoError(t, err)
	require.Equal(t, 1, second.Turns())
}

func TestRequestContextListAndSearch(t *testing.T) {
	registry := newTestRegistry(t, 10,
		echoInvoker("net_status", "networking"),
		echoInvoker("disk_usage", "storage"),
		echoInvoker("net_config", "networking"),
	)

	rc, err := registry.NewRequestContext(context.Background())
	require.NoError(t, err)
	defer registry.Release(rc)

	page := rc.List(0, 2, "")
	require.Equal(t, 3, page.Total)
	require.True(t, page.HasMore)
	require.Equal(t, "disk_usage", page.Tools[0].Name)

	networking := rc.List(0, 0, "networking")
	require.Equal(t, 2, networking.Total)

	hits := rc.Search("net", 0)
	require.Len(t, hits, 2)

	def, err := rc.Schema("disk_usage")
	require.NoError(t, err)
	require.Equal(t, "storage", def.Category)
}
