package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"opmcpd/internal/infra/discovery"
	"opmcpd/internal/infra/registry"
)

type fakeExecutor struct {
	mu      sync.Mutex
	started []string
	stopped []string
	running map[string]bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{running: make(map[string]bool)}
}

func (e *fakeExecutor) StartAgent(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, id)
	e.running[id] = true
	return nil
}

func (e *fakeExecutor) StopAgent(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, id)
	delete(e.running, id)
	return nil
}

func (e *fakeExecutor) Execute(context.Context, string, string, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (e *fakeExecutor) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running[id]
}

func TestAgentsModeRunsPrivilegedRosterForSessionLifetime(t *testing.T) {
	executor := newFakeExecutor()
	system := discovery.NewSystem(discovery.SystemOptions{})
	require.NoError(t, system.Register(discovery.NewBuiltinSource("core", "", nil)))

	reg := registry.New(registry.Options{Discovery: system, Executor: executor})
	server := NewServer(ServerOptions{Registry: reg, Mode: ModeAgents})

	sess, err := server.OpenSession(context.Background())
	require.NoError(t, err)

	want := []string{"rust_pro", "backend_architect", "sequential_thinking", "memory", "context_manager"}
	require.Equal(t, want, executor.started)

	// Agents mode still serves the compact surface.
	resp := call(t, server, sess, "tools/list", nil)
	require.Nil(t, resp.Error)

	server.CloseSession(context.Background(), sess)
	require.Equal(t,
		[]string{"context_manager", "memory", "sequential_thinking", "backend_architect", "rust_pro"},
		executor.stopped)
}
