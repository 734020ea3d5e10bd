package extproc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opmcpd/internal/domain"
)

// handlerFunc scripts one fake server's reply to a decoded request.
// Returning respond=false drops the request on the floor.
type handlerFunc func(method string, params json.RawMessage) (result any, respond bool)

type fakeProcess struct {
	reader io.ReadCloser
	writer io.WriteCloser

	writeMu sync.Mutex
	handler handlerFunc

	killOnce sync.Once
}

func (p *fakeProcess) run() {
	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if len(req.ID) == 0 {
			continue
		}
		result, respond := p.handler(req.Method, req.Params)
		if !respond {
			continue
		}
		raw, err := json.Marshal(result)
		if err != nil {
			continue
		}
		p.writeMu.Lock()
		fmt.Fprintf(p.writer, `{"jsonrpc":"2.0","id":%s,"result":%s}`+"\n", req.ID, raw)
		p.writeMu.Unlock()
	}
}

// notify pushes an unsolicited notification frame to the client.
func (p *fakeProcess) notify(method string) {
	p.writeMu.Lock()
	fmt.Fprintf(p.writer, `{"jsonrpc":"2.0","method":%q}`+"\n", method)
	p.writeMu.Unlock()
}

// kill simulates a process crash by closing both streams.
func (p *fakeProcess) kill() {
	p.killOnce.Do(func() {
		_ = p.writer.Close()
		_ = p.reader.Close()
	})
}

type fakeLauncher struct {
	mu         sync.Mutex
	starts     int
	newHandler func(instance int) handlerFunc
	processes  []*fakeProcess
}

func (l *fakeLauncher) Start(_ context.Context, _ domain.ServerConfig) (domain.IOStreams, domain.StopFn, error) {
	l.mu.Lock()
	l.starts++
	instance := l.starts
	l.mu.Unlock()

	toServerR, toServerW := io.Pipe()
	fromServerR, fromServerW := io.Pipe()

	proc := &fakeProcess{
		reader:  toServerR,
		writer:  fromServerW,
		handler: l.newHandler(instance),
	}
	go proc.run()

	l.mu.Lock()
	l.processes = append(l.processes, proc)
	l.mu.Unlock()

	stop := func(context.Context) error {
		proc.kill()
		return nil
	}
	return domain.IOStreams{Reader: fromServerR, Writer: toServerW}, stop, nil
}

func (l *fakeLauncher) startCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts
}

func (l *fakeLauncher) latest() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.processes) == 0 {
		return nil
	}
	return l.processes[len(l.processes)-1]
}

func initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": domain.ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": "fake", "version": "0.0.1"},
	}
}

func toolListResult(names ...string) map[string]any {
	tools := make([]map[string]any, 0, len(names))
	for _, name := range names {
		tools = append(tools, map[string]any{
			"name":        name,
			"description": "does " + name,
			"inputSchema": map[string]any{"type": "object"},
		})
	}
	return map[string]any{"tools": tools}
}

func echoHandler(toolNames ...string) handlerFunc {
	return func(method string, params json.RawMessage) (any, bool) {
		switch method {
		case "initialize":
			return initializeResult(), true
		case "tools/list":
			return toolListResult(toolNames...), true
		case "tools/call":
			var call struct {
				Name string `json:"name"`
			}
			_ = json.Unmarshal(params, &call)
			return map[string]any{
				"content": []map[string]any{{"type": "text", "text": "ran " + call.Name}},
			}, true
		default:
			return nil, false
		}
	}
}

func newEchoLauncher(toolNames ...string) *fakeLauncher {
	return &fakeLauncher{
		newHandler: func(int) handlerFunc { return echoHandler(toolNames...) },
	}
}

func startedClient(t *testing.T, launcher Launcher, cfg domain.ServerConfig) *Client {
	t.Helper()
	client := NewClient(cfg, ClientOptions{
		Launcher:         launcher,
		HandshakeTimeout: 2 * time.Second,
		CallTimeout:      2 * time.Second,
	})
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })
	return client
}

func TestClientStartNamespacesTools(t *testing.T) {
	names := make([]string, 15)
	for i := range names {
		names[i] = fmt.Sprintf("tool_%02d", i)
	}
	launcher := newEchoLauncher(names...)
	client := startedClient(t, launcher, domain.ServerConfig{Name: "github", Command: "fake"})

	require.Equal(t, domain.StateReady, client.State())

	tools := client.Tools()
	require.Len(t, tools, 15)
	for _, tool := range tools {
		require.Contains(t, tool.Name, "github:")
		require.Contains(t, tool.Description, "[github] ")
		require.Equal(t, domain.OriginExternal, tool.Origin)
	}
}

func TestClientCallCorrelatesAcrossNotifications(t *testing.T) {
	launcher := newEchoLauncher("create_issue")
	client := startedClient(t, launcher, domain.ServerConfig{Name: "github", Command: "fake"})

	// Unsolicited frames must not be mistaken for the call response.
	launcher.latest().notify("notifications/tools/list_changed")

	result, err := client.Call(context.Background(), "create_issue", json.RawMessage(`{"title":"hi"}`))
	require.NoError(t, err)
	require.Contains(t, string(result), "ran create_issue")
}

func TestClientCallWhenDeadReturnsProcessDead(t *testing.T) {
	launcher := newEchoLauncher("create_issue")
	client := startedClient(t, launcher, domain.ServerConfig{Name: "github", Command: "fake"})

	launcher.latest().kill()

	_, err := client.Call(context.Background(), "create_issue", nil)
	require.Error(t, err)
	require.Equal(t, domain.StateDegraded, client.State())

	// Subsequent calls fail fast with the typed error.
	_, err = client.Call(context.Background(), "create_issue", nil)
	require.ErrorIs(t, err, domain.ErrProcessDead)
}

func TestClientHandshakeRetriesThenFails(t *testing.T) {
	launcher := &fakeLauncher{
		newHandler: func(int) handlerFunc {
			// Never answers initialize.
			return func(string, json.RawMessage) (any, bool) { return nil, false }
		},
	}
	client := NewClient(domain.ServerConfig{Name: "mute", Command: "fake"}, ClientOptions{
		Launcher:         launcher,
		HandshakeTimeout: 50 * time.Millisecond,
		HandshakeRetries: 3,
		CallTimeout:      time.Second,
	})

	err := client.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrHandshakeTimeout)
	require.Equal(t, domain.StateStopped, client.State())
	require.Equal(t, 3, launcher.startCount())
}

func TestClientStopIsIdempotent(t *testing.T) {
	launcher := newEchoLauncher("a")
	client := startedClient(t, launcher, domain.ServerConfig{Name: "s", Command: "fake"})

	require.NoError(t, client.Stop(context.Background()))
	require.NoError(t, client.Stop(context.Background()))
	require.Equal(t, domain.StateStopped, client.State())
}

func TestClientEnvVarAuthInjectsKey(t *testing.T) {
	cfg := domain.ServerConfig{
		Name:       "github",
		Command:    "fake",
		AuthMethod: domain.AuthEnvVar,
		APIKey:     "s3cret",
	}
	env := childEnv(cfg)
	require.Equal(t, "s3cret", env[domain.DefaultAPIKeyEnv])

	cfg.APIKeyEnv = "GITHUB_TOKEN"
	env = childEnv(cfg)
	require.Equal(t, "s3cret", env["GITHUB_TOKEN"])
	_, hasDefault := env[domain.DefaultAPIKeyEnv]
	require.False(t, hasDefault)
}

func TestChildEnvLeavesHeaderAuthAlone(t *testing.T) {
	cfg := domain.ServerConfig{
		Name:       "search",
		Command:    "fake",
		AuthMethod: domain.AuthCustomHeader,
		Headers:    map[string]string{"X-Api-Key": "k"},
		Env:        map[string]string{"HOME": "/tmp"},
	}
	env := childEnv(cfg)
	require.Equal(t, map[string]string{"HOME": "/tmp"}, env)
}
