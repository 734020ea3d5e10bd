package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/protocol"
)

func newTestApp(t *testing.T, opts Options) *App {
	t.Helper()
	application, err := New(opts)
	require.NoError(t, err)
	return application
}

func openSession(t *testing.T, application *App) *protocol.Session {
	t.Helper()
	sess, err := application.Protocol().OpenSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		application.Protocol().CloseSession(context.Background(), sess)
	})
	return sess
}

func rpcCall(t *testing.T, application *App, sess *protocol.Session, method string, params string) domain.Response {
	t.Helper()
	req := domain.Request{
		JSONRPC: domain.JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  method,
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	resp, ok := application.Protocol().Handle(context.Background(), sess, req)
	require.True(t, ok)
	return resp
}

func TestCatalogCarriesBuiltinAndAgentTools(t *testing.T) {
	application := newTestApp(t, Options{Mode: protocol.ModeFull})
	sess := openSession(t, application)

	resp := rpcCall(t, application, sess, "tools/list", "")
	require.Nil(t, resp.Error)

	var page domain.Page
	require.NoError(t, json.Unmarshal(resp.Result, &page))

	names := make(map[string]domain.ToolOrigin, page.Total)
	for _, tool := range page.Tools {
		names[tool.Name] = tool.Origin
	}
	require.Equal(t, domain.OriginBuiltin, names["engine_status"])
	require.Equal(t, domain.OriginBuiltin, names["engine_sources"])
	require.Equal(t, domain.OriginBuiltin, names["suggest_tools"])
	require.Equal(t, domain.OriginAgent, names["agent_rust_pro"])
	require.Equal(t, domain.OriginAgent, names["agent_debugger"])
}

func TestDisableAgentsDropsAgentTools(t *testing.T) {
	application := newTestApp(t, Options{Mode: protocol.ModeFull, DisableAgents: true})
	sess := openSession(t, application)

	resp := rpcCall(t, application, sess, "tools/list", "")
	require.Nil(t, resp.Error)

	var page domain.Page
	require.NoError(t, json.Unmarshal(resp.Result, &page))
	for _, tool := range page.Tools {
		require.NotEqual(t, domain.OriginAgent, tool.Origin, tool.Name)
	}
	require.Greater(t, page.Total, 0)
}

func TestEngineStatusTool(t *testing.T) {
	application := newTestApp(t, Options{Mode: protocol.ModeFull})
	sess := openSession(t, application)

	resp := rpcCall(t, application, sess, "tools/call", `{"name":"engine_status"}`)
	require.Nil(t, resp.Error)

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)

	var status struct {
		Mode         string `json:"mode"`
		CatalogTools int    `json:"catalog_tools"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &status))
	require.Equal(t, "full", status.Mode)
	require.Greater(t, status.CatalogTools, 0)
}

func TestSuggestToolsScoresDiagnostics(t *testing.T) {
	application := newTestApp(t, Options{Mode: protocol.ModeFull})
	sess := openSession(t, application)

	resp := rpcCall(t, application, sess, "tools/call",
		`{"name":"suggest_tools","arguments":{"domains":["diagnostics"],"intent":"debug"}}`)
	require.Nil(t, resp.Error)

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))

	var payload struct {
		Suggestions []struct {
			Category   string `json:"category"`
			Confidence int    `json:"confidence"`
			AutoEnable bool   `json:"auto_enable"`
		} `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	require.NotEmpty(t, payload.Suggestions)
	require.Equal(t, "diagnostics", payload.Suggestions[0].Category)
	require.True(t, payload.Suggestions[0].AutoEnable)
}

func TestCompactModeEndToEnd(t *testing.T) {
	application := newTestApp(t, Options{Mode: protocol.ModeCompact})
	sess := openSession(t, application)

	resp := rpcCall(t, application, sess, "tools/list", "")
	require.Nil(t, resp.Error)
	var page domain.Page
	require.NoError(t, json.Unmarshal(resp.Result, &page))
	require.Equal(t, 4, page.Total)

	resp = rpcCall(t, application, sess, "tools/call",
		`{"name":"execute_tool","arguments":{"name":"engine_sources"}}`)
	require.Nil(t, resp.Error)
	require.True(t, strings.Contains(string(resp.Result), "builtin"))
}

func TestNewRejectsInvalidServerConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers:\n  - name: \"\"\n    command: run\n"), 0o644))

	_, err := New(Options{Mode: protocol.ModeFull, ServersPath: path})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestValidateConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"servers:\n  - name: github\n    command: github-tools\n    auth:\n      method: none\n"), 0o644))

	require.NoError(t, ValidateConfig(path, nil))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("servers:\n  - command: run\n"), 0o644))
	require.Error(t, ValidateConfig(bad, nil))
}
