package extproc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"opmcpd/internal/domain"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoaderParsesServers(t *testing.T) {
	path := writeConfig(t, "servers.yaml", `
servers:
  - name: github
    command: github-mcp
    args: ["--stdio"]
    auth_method: env_var
    api_key: s3cret
    api_key_env: GITHUB_TOKEN
  - name: local
    command: ./local-tools
settings:
  max_turns: 40
`)

	cfg, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	require.Equal(t, 40, cfg.MaxTurns)
	require.Len(t, cfg.Servers, 2)

	github := cfg.Servers[0]
	require.Equal(t, "github", github.Name)
	require.Equal(t, domain.AuthEnvVar, github.AuthMethod)
	require.Equal(t, "GITHUB_TOKEN", github.ResolvedAPIKeyEnv())
	require.True(t, github.IsEnabled())

	// auth_method defaults to none.
	require.Equal(t, domain.AuthNone, cfg.Servers[1].AuthMethod)
}

func TestLoaderDefaultsMaxTurns(t *testing.T) {
	path := writeConfig(t, "servers.yaml", `
servers:
  - name: a
    command: a-bin
`)
	cfg, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultMaxTurns, cfg.MaxTurns)
}

func TestLoaderExpandsEnv(t *testing.T) {
	t.Setenv("TEST_MCP_KEY", "expanded-key")
	path := writeConfig(t, "servers.yaml", `
servers:
  - name: a
    command: a-bin
    auth_method: bearer_token
    api_key: ${TEST_MCP_KEY}
`)
	cfg, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	require.Equal(t, "expanded-key", cfg.Servers[0].APIKey)
}

func TestLoaderCollectsValidationErrors(t *testing.T) {
	path := writeConfig(t, "servers.yaml", `
servers:
  - name: ""
    command: ""
  - name: dup
    command: ok
  - name: dup
    command: ok
  - name: badauth
    command: ok
    auth_method: kerberos
  - name: envnokey
    command: ok
    auth_method: env_var
  - name: hdrless
    command: ok
    auth_method: custom_header
  - name: nonewithkey
    command: ok
    api_key: leftover
`)
	_, err := NewLoader(nil).Load(path)
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
	require.Contains(t, err.Error(), "servers[0]: name is required")
	require.Contains(t, err.Error(), "servers[0]: command is required")
	require.Contains(t, err.Error(), `duplicate name "dup"`)
	require.Contains(t, err.Error(), "auth_method must be one of")
	require.Contains(t, err.Error(), "api_key is required for auth_method env_var")
	require.Contains(t, err.Error(), "headers are required for auth_method custom_header")
	require.Contains(t, err.Error(), "api_key set but auth_method is none")
}

func TestLoaderAcceptsLegacyKnobs(t *testing.T) {
	path := writeConfig(t, "servers.yaml", `
servers:
  - name: a
    command: a-bin
settings:
  max_loaded_tools: 50
  min_idle_secs: 300
`)
	cfg, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	require.Equal(t, domain.DefaultMaxTurns, cfg.MaxTurns)
}

func TestLoaderRejectsSeparatorInName(t *testing.T) {
	path := writeConfig(t, "servers.yaml", `
servers:
  - name: "bad:name"
    command: ok
`)
	_, err := NewLoader(nil).Load(path)
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoaderJSONConfig(t *testing.T) {
	path := writeConfig(t, "servers.json", `{
  "servers": [
    {"name": "a", "command": "a-bin", "enabled": false}
  ]
}`)
	cfg, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Servers[0].IsEnabled())
}
