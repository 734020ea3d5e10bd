package domain

// AuthMethod selects how credentials reach an external server process.
// Methods are mutually exclusive per server.
type AuthMethod string

const (
	AuthNone         AuthMethod = "none"
	AuthEnvVar       AuthMethod = "env_var"
	AuthBearerToken  AuthMethod = "bearer_token"
	AuthCustomHeader AuthMethod = "custom_header"
)

// DefaultAPIKeyEnv is the child environment variable used by the
// env_var auth method when the config names none.
const DefaultAPIKeyEnv = "API_KEY"

// DefaultMaxTurns is the per-context tool-call ceiling applied when
// the config names none.
const DefaultMaxTurns = 75

// ServerConfig declares one external subprocess-hosted server.
// Configs are read-only after load; changing the server set happens
// through whole-set hot reload, never in-place mutation.
type ServerConfig struct {
	Name       string            `json:"name" mapstructure:"name"`
	Command    string            `json:"command" mapstructure:"command"`
	Args       []string          `json:"args,omitempty" mapstructure:"args"`
	Env        map[string]string `json:"env,omitempty" mapstructure:"env"`
	APIKey     string            `json:"api_key,omitempty" mapstructure:"api_key"`
	APIKeyEnv  string            `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	AuthMethod AuthMethod        `json:"auth_method,omitempty" mapstructure:"auth_method"`
	Headers    map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Enabled    *bool             `json:"enabled,omitempty" mapstructure:"enabled"`
}

// IsEnabled treats a missing enabled field as true.
func (c ServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ResolvedAPIKeyEnv returns the child env variable name for env_var auth.
func (c ServerConfig) ResolvedAPIKeyEnv() string {
	if c.APIKeyEnv != "" {
		return c.APIKeyEnv
	}
	return DefaultAPIKeyEnv
}

// ClientState tracks an external process handle through its lifecycle.
type ClientState string

const (
	StateSpawned     ClientState = "spawned"
	StateHandshaking ClientState = "handshaking"
	StateReady       ClientState = "ready"
	StateDegraded    ClientState = "degraded"
	StateStopped     ClientState = "stopped"
)
