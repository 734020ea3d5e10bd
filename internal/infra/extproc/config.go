package extproc

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"opmcpd/internal/domain"
)

// Config is the loaded external-server configuration plus engine
// settings carried in the same file.
type Config struct {
	Servers  []domain.ServerConfig
	MaxTurns int
}

type rawConfig struct {
	Servers  []domain.ServerConfig `mapstructure:"servers"`
	Settings rawSettings           `mapstructure:"settings"`
}

type rawSettings struct {
	MaxTurns int `mapstructure:"max_turns"`

	// Legacy knobs from the on-demand loading era. Accepted so old
	// configs keep parsing, warned about, and otherwise ignored.
	MaxLoadedTools int `mapstructure:"max_loaded_tools"`
	MinIdleSecs    int `mapstructure:"min_idle_secs"`
}

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("config")}
}

// Load parses, env-expands, normalizes, and validates the server
// config file. Validation failures are collected and reported in one
// error so a bad file surfaces every problem at once.
func (l *Loader) Load(path string) (Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(payload))

	v := viper.New()
	v.SetConfigType(configTypeFor(path))
	v.SetDefault("settings.max_turns", domain.DefaultMaxTurns)
	if err := v.ReadConfig(strings.NewReader(expanded)); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %s", domain.ErrConfigInvalid, path, err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("%w: decode %s: %s", domain.ErrConfigInvalid, path, err)
	}

	if raw.Settings.MaxLoadedTools != 0 {
		l.logger.Warn("max_loaded_tools is ignored: tools load per request, not on demand",
			zap.Int("max_loaded_tools", raw.Settings.MaxLoadedTools))
	}
	if raw.Settings.MinIdleSecs != 0 {
		l.logger.Warn("min_idle_secs is ignored: request contexts never idle out",
			zap.Int("min_idle_secs", raw.Settings.MinIdleSecs))
	}

	servers := make([]domain.ServerConfig, len(raw.Servers))
	for i, server := range raw.Servers {
		servers[i] = normalizeServer(server)
	}

	var validationErrors []string
	seen := make(map[string]bool)
	for i, server := range servers {
		if server.Name != "" && seen[server.Name] {
			validationErrors = append(validationErrors,
				fmt.Sprintf("servers[%d]: duplicate name %q", i, server.Name))
		}
		seen[server.Name] = true
		validationErrors = append(validationErrors, validateServer(server, i)...)
	}
	if len(validationErrors) > 0 {
		return Config{}, fmt.Errorf("%w: %s", domain.ErrConfigInvalid, strings.Join(validationErrors, "; "))
	}

	maxTurns := raw.Settings.MaxTurns
	if maxTurns <= 0 {
		maxTurns = domain.DefaultMaxTurns
	}
	return Config{Servers: servers, MaxTurns: maxTurns}, nil
}

func configTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "json"
	case strings.HasSuffix(path, ".toml"):
		return "toml"
	default:
		return "yaml"
	}
}

func normalizeServer(server domain.ServerConfig) domain.ServerConfig {
	server.Name = strings.TrimSpace(server.Name)
	server.Command = strings.TrimSpace(server.Command)
	if server.AuthMethod == "" {
		server.AuthMethod = domain.AuthNone
	}
	return server
}

func validateServer(server domain.ServerConfig, index int) []string {
	var errs []string
	if server.Name == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: name is required", index))
	}
	if strings.Contains(server.Name, domain.QualifiedNameSeparator) {
		errs = append(errs, fmt.Sprintf("servers[%d]: name must not contain %q", index, domain.QualifiedNameSeparator))
	}
	if server.Command == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: command is required", index))
	}
	switch server.AuthMethod {
	case domain.AuthNone:
		if server.APIKey != "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: api_key set but auth_method is none", index))
		}
		if len(server.Headers) > 0 {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers set but auth_method is none", index))
		}
	case domain.AuthEnvVar, domain.AuthBearerToken:
		if server.APIKey == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: api_key is required for auth_method %s", index, server.AuthMethod))
		}
		if len(server.Headers) > 0 {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers are exclusive to auth_method custom_header", index))
		}
	case domain.AuthCustomHeader:
		if len(server.Headers) == 0 {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers are required for auth_method custom_header", index))
		}
		if server.APIKey != "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: api_key is exclusive to env_var and bearer_token auth", index))
		}
	default:
		errs = append(errs, fmt.Sprintf("servers[%d]: auth_method must be one of none, env_var, bearer_token, custom_header", index))
	}
	return errs
}

// Validate loads the file and reports only whether it is usable.
func (l *Loader) Validate(path string) error {
	cfg, err := l.Load(path)
	if err != nil {
		return err
	}
	if len(cfg.Servers) == 0 {
		l.logger.Warn("config has no servers", zap.String("path", path))
	}
	return nil
}
