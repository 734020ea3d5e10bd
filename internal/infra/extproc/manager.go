package extproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/metacache"
	"opmcpd/internal/infra/telemetry"
)

const (
	defaultRestartAttempts = 3
	defaultBackoffBase     = time.Second
	defaultBackoffMax      = 30 * time.Second
)

// CatalogNotifier is told when the set of reachable servers changes,
// so catalog views drop degraded providers until recovery.
type CatalogNotifier interface {
	Invalidate()
}

// Manager supervises one Client per configured server and routes
// qualified tool calls to them.
type Manager struct {
	launcher Launcher
	logger   *zap.Logger
	metrics  domain.Metrics
	cache    *metacache.Store
	notifier CatalogNotifier

	restartAttempts int
	backoffBase     time.Duration
	backoffMax      time.Duration
	clientOpts      ClientOptions

	mu      sync.RWMutex
	clients map[string]*Client
}

type ManagerOptions struct {
	Launcher Launcher
	Logger   *zap.Logger
	Metrics  domain.Metrics
	Cache    *metacache.Store
	Notifier CatalogNotifier

	RestartAttempts  int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	HandshakeTimeout time.Duration
	HandshakeRetries int
	CallTimeout      time.Duration
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = NewCommandLauncher(CommandLauncherOptions{Logger: logger})
	}
	restartAttempts := opts.RestartAttempts
	if restartAttempts <= 0 {
		restartAttempts = defaultRestartAttempts
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}
	backoffMax := opts.BackoffMax
	if backoffMax <= 0 {
		backoffMax = defaultBackoffMax
	}
	return &Manager{
		launcher:        launcher,
		logger:          logger.Named("extproc"),
		metrics:         metrics,
		cache:           opts.Cache,
		notifier:        opts.Notifier,
		restartAttempts: restartAttempts,
		backoffBase:     backoffBase,
		backoffMax:      backoffMax,
		clientOpts: ClientOptions{
			Launcher:         launcher,
			Logger:           logger,
			HandshakeTimeout: opts.HandshakeTimeout,
			HandshakeRetries: opts.HandshakeRetries,
			CallTimeout:      opts.CallTimeout,
		},
		clients: make(map[string]*Client),
	}
}

// Start spawns every enabled server. One server failing to come up
// never takes the others down; it is logged and left degraded.
func (m *Manager) Start(ctx context.Context, configs []domain.ServerConfig) error {
	for _, cfg := range configs {
		if !cfg.IsEnabled() {
			m.logger.Info("server disabled, skipping", telemetry.ServerField(cfg.Name))
			continue
		}
		if err := m.startServer(ctx, cfg); err != nil {
			m.logger.Error("server failed to start",
				telemetry.ServerField(cfg.Name),
				zap.Error(err))
		}
	}
	m.invalidateCatalog()
	return nil
}

func (m *Manager) startServer(ctx context.Context, cfg domain.ServerConfig) error {
	client := NewClient(cfg, m.clientOpts)

	m.mu.Lock()
	if _, exists := m.clients[cfg.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("server %q already running", cfg.Name)
	}
	m.clients[cfg.Name] = client
	m.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		return err
	}
	m.persistTools(client)
	return nil
}

// Reload diffs the new config set against the running one: removed
// servers stop, added servers spawn. Unchanged servers keep running.
func (m *Manager) Reload(ctx context.Context, configs []domain.ServerConfig) {
	desired := make(map[string]domain.ServerConfig, len(configs))
	for _, cfg := range configs {
		if cfg.IsEnabled() {
			desired[cfg.Name] = cfg
		}
	}

	m.mu.Lock()
	var removed []*Client
	for name, client := range m.clients {
		if _, keep := desired[name]; !keep {
			removed = append(removed, client)
			delete(m.clients, name)
		}
	}
	running := make(map[string]bool, len(m.clients))
	for name := range m.clients {
		running[name] = true
	}
	m.mu.Unlock()

	for _, client := range removed {
		m.logger.Info("stopping removed server",
			telemetry.EventField(telemetry.EventConfigReload),
			telemetry.ServerField(client.Name()))
		if err := client.Stop(ctx); err != nil {
			m.logger.Warn("stop failed", telemetry.ServerField(client.Name()), zap.Error(err))
		}
		if m.cache != nil {
			_ = m.cache.Delete(client.Name())
		}
	}
	for name, cfg := range desired {
		if running[name] {
			continue
		}
		m.logger.Info("starting added server",
			telemetry.EventField(telemetry.EventConfigReload),
			telemetry.ServerField(name))
		if err := m.startServer(ctx, cfg); err != nil {
			m.logger.Error("added server failed to start",
				telemetry.ServerField(name), zap.Error(err))
		}
	}
	m.invalidateCatalog()
}

// CallTool routes a qualified `server:tool` call. A dead process gets
// one bounded restart-and-retry before the error surfaces.
func (m *Manager) CallTool(ctx context.Context, qualified string, args json.RawMessage) (json.RawMessage, error) {
	server, tool, ok := domain.SplitQualifiedName(qualified)
	if !ok {
		return nil, fmt.Errorf("call %q: %w", qualified, domain.ErrToolNotFound)
	}
	client := m.client(server)
	if client == nil {
		return nil, fmt.Errorf("call %q: %w", qualified, domain.ErrServerNotFound)
	}

	started := time.Now()
	result, err := client.Call(ctx, tool, args)
	if err != nil && processDied(err) {
		if restartErr := m.restart(ctx, client); restartErr != nil {
			m.metrics.ObserveRoute(server, time.Since(started), err)
			return nil, fmt.Errorf("call %q: %w", qualified, err)
		}
		result, err = client.Call(ctx, tool, args)
	}
	m.metrics.ObserveRoute(server, time.Since(started), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// processDied reports whether a call error means the child is gone,
// as opposed to the tool itself failing.
func processDied(err error) bool {
	return errors.Is(err, domain.ErrProcessDead) || errors.Is(err, domain.ErrConnectionClosed)
}

// restart replaces the dead process behind a client, with exponential
// backoff between bounded attempts.
func (m *Manager) restart(ctx context.Context, client *Client) error {
	_ = client.Stop(ctx)
	m.invalidateCatalog()

	wait := newBackoff(m.backoffBase, m.backoffMax)
	var lastErr error
	for attempt := 1; attempt <= m.restartAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Info("restarting server",
			telemetry.EventField(telemetry.EventRestartAttempt),
			telemetry.ServerField(client.Name()),
			zap.Int("attempt", attempt))

		err := client.Start(ctx)
		m.metrics.ObserveRestart(client.Name(), err)
		if err == nil {
			m.persistTools(client)
			m.invalidateCatalog()
			return nil
		}
		lastErr = err
		wait.Sleep(ctx)
	}
	m.logger.Error("giving up on server",
		telemetry.EventField(telemetry.EventRestartGiveUp),
		telemetry.ServerField(client.Name()),
		zap.Error(lastErr))
	return fmt.Errorf("restart %s: %w", client.Name(), lastErr)
}

// Tools aggregates cached tool lists from every ready client. A
// degraded provider contributes nothing until it recovers, but its
// last-known list stays in the metadata cache.
func (m *Manager) Tools() []domain.ToolDefinition {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].Name() < clients[j].Name() })

	var out []domain.ToolDefinition
	for _, client := range clients {
		if client.State() != domain.StateReady {
			continue
		}
		out = append(out, client.Tools()...)
	}
	return out
}

// ToolsFor returns the cached list for one server, falling back to
// the metadata cache when the process has not finished its first
// refresh.
func (m *Manager) ToolsFor(server string) ([]domain.ToolDefinition, error) {
	client := m.client(server)
	if client == nil {
		return nil, fmt.Errorf("tools for %q: %w", server, domain.ErrServerNotFound)
	}
	tools := client.Tools()
	if len(tools) > 0 || m.cache == nil {
		return tools, nil
	}
	cached, ok, err := m.cache.GetTools(server)
	if err != nil || !ok {
		return tools, nil
	}
	return cached, nil
}

// States reports the lifecycle state of every managed server.
func (m *Manager) States() map[string]domain.ClientState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ClientState, len(m.clients))
	for name, client := range m.clients {
		out[name] = client.State()
	}
	return out
}

// StopAll tears every process down. Deterministic: every stop runs,
// errors are collected, and the client map ends empty.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var errs []error
	for _, client := range clients {
		if err := client.Stop(ctx); err != nil {
			m.logger.Warn("stop failed",
				telemetry.EventField(telemetry.EventStopFailure),
				telemetry.ServerField(client.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", client.Name(), err))
			continue
		}
		m.logger.Info("server stopped",
			telemetry.EventField(telemetry.EventStopSuccess),
			telemetry.ServerField(client.Name()))
	}
	return errors.Join(errs...)
}

func (m *Manager) client(name string) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[name]
}

func (m *Manager) persistTools(client *Client) {
	if m.cache == nil {
		return
	}
	tools := client.Tools()
	if len(tools) == 0 {
		return
	}
	if err := m.cache.PutTools(client.Name(), tools); err != nil {
		m.logger.Warn("persist tool list failed",
			telemetry.ServerField(client.Name()), zap.Error(err))
	}
}

func (m *Manager) invalidateCatalog() {
	if m.notifier != nil {
		m.notifier.Invalidate()
	}
}
